package camops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeMax checks that a normalised non-degenerate map peaks just below one
// and never exceeds it.
//
// Arguments:
//   - t: Testing context for assertions and error reporting.
func TestNormalizeMax(t *testing.T) {
	tests := []struct {
		name string
		rows [][]float32
	}{
		{"single peak", [][]float32{{0, 0, 0}, {0, 4, 0}, {0, 0, 0}}},
		{"uniform", [][]float32{{2, 2}, {2, 2}}},
		{"large values", [][]float32{{1000, 250}, {3, 999}}},
		{"tiny values", [][]float32{{0.01, 0.002}, {0.005, 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MapFromRows(tt.rows).NormalizeMax()
			peak := m.Max()
			assert.LessOrEqual(t, peak, float32(1))
			assert.InDelta(t, 1.0, peak, 2e-3)
			for _, v := range m.Data {
				assert.LessOrEqual(t, v, float32(1))
			}
		})
	}
}

// TestNormalizeMaxZeroMap checks that an all-zero map stays zero.
func TestNormalizeMaxZeroMap(t *testing.T) {
	m := NewMap(4, 3).NormalizeMax()
	for _, v := range m.Data {
		assert.Zero(t, v)
	}
}

// TestNormalizeMinMax checks the Grad-CAM scaling onto [0, 1].
func TestNormalizeMinMax(t *testing.T) {
	m := MapFromRows([][]float32{{-2, 0}, {2, 6}}).NormalizeMinMax()
	assert.InDelta(t, 0.0, m.At(0, 0), 1e-6)
	assert.InDelta(t, 0.25, m.At(1, 0), 1e-6)
	assert.InDelta(t, 1.0, m.At(1, 1), 1e-6)
}

// TestFlipHorizontal checks mirroring and that flipping twice is the identity.
func TestFlipHorizontal(t *testing.T) {
	m := MapFromRows([][]float32{{1, 2, 3}, {4, 5, 6}})
	f := m.FlipHorizontal()
	assert.Equal(t, []float32{3, 2, 1, 6, 5, 4}, f.Data)
	assert.Equal(t, m.Data, f.FlipHorizontal().Data)
}

// TestCrop checks the top-left window and the out-of-bounds failure.
func TestCrop(t *testing.T) {
	m := MapFromRows([][]float32{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}})

	c, err := m.Crop(2, 2)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 4, 5}, c.Data)

	_, err = m.Crop(4, 1)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

// TestStackDenseRoundTrip checks that a stack packs into [C,H,W] and back unchanged.
func TestStackDenseRoundTrip(t *testing.T) {
	s := Stack{
		MapFromRows([][]float32{{1, 2, 3}, {4, 5, 6}}),
		MapFromRows([][]float32{{7, 8, 9}, {10, 11, 12}}),
	}
	d, err := s.Dense()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 3}, []int(d.Shape()))

	back, err := StackFromDense(d)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, s[0].Data, back[0].Data)
	assert.Equal(t, s[1].Data, back[1].Data)
}

// TestStackValidate checks the empty and ragged stack failures.
func TestStackValidate(t *testing.T) {
	assert.ErrorIs(t, Stack{}.Validate(), ErrShapeMismatch)
	assert.ErrorIs(t, Stack{NewMap(2, 2), NewMap(3, 2)}.Validate(), ErrShapeMismatch)
	assert.NoError(t, Stack{NewMap(2, 2), NewMap(2, 2)}.Validate())
}

// TestAddInPlace checks accumulation and the shape guard.
func TestAddInPlace(t *testing.T) {
	a := MapFromRows([][]float32{{1, 1}})
	require.NoError(t, a.AddInPlace(MapFromRows([][]float32{{2, 3}})))
	assert.Equal(t, []float32{3, 4}, a.Data)
	assert.ErrorIs(t, a.AddInPlace(NewMap(1, 1)), ErrShapeMismatch)
}
