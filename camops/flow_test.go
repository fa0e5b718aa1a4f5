package camops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantFlow(width, height int, dx, dy float32) *Flow {
	f := NewFlow(width, height)
	for i := range f.DX.Data {
		f.DX.Data[i] = dx
		f.DY.Data[i] = dy
	}
	return f
}

// TestWarpZeroFlow checks that a zero field is the identity and every pixel is valid.
func TestWarpZeroFlow(t *testing.T) {
	s := Stack{
		MapFromRows([][]float32{{1, 2, 3}, {4, 5, 6}}),
		MapFromRows([][]float32{{0, 0, 9}, {8, 0, 0}}),
	}
	warped, valid, err := Warp(s, NewFlow(3, 2))
	require.NoError(t, err)
	for c := range s {
		assert.InDeltaSlice(t, s[c].Data, warped[c].Data, 1e-6)
	}
	for _, v := range valid.Data {
		assert.Equal(t, float32(1), v)
	}
}

// TestWarpIntegerShift checks a one-pixel shift to the right and the zero padding
// it introduces at the far edge.
func TestWarpIntegerShift(t *testing.T) {
	s := Stack{MapFromRows([][]float32{{1, 2, 3}})}
	warped, valid, err := Warp(s, constantFlow(3, 1, 1, 0))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{2, 3, 0}, warped[0].Data, 1e-6)
	assert.Equal(t, []float32{1, 1, 0}, valid.Data)
}

// TestWarpHalfPixel checks bilinear blending between two source pixels.
func TestWarpHalfPixel(t *testing.T) {
	s := Stack{MapFromRows([][]float32{{0, 2, 4, 6}})}
	warped, _, err := Warp(s, constantFlow(4, 1, 0.5, 0))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1, 3, 5, 3}, warped[0].Data, 1e-6)
}

// TestWarpShapeMismatch checks that a flow at the wrong resolution is rejected.
func TestWarpShapeMismatch(t *testing.T) {
	_, _, err := Warp(Stack{NewMap(3, 3)}, NewFlow(2, 3))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

// TestResizeFlowScalesVectors checks that displacements follow the size ratio.
func TestResizeFlowScalesVectors(t *testing.T) {
	f := ResizeFlow(constantFlow(8, 4, 2, -4), 4, 8)
	assert.Equal(t, Size{Width: 4, Height: 8}, f.Size())
	for i := range f.DX.Data {
		assert.InDelta(t, 1.0, f.DX.Data[i], 1e-6)
		assert.InDelta(t, -8.0, f.DY.Data[i], 1e-6)
	}
}

// TestNegate checks the sign flip and that the source field is untouched.
func TestNegate(t *testing.T) {
	f := constantFlow(2, 2, 1.5, -3)
	n := f.Negate()
	assert.Equal(t, float32(-1.5), n.DX.Data[0])
	assert.Equal(t, float32(3), n.DY.Data[3])
	assert.Equal(t, float32(1.5), f.DX.Data[0])
}

// TestFlowValidate checks the missing and ragged component failures.
func TestFlowValidate(t *testing.T) {
	var nilFlow *Flow
	assert.ErrorIs(t, nilFlow.Validate(), ErrShapeMismatch)
	assert.ErrorIs(t, (&Flow{DX: NewMap(2, 2)}).Validate(), ErrShapeMismatch)
	assert.ErrorIs(t, (&Flow{DX: NewMap(2, 2), DY: NewMap(2, 3)}).Validate(), ErrShapeMismatch)
	assert.NoError(t, NewFlow(2, 2).Validate())
}
