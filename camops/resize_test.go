package camops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestStridedSize checks the feature-map size arithmetic for common strides.
func TestStridedSize(t *testing.T) {
	tests := []struct {
		name   string
		size   Size
		stride int
		down   Size
		up     Size
	}{
		{"exact multiple", Size{Width: 64, Height: 32}, 16, Size{Width: 4, Height: 2}, Size{Width: 64, Height: 32}},
		{"partial cell", Size{Width: 65, Height: 33}, 16, Size{Width: 5, Height: 3}, Size{Width: 80, Height: 48}},
		{"stride four", Size{Width: 10, Height: 7}, 4, Size{Width: 3, Height: 2}, Size{Width: 12, Height: 8}},
		{"single pixel", Size{Width: 1, Height: 1}, 16, Size{Width: 1, Height: 1}, Size{Width: 16, Height: 16}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.down, StridedSize(tt.size, tt.stride))
			assert.Equal(t, tt.up, StridedUpSize(tt.size, tt.stride))
		})
	}
}

// TestScaledSize checks truncation and the one-pixel floor.
func TestScaledSize(t *testing.T) {
	assert.Equal(t, Size{Width: 50, Height: 25}, ScaledSize(Size{Width: 100, Height: 51}, 0.5))
	assert.Equal(t, Size{Width: 1, Height: 1}, ScaledSize(Size{Width: 3, Height: 3}, 0.1))
}

// TestResizeBilinearIdentity checks that resizing to the same size copies the map.
func TestResizeBilinearIdentity(t *testing.T) {
	m := MapFromRows([][]float32{{1, 2}, {3, 4}})
	r := ResizeBilinear(m, 2, 2)
	assert.Equal(t, m.Data, r.Data)
	r.Data[0] = 9
	assert.Equal(t, float32(1), m.Data[0])
}

// TestResizeBilinearUpsample checks half-pixel-centre interpolation on a 2x1 row.
func TestResizeBilinearUpsample(t *testing.T) {
	m := MapFromRows([][]float32{{0, 4}})
	r := ResizeBilinear(m, 4, 1)
	// Source coordinates: -0.25 (clamped), 0.25, 0.75, 1.25 (clamped at the edge).
	assert.InDeltaSlice(t, []float32{0, 1, 3, 4}, r.Data, 1e-6)
}

// TestResizeBilinearConstant checks that a constant map stays constant at any size.
func TestResizeBilinearConstant(t *testing.T) {
	m := NewMap(3, 5)
	for i := range m.Data {
		m.Data[i] = 0.7
	}
	for _, size := range []Size{{Width: 7, Height: 2}, {Width: 1, Height: 1}, {Width: 12, Height: 20}} {
		r := ResizeBilinear(m, size.Width, size.Height)
		for _, v := range r.Data {
			assert.InDelta(t, 0.7, v, 1e-6)
		}
	}
}

// TestResizeStack checks that every class map is resized.
func TestResizeStack(t *testing.T) {
	s := ResizeStack(Stack{NewMap(2, 2), NewMap(2, 2)}, 5, 3)
	for _, m := range s {
		assert.Equal(t, 5, m.Width)
		assert.Equal(t, 3, m.Height)
	}
}
