package images

import (
	"testing"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/stretchr/testify/assert"
)

// TestCalculateIoU validates box IoU against hand-computed values and checks symmetry.
func TestCalculateIoU(t *testing.T) {
	tests := []struct {
		name     string
		r1       Rect
		r2       Rect
		expected float32
	}{
		{"Identical rectangles", Rect{0, 0, 100, 100}, Rect{0, 0, 100, 100}, 1.0},
		{"No overlap", Rect{0, 0, 100, 100}, Rect{200, 200, 300, 300}, 0.0},
		{"Touching edges", Rect{0, 0, 100, 100}, Rect{100, 0, 200, 100}, 0.0},
		{"Half overlap", Rect{0, 0, 100, 100}, Rect{50, 50, 150, 150}, 0.142857},
		{"One inside other", Rect{0, 0, 100, 100}, Rect{25, 25, 75, 75}, 0.25},
		{"Zero area", Rect{0, 0, 0, 0}, Rect{0, 0, 100, 100}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateIoU(tt.r1, tt.r2)
			assert.InDelta(t, tt.expected, got, 1e-3)
			assert.InDelta(t, got, CalculateIoU(tt.r2, tt.r1), 1e-6)
		})
	}
}

// TestOverlaps checks shared-pixel detection, including touching edges.
func TestOverlaps(t *testing.T) {
	assert.True(t, Rect{0, 0, 2, 2}.Overlaps(Rect{1, 1, 3, 3}))
	assert.False(t, Rect{0, 0, 2, 2}.Overlaps(Rect{2, 0, 4, 2}))
	assert.False(t, Rect{0, 0, 0, 0}.Overlaps(Rect{0, 0, 5, 5}))
}

// TestMaskBounds checks the tight box around the nonzero pixels.
func TestMaskBounds(t *testing.T) {
	m := camops.MaskFromRows([][]uint8{
		{0, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 0, 1},
	})
	r, ok := MaskBounds(m)
	assert.True(t, ok)
	assert.Equal(t, Rect{X1: 1, Y1: 1, X2: 4, Y2: 3}, r)
	assert.Equal(t, 6, r.Area())

	_, ok = MaskBounds(camops.NewMask(3, 3))
	assert.False(t, ok)
}
