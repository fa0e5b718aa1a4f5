// Package images - Image tensors, resizing, heatmaps and mask geometry.
package images

import "github.com/nvr-ai/go-cam/camops"

// Rect is a lightweight bounding box.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 int
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.X2 <= r.X1 || r.Y2 <= r.Y1
}

// Area returns the number of pixels inside the box.
func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return (r.X2 - r.X1) * (r.Y2 - r.Y1)
}

// Overlaps reports whether two boxes share at least one pixel.
func (r Rect) Overlaps(o Rect) bool {
	return CalculateIoU(r, o) > 0
}

// MaskBounds returns the tightest box around the nonzero pixels of a mask.
//
// Arguments:
//   - m: The mask.
//
// Returns:
//   - Rect: The bounding box.
//   - bool: False when the mask has no nonzero pixel.
func MaskBounds(m *camops.Mask) (Rect, bool) {
	r := Rect{X1: m.Width, Y1: m.Height}
	found := false
	for y := 0; y < m.Height; y++ {
		row := m.Pix[y*m.Width : (y+1)*m.Width]
		for x, v := range row {
			if v == 0 {
				continue
			}
			found = true
			r.X1, r.Y1 = min(r.X1, x), min(r.Y1, y)
			r.X2, r.Y2 = max(r.X2, x+1), max(r.Y2, y+1)
		}
	}
	if !found {
		return Rect{}, false
	}
	return r, true
}

// CalculateIoU returns the intersection over union of two boxes. Boxes that do not
// overlap score 0.
//
// Arguments:
//   - r: The first box.
//   - o: The second box.
//
// Returns:
//   - float32: A value between 0.0 and 1.0.
func CalculateIoU(r, o Rect) float32 {
	inter := Rect{X1: max(r.X1, o.X1), Y1: max(r.Y1, o.Y1), X2: min(r.X2, o.X2), Y2: min(r.Y2, o.Y2)}
	if inter.Empty() {
		return 0.0
	}
	interArea := inter.Area()
	return float32(interArea) / float32(r.Area()+o.Area()-interArea)
}
