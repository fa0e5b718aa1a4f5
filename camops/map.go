// Package camops - Dense class activation map primitives.
//
// A CAM is a single-channel float32 plane stored row-major. A Stack holds one
// map per class and is the unit every CAM generator in this module produces.
package camops

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// NormalizeEpsilon is added to the spatial maximum before dividing a map by it.
const NormalizeEpsilon float32 = 1e-5

// ErrShapeMismatch is returned when maps, stacks or flows that must share a spatial
// shape do not.
var ErrShapeMismatch = errors.New("shape mismatch")

// Map is a dense 2D activation map.
type Map struct {
	// Width of the map in pixels.
	Width int `json:"width" yaml:"width"`
	// Height of the map in pixels.
	Height int `json:"height" yaml:"height"`
	// Data holds Height*Width values, row-major.
	Data []float32 `json:"data" yaml:"data"`
}

// NewMap allocates a zeroed map of the given size.
//
// Arguments:
//   - width: The width of the map.
//   - height: The height of the map.
//
// Returns:
//   - *Map: The zeroed map.
func NewMap(width, height int) *Map {
	return &Map{Width: width, Height: height, Data: make([]float32, width*height)}
}

// MapFromRows builds a map from a slice of rows. All rows must have equal length.
func MapFromRows(rows [][]float32) *Map {
	if len(rows) == 0 {
		return NewMap(0, 0)
	}
	m := NewMap(len(rows[0]), len(rows))
	for y, row := range rows {
		copy(m.Data[y*m.Width:(y+1)*m.Width], row)
	}
	return m
}

// At returns the value at (x, y).
func (m *Map) At(x, y int) float32 {
	return m.Data[y*m.Width+x]
}

// Set writes the value at (x, y).
func (m *Map) Set(x, y int, v float32) {
	m.Data[y*m.Width+x] = v
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	c := NewMap(m.Width, m.Height)
	copy(c.Data, m.Data)
	return c
}

// SameShape reports whether two maps have equal dimensions.
func (m *Map) SameShape(o *Map) bool {
	return m.Width == o.Width && m.Height == o.Height
}

// Max returns the spatial maximum of the map, or 0 for an empty map.
func (m *Map) Max() float32 {
	if len(m.Data) == 0 {
		return 0
	}
	best := m.Data[0]
	for _, v := range m.Data[1:] {
		best = math32.Max(best, v)
	}
	return best
}

// Min returns the spatial minimum of the map, or 0 for an empty map.
func (m *Map) Min() float32 {
	if len(m.Data) == 0 {
		return 0
	}
	best := m.Data[0]
	for _, v := range m.Data[1:] {
		best = math32.Min(best, v)
	}
	return best
}

// NormalizeMax divides every value by the spatial maximum plus NormalizeEpsilon.
// The map is modified in place and returned for chaining.
func (m *Map) NormalizeMax() *Map {
	d := m.Max() + NormalizeEpsilon
	for i := range m.Data {
		m.Data[i] /= d
	}
	return m
}

// NormalizeMinMax rescales the map to [0, 1] using (v - min) / (max - min + 1e-7),
// the scaling Grad-CAM applies to each attribution.
func (m *Map) NormalizeMinMax() *Map {
	lo := m.Min()
	for i := range m.Data {
		m.Data[i] -= lo
	}
	d := m.Max() + 1e-7
	for i := range m.Data {
		m.Data[i] /= d
	}
	return m
}

// ReLU clamps negative values to zero in place.
func (m *Map) ReLU() *Map {
	for i, v := range m.Data {
		if v < 0 {
			m.Data[i] = 0
		}
	}
	return m
}

// AddInPlace accumulates o into m.
func (m *Map) AddInPlace(o *Map) error {
	if !m.SameShape(o) {
		return errors.Wrapf(ErrShapeMismatch, "add %dx%d to %dx%d", o.Width, o.Height, m.Width, m.Height)
	}
	for i, v := range o.Data {
		m.Data[i] += v
	}
	return nil
}

// FlipHorizontal returns a copy of the map mirrored along the x axis.
func (m *Map) FlipHorizontal() *Map {
	out := NewMap(m.Width, m.Height)
	for y := 0; y < m.Height; y++ {
		row := m.Data[y*m.Width : (y+1)*m.Width]
		dst := out.Data[y*m.Width : (y+1)*m.Width]
		for x := range row {
			dst[m.Width-1-x] = row[x]
		}
	}
	return out
}

// Crop returns the top-left width x height window of the map.
func (m *Map) Crop(width, height int) (*Map, error) {
	if width > m.Width || height > m.Height {
		return nil, errors.Wrapf(ErrShapeMismatch, "crop %dx%d out of %dx%d", width, height, m.Width, m.Height)
	}
	out := NewMap(width, height)
	for y := 0; y < height; y++ {
		copy(out.Data[y*width:(y+1)*width], m.Data[y*m.Width:y*m.Width+width])
	}
	return out, nil
}

// Stack is an ordered sequence of per-class maps sharing one spatial shape.
type Stack []*Map

// Shape returns the common (width, height) of the stack.
func (s Stack) Shape() (int, int) {
	if len(s) == 0 {
		return 0, 0
	}
	return s[0].Width, s[0].Height
}

// Validate checks that the stack is non-empty and that every map shares its shape.
func (s Stack) Validate() error {
	if len(s) == 0 {
		return errors.Wrap(ErrShapeMismatch, "empty CAM stack")
	}
	for i, m := range s[1:] {
		if !m.SameShape(s[0]) {
			return errors.Wrapf(ErrShapeMismatch, "class %d is %dx%d, class 0 is %dx%d",
				i+1, m.Width, m.Height, s[0].Width, s[0].Height)
		}
	}
	return nil
}

// Clone deep copies every map of the stack.
func (s Stack) Clone() Stack {
	out := make(Stack, len(s))
	for i, m := range s {
		out[i] = m.Clone()
	}
	return out
}

// NormalizeMax normalises every class map by its own spatial maximum.
func (s Stack) NormalizeMax() Stack {
	for _, m := range s {
		m.NormalizeMax()
	}
	return s
}

// Dense packs the stack into a [C, H, W] float32 tensor.
//
// Returns:
//   - *tensor.Dense: The stacked maps.
//   - error: ErrShapeMismatch if the maps differ in shape.
func (s Stack) Dense() (*tensor.Dense, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	w, h := s.Shape()
	planes := make([]*tensor.Dense, len(s))
	for i, m := range s {
		backing := make([]float32, len(m.Data))
		copy(backing, m.Data)
		planes[i] = tensor.New(tensor.WithShape(h, w), tensor.WithBacking(backing))
	}
	if len(planes) == 1 {
		if err := planes[0].Reshape(1, h, w); err != nil {
			return nil, err
		}
		return planes[0], nil
	}
	stacked, err := planes[0].Stack(0, planes[1:]...)
	if err != nil {
		return nil, fmt.Errorf("stacking %d class maps: %w", len(planes), err)
	}
	return stacked, nil
}

// StackFromDense unpacks a [C, H, W] float32 tensor into a Stack.
func StackFromDense(t *tensor.Dense) (Stack, error) {
	shape := t.Shape()
	if len(shape) != 3 {
		return nil, errors.Wrapf(ErrShapeMismatch, "expected [C,H,W], got %v", shape)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 tensor, got %v", t.Dtype())
	}
	c, h, w := shape[0], shape[1], shape[2]
	out := make(Stack, c)
	for i := 0; i < c; i++ {
		m := NewMap(w, h)
		copy(m.Data, data[i*h*w:(i+1)*h*w])
		out[i] = m
	}
	return out, nil
}
