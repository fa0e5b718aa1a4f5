package camops

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// validThreshold is the minimum sampled weight of in-frame source pixels for a
// warped pixel to count as valid.
const validThreshold float32 = 0.9999

// Flow is a dense optical-flow field. DX and DY hold the per-pixel displacement, in
// pixels, that maps a center-frame coordinate to its source in the neighbouring frame.
type Flow struct {
	DX *Map
	DY *Map
}

// NewFlow allocates a zero (identity) flow field.
func NewFlow(width, height int) *Flow {
	return &Flow{DX: NewMap(width, height), DY: NewMap(width, height)}
}

// Size returns the spatial size of the field.
func (f *Flow) Size() Size {
	return Size{Width: f.DX.Width, Height: f.DX.Height}
}

// Validate checks that both components share one shape.
func (f *Flow) Validate() error {
	if f == nil || f.DX == nil || f.DY == nil {
		return errors.Wrap(ErrShapeMismatch, "flow field is missing a component")
	}
	if !f.DX.SameShape(f.DY) {
		return errors.Wrapf(ErrShapeMismatch, "flow components %dx%d and %dx%d",
			f.DX.Width, f.DX.Height, f.DY.Width, f.DY.Height)
	}
	return nil
}

// Negate returns a copy of the field with both components sign-flipped.
func (f *Flow) Negate() *Flow {
	out := &Flow{DX: f.DX.Clone(), DY: f.DY.Clone()}
	for i := range out.DX.Data {
		out.DX.Data[i] = -out.DX.Data[i]
		out.DY.Data[i] = -out.DY.Data[i]
	}
	return out
}

// Flows holds the two neighbour fields of a lateral window.
type Flows struct {
	// Left maps the left frame to the center frame. Its sign convention is the
	// opposite of Right and it is negated before use.
	Left *Flow
	// Right maps the right frame to the center frame.
	Right *Flow
}

// ResizeFlow resamples a flow field to width x height and rescales the displacement
// vectors by the same ratio, so they stay expressed in target pixels.
//
// Arguments:
//   - f: The source flow field.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *Flow: The resized field.
func ResizeFlow(f *Flow, width, height int) *Flow {
	sx := float32(width) / float32(f.DX.Width)
	sy := float32(height) / float32(f.DX.Height)
	out := &Flow{
		DX: ResizeBilinear(f.DX, width, height),
		DY: ResizeBilinear(f.DY, width, height),
	}
	for i := range out.DX.Data {
		out.DX.Data[i] *= sx
		out.DY.Data[i] *= sy
	}
	return out
}

// Warp resamples every map of a stack into the center frame. Pixel (x, y) of the
// result is the bilinear sample of the source at (x+dx, y+dy); source pixels outside
// the frame read as zero.
//
// The second result marks with 1 the pixels whose four bilinear taps all fell inside
// the source frame and 0 otherwise.
//
// Arguments:
//   - s: The neighbour-frame CAM stack.
//   - f: The flow field, already at the stack's resolution.
//
// Returns:
//   - Stack: The warped stack.
//   - *Map: The validity mask.
//   - error: ErrShapeMismatch if the flow and stack shapes differ.
func Warp(s Stack, f *Flow) (Stack, *Map, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, nil, err
	}
	w, h := s.Shape()
	if f.DX.Width != w || f.DX.Height != h {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "flow %dx%d does not match CAMs %dx%d",
			f.DX.Width, f.DX.Height, w, h)
	}

	taps := make([]bilinearTaps, w*h)
	valid := NewMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			t := newBilinearTaps(float32(x)+f.DX.Data[i], float32(y)+f.DY.Data[i], w, h)
			taps[i] = t
			if t.coverage() >= validThreshold {
				valid.Data[i] = 1
			}
		}
	}

	out := make(Stack, len(s))
	for c, m := range s {
		warped := NewMap(w, h)
		for i := range taps {
			warped.Data[i] = taps[i].apply(m.Data)
		}
		out[c] = warped
	}
	return out, valid, nil
}

// bilinearTaps are the four neighbours of a fractional sample location. Taps that
// fall outside the frame keep a negative index and contribute nothing.
type bilinearTaps struct {
	idx [4]int
	wt  [4]float32
}

func newBilinearTaps(sx, sy float32, w, h int) bilinearTaps {
	x0 := int(math32.Floor(sx))
	y0 := int(math32.Floor(sy))
	fx := sx - float32(x0)
	fy := sy - float32(y0)

	var t bilinearTaps
	corners := [4][2]int{{x0, y0}, {x0 + 1, y0}, {x0, y0 + 1}, {x0 + 1, y0 + 1}}
	weights := [4]float32{(1 - fx) * (1 - fy), fx * (1 - fy), (1 - fx) * fy, fx * fy}
	for k, c := range corners {
		if c[0] < 0 || c[0] >= w || c[1] < 0 || c[1] >= h {
			t.idx[k] = -1
			continue
		}
		t.idx[k] = c[1]*w + c[0]
		t.wt[k] = weights[k]
	}
	return t
}

func (t bilinearTaps) apply(data []float32) float32 {
	var v float32
	for k, i := range t.idx {
		if i >= 0 && t.wt[k] != 0 {
			v += data[i] * t.wt[k]
		}
	}
	return v
}

func (t bilinearTaps) coverage() float32 {
	var c float32
	for k, i := range t.idx {
		if i >= 0 {
			c += t.wt[k]
		}
	}
	return c
}
