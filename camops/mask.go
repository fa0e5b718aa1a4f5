package camops

import "github.com/pkg/errors"

// ForegroundClass is the class index whose binary mask is scored and persisted.
const ForegroundClass = 1

// groundTruthThreshold is applied to ground truth scaled to [0, 1].
const groundTruthThreshold = 0.5

// Mask is a single-channel 8-bit mask. Predicted masks hold 0 or 1; ground-truth
// masks hold raw 0..255 values.
type Mask struct {
	Width  int     `json:"width" yaml:"width"`
	Height int     `json:"height" yaml:"height"`
	Pix    []uint8 `json:"pix" yaml:"pix"`
}

// NewMask allocates an all-zero mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Pix: make([]uint8, width*height)}
}

// MaskFromRows builds a mask from a slice of equal-length rows.
func MaskFromRows(rows [][]uint8) *Mask {
	if len(rows) == 0 {
		return NewMask(0, 0)
	}
	m := NewMask(len(rows[0]), len(rows))
	for y, row := range rows {
		copy(m.Pix[y*m.Width:(y+1)*m.Width], row)
	}
	return m
}

// At returns the value at (x, y).
func (m *Mask) At(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// Count returns the number of nonzero pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Bools returns the mask as a boolean slice with v != 0 as true.
func (m *Mask) Bools() []bool {
	out := make([]bool, len(m.Pix))
	for i, v := range m.Pix {
		out[i] = v != 0
	}
	return out
}

// BinarizeGroundTruth returns the boolean form of an 8-bit ground-truth mask, true
// where v/255 > 0.5.
func (m *Mask) BinarizeGroundTruth() []bool {
	out := make([]bool, len(m.Pix))
	for i, v := range m.Pix {
		out[i] = float64(v)/255 > groundTruthThreshold
	}
	return out
}

// Int32 returns the mask values widened to int32, the persisted mask dtype.
func (m *Mask) Int32() []int32 {
	out := make([]int32, len(m.Pix))
	for i, v := range m.Pix {
		out[i] = int32(v)
	}
	return out
}

// BoolIoU computes the intersection over union of two boolean masks. An empty union
// scores 1.0.
//
// Arguments:
//   - a: The first mask.
//   - b: The second mask, same length as a.
//
// Returns:
//   - float64: |a and b| / |a or b|, in [0, 1].
//   - error: ErrShapeMismatch if the lengths differ.
func BoolIoU(a, b []bool) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(ErrShapeMismatch, "iou over %d and %d pixels", len(a), len(b))
	}
	inter, union := 0, 0
	for i := range a {
		if a[i] && b[i] {
			inter++
		}
		if a[i] || b[i] {
			union++
		}
	}
	if union == 0 {
		return 1.0, nil
	}
	return float64(inter) / float64(union), nil
}

// Segmentation is the per-pixel argmax decomposition of a CAM stack.
type Segmentation struct {
	// Labels holds the winning class index of every pixel.
	Labels []int
	// Classes holds one 0/1 mask per class. Every pixel is set in exactly one of them.
	Classes []*Mask
}

// Foreground returns the binary mask of ForegroundClass, or an all-zero mask when the
// stack had a single class.
func (s *Segmentation) Foreground() *Mask {
	if len(s.Classes) > ForegroundClass {
		return s.Classes[ForegroundClass]
	}
	m := s.Classes[0]
	return NewMask(m.Width, m.Height)
}

// Segment stacks the maps into a [C, H, W] tensor, takes the argmax over the class
// axis and slices the label map into one binary mask per class. Ties resolve to the
// lowest class index.
//
// Arguments:
//   - s: The CAM stack.
//
// Returns:
//   - *Segmentation: Labels and per-class masks.
//   - error: ErrShapeMismatch if the stack is empty or ragged.
func Segment(s Stack) (*Segmentation, error) {
	dense, err := s.Dense()
	if err != nil {
		return nil, err
	}
	arg, err := dense.Argmax(0)
	if err != nil {
		return nil, errors.Wrap(err, "argmax over classes")
	}
	labels, ok := arg.Data().([]int)
	if !ok {
		// A single-pixel argmax comes back as a scalar.
		v, isInt := arg.Data().(int)
		if !isInt {
			return nil, errors.Errorf("unexpected argmax result %T", arg.Data())
		}
		labels = []int{v}
	}
	return segmentationFromLabels(labels, len(s), s[0].Width, s[0].Height), nil
}

func segmentationFromLabels(labels []int, classes, width, height int) *Segmentation {
	seg := &Segmentation{Labels: labels, Classes: make([]*Mask, classes)}
	for c := range seg.Classes {
		seg.Classes[c] = NewMask(width, height)
	}
	for i, c := range labels {
		seg.Classes[c].Pix[i] = 1
	}
	return seg
}
