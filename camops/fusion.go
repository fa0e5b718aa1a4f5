package camops

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// LateralFusion is the result of fusing a 3-frame window into the center frame.
type LateralFusion struct {
	// Stack holds one fused, max-normalised map per class.
	Stack Stack
	// LeftValid marks the center pixels whose warped left sample had an in-frame source.
	LeftValid *Map
	// RightValid marks the same for the right neighbour.
	RightValid *Map
}

// FuseLateral combines the un-normalised CAM stacks of a left, center and right
// frame into one stack aligned with the center frame.
//
// The neighbour stacks are warped into the center frame with their flow fields
// (the left field is negated first, then both are resized to the CAM resolution).
// Each class keeps the per-pixel maximum across the three frames and is finally
// divided by its own spatial maximum plus NormalizeEpsilon.
//
// The validity masks produced by warping are returned but do not gate the maximum:
// out-of-frame samples read as zero and so never win against a positive activation.
//
// Arguments:
//   - left: CAM stack of the previous frame.
//   - center: CAM stack of the frame being segmented.
//   - right: CAM stack of the next frame.
//   - flows: Left and right flow fields at any resolution.
//
// Returns:
//   - *LateralFusion: The fused stack and the warp validity masks.
//   - error: ErrShapeMismatch if the stacks disagree in class count or shape.
func FuseLateral(left, center, right Stack, flows Flows) (*LateralFusion, error) {
	for name, s := range map[string]Stack{"left": left, "center": center, "right": right} {
		if err := s.Validate(); err != nil {
			return nil, errors.Wrapf(err, "%s stack", name)
		}
	}
	if len(left) != len(center) || len(right) != len(center) {
		return nil, errors.Wrapf(ErrShapeMismatch, "class counts left=%d center=%d right=%d",
			len(left), len(center), len(right))
	}
	if err := flows.Left.Validate(); err != nil {
		return nil, errors.Wrap(err, "left flow")
	}
	if err := flows.Right.Validate(); err != nil {
		return nil, errors.Wrap(err, "right flow")
	}

	w, h := center.Shape()
	leftFlow := ResizeFlow(flows.Left.Negate(), w, h)
	rightFlow := ResizeFlow(flows.Right, w, h)

	warpedLeft, leftValid, err := Warp(left, leftFlow)
	if err != nil {
		return nil, errors.Wrap(err, "warping left stack")
	}
	warpedRight, rightValid, err := Warp(right, rightFlow)
	if err != nil {
		return nil, errors.Wrap(err, "warping right stack")
	}

	fused := make(Stack, len(center))
	for c := range center {
		m := NewMap(w, h)
		l, mid, r := warpedLeft[c].Data, center[c].Data, warpedRight[c].Data
		for i := range m.Data {
			m.Data[i] = math32.Max(math32.Max(l[i], mid[i]), r[i])
		}
		fused[c] = m.NormalizeMax()
	}

	return &LateralFusion{Stack: fused, LeftValid: leftValid, RightValid: rightValid}, nil
}
