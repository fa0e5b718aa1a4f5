package camops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoClassStack() Stack {
	return Stack{
		MapFromRows([][]float32{{0.5, 2, 0}, {1, 0, 0}, {0, 0, 3}}),
		MapFromRows([][]float32{{0, 0, 0}, {0, 4, 1}, {0.2, 0, 0}}),
	}
}

// TestFuseLateralZeroFlowIdenticalFrames checks that three identical frames with
// zero flow fuse into the max-normalised center stack.
func TestFuseLateralZeroFlowIdenticalFrames(t *testing.T) {
	center := twoClassStack()
	flows := Flows{Left: NewFlow(6, 6), Right: NewFlow(6, 6)}

	fused, err := FuseLateral(center.Clone(), center.Clone(), center.Clone(), flows)
	require.NoError(t, err)

	want := center.Clone().NormalizeMax()
	require.Len(t, fused.Stack, len(want))
	for c := range want {
		assert.InDeltaSlice(t, want[c].Data, fused.Stack[c].Data, 1e-6)
	}
	for _, v := range fused.LeftValid.Data {
		assert.Equal(t, float32(1), v)
	}
}

// TestFuseLateralTakesMaximum checks that each pixel keeps the strongest frame.
func TestFuseLateralTakesMaximum(t *testing.T) {
	left := Stack{MapFromRows([][]float32{{4, 0}, {0, 0}})}
	center := Stack{MapFromRows([][]float32{{1, 2}, {0, 0}})}
	right := Stack{MapFromRows([][]float32{{0, 0}, {0, 8}})}
	flows := Flows{Left: NewFlow(2, 2), Right: NewFlow(2, 2)}

	fused, err := FuseLateral(left, center, right, flows)
	require.NoError(t, err)

	d := 8 + NormalizeEpsilon
	assert.InDeltaSlice(t, []float32{4 / d, 2 / d, 0, 8 / d}, fused.Stack[0].Data, 1e-6)
}

// TestFuseLateralNegatesLeftFlow checks that the left field is applied with its sign
// flipped: a +1 left field samples the left frame one pixel to the left.
func TestFuseLateralNegatesLeftFlow(t *testing.T) {
	left := Stack{MapFromRows([][]float32{{5, 0, 0}})}
	center := Stack{NewMap(3, 1)}
	right := Stack{NewMap(3, 1)}
	flows := Flows{Left: constantFlow(3, 1, 1, 0), Right: NewFlow(3, 1)}

	fused, err := FuseLateral(left, center, right, flows)
	require.NoError(t, err)

	assert.InDelta(t, 0.0, fused.Stack[0].Data[0], 1e-6)
	assert.InDelta(t, 1.0, fused.Stack[0].Data[1], 1e-5)
	assert.Equal(t, []float32{0, 1, 1}, fused.LeftValid.Data)
}

// TestFuseLateralMismatch checks the class-count guard.
func TestFuseLateralMismatch(t *testing.T) {
	flows := Flows{Left: NewFlow(3, 3), Right: NewFlow(3, 3)}
	_, err := FuseLateral(Stack{NewMap(3, 3)}, twoClassStack(), twoClassStack(), flows)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = FuseLateral(twoClassStack(), twoClassStack(), twoClassStack(), Flows{Right: NewFlow(3, 3)})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
