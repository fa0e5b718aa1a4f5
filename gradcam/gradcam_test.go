package gradcam

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-cam/camops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func testHead(t *testing.T) Head {
	t.Helper()
	head, err := NewHead(
		tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float32{1, -1, 0.5, -0.5, 2, 0})),
		tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{0.1, -0.2})),
	)
	require.NoError(t, err)
	return head
}

func testActivations() Activations {
	return Activations{Channels: 3, Height: 2, Width: 2, Data: []float32{
		1, 2, 0, 1,
		0, 1, 3, 1,
		2, 0, 1, 1,
	}}
}

// expectedWeights computes alpha_k = d p_t / d pooled_k / HW in closed form.
func expectedWeights(act Activations, w, b []float32, classes, target int) ([]float32, float32) {
	hw := act.Height * act.Width
	pooled := make([]float32, act.Channels)
	for k := range pooled {
		for _, v := range act.Data[k*hw : (k+1)*hw] {
			pooled[k] += v
		}
		pooled[k] /= float32(hw)
	}

	logits := make([]float32, classes)
	var maxLogit float32 = -math32.MaxFloat32
	for c := range logits {
		logits[c] = b[c]
		for k, p := range pooled {
			logits[c] += w[c*act.Channels+k] * p
		}
		maxLogit = math32.Max(maxLogit, logits[c])
	}
	probs := make([]float32, classes)
	var sum float32
	for c, z := range logits {
		probs[c] = math32.Exp(z - maxLogit)
		sum += probs[c]
	}
	for c := range probs {
		probs[c] /= sum
	}

	alphas := make([]float32, act.Channels)
	for k := range alphas {
		for c := range probs {
			delta := float32(0)
			if c == target {
				delta = 1
			}
			alphas[k] += probs[target] * (delta - probs[c]) * w[c*act.Channels+k]
		}
		alphas[k] /= float32(hw)
	}
	return alphas, probs[target]
}

// TestComputeMatchesClosedForm checks the symbolic gradient against the analytic
// softmax derivative.
func TestComputeMatchesClosedForm(t *testing.T) {
	head := testHead(t)
	act := testActivations()
	w := head.Weight.Data().([]float32)
	b := head.Bias.Data().([]float32)

	for target := 0; target < head.NumClasses(); target++ {
		res, err := Compute(act, head, target)
		require.NoError(t, err)

		alphas, prob := expectedWeights(act, w, b, head.NumClasses(), target)
		assert.InDelta(t, prob, res.Probability, 1e-5)
		require.Len(t, res.Weights, 3)
		for k := range alphas {
			assert.InDelta(t, alphas[k], res.Weights[k], 1e-5, "class %d channel %d", target, k)
		}

		for i := range res.CAM.Data {
			var v float32
			for k, a := range alphas {
				v += a * act.Data[k*4+i]
			}
			assert.InDelta(t, math32.Max(v, 0), res.CAM.Data[i], 1e-5)
		}
	}
}

// TestExplainScalesAndResizes checks the output range and size.
func TestExplainScalesAndResizes(t *testing.T) {
	m, err := Explain(testActivations(), testHead(t), 1, 8, 6)
	require.NoError(t, err)
	assert.Equal(t, 8, m.Width)
	assert.Equal(t, 6, m.Height)
	assert.GreaterOrEqual(t, m.Min(), float32(0))
	assert.LessOrEqual(t, m.Max(), float32(1))
}

// TestComputeRejectsBadInput checks shape and target validation.
func TestComputeRejectsBadInput(t *testing.T) {
	head := testHead(t)

	_, err := Compute(Activations{Channels: 2, Height: 2, Width: 2, Data: make([]float32, 8)}, head, 0)
	assert.ErrorIs(t, err, camops.ErrShapeMismatch)

	_, err = Compute(Activations{Channels: 3, Height: 2, Width: 2, Data: make([]float32, 5)}, head, 0)
	assert.ErrorIs(t, err, camops.ErrShapeMismatch)

	_, err = Compute(testActivations(), head, 2)
	assert.Error(t, err)

	_, err = NewHead(tensor.New(tensor.WithShape(2, 3), tensor.Of(tensor.Float32)),
		tensor.New(tensor.WithShape(3), tensor.Of(tensor.Float32)))
	assert.ErrorIs(t, err, camops.ErrShapeMismatch)
}
