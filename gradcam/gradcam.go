// Package gradcam - Gradient-weighted class activation maps over a linear softmax head.
//
// The backbone runs in ONNX Runtime and stops at the last convolutional block. The
// head (global average pooling, fully connected layer, softmax) is rebuilt as a
// gorgonia graph so the gradient of one class probability with respect to the
// feature map can be taken symbolically.
package gradcam

import (
	"fmt"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Head is a fully connected classification layer followed by softmax.
type Head struct {
	// Weight is the [C, K] fully connected weight.
	Weight *tensor.Dense
	// Bias is the [C] fully connected bias.
	Bias *tensor.Dense
}

// NewHead validates and wraps fully connected weights.
//
// Arguments:
//   - weight: A [C, K] float32 tensor.
//   - bias: A [C] float32 tensor.
//
// Returns:
//   - Head: The head.
//   - error: camops.ErrShapeMismatch if the shapes disagree.
func NewHead(weight, bias *tensor.Dense) (Head, error) {
	ws, bs := weight.Shape(), bias.Shape()
	if len(ws) != 2 || len(bs) != 1 || ws[0] != bs[0] {
		return Head{}, errors.Wrapf(camops.ErrShapeMismatch, "fc weight %v and bias %v", ws, bs)
	}
	if weight.Dtype() != tensor.Float32 || bias.Dtype() != tensor.Float32 {
		return Head{}, errors.Errorf("fc weights must be float32, got %v and %v", weight.Dtype(), bias.Dtype())
	}
	return Head{Weight: weight, Bias: bias}, nil
}

// NumClasses returns the output width of the head.
func (h Head) NumClasses() int {
	return h.Weight.Shape()[0]
}

// InFeatures returns the input width of the head.
func (h Head) InFeatures() int {
	return h.Weight.Shape()[1]
}

// Activations is the [K, H, W] output of the target layer for one image.
type Activations struct {
	Channels int
	Height   int
	Width    int
	Data     []float32
}

// Validate checks that the buffer matches the declared shape.
func (a Activations) Validate() error {
	if a.Channels < 1 || a.Height < 1 || a.Width < 1 || len(a.Data) != a.Channels*a.Height*a.Width {
		return errors.Wrapf(camops.ErrShapeMismatch, "activations %dx%dx%d with %d values",
			a.Channels, a.Height, a.Width, len(a.Data))
	}
	return nil
}

// Result holds the attribution of one target class.
type Result struct {
	// CAM is ReLU(sum_k alpha_k * A_k) at feature resolution.
	CAM *camops.Map
	// Weights holds alpha_k, the spatial mean of the gradient of each channel.
	Weights []float32
	// Probability is the softmax output of the target class.
	Probability float32
}

// Compute runs Grad-CAM for one target class.
//
// Arguments:
//   - act: The target-layer activations of one image.
//   - head: The classification head.
//   - target: The class index whose probability is explained.
//
// Returns:
//   - *Result: The raw map, channel weights and class probability.
//   - error: An error if shapes disagree or the graph fails to run.
func Compute(act Activations, head Head, target int) (*Result, error) {
	if err := act.Validate(); err != nil {
		return nil, err
	}
	if act.Channels != head.InFeatures() {
		return nil, errors.Wrapf(camops.ErrShapeMismatch, "activations have %d channels, head expects %d",
			act.Channels, head.InFeatures())
	}
	if target < 0 || target >= head.NumClasses() {
		return nil, errors.Errorf("target class %d outside [0, %d)", target, head.NumClasses())
	}

	hw := act.Height * act.Width
	g := G.NewGraph()

	features := G.NewMatrix(g, tensor.Float32, G.WithShape(act.Channels, hw), G.WithName("features"),
		G.WithValue(tensor.New(tensor.WithShape(act.Channels, hw), tensor.WithBacking(append([]float32(nil), act.Data...)))))
	weight := G.NewMatrix(g, tensor.Float32, G.WithShape(head.NumClasses(), head.InFeatures()), G.WithName("fc.weight"),
		G.WithValue(head.Weight.Clone().(*tensor.Dense)))
	bias := G.NewVector(g, tensor.Float32, G.WithShape(head.NumClasses()), G.WithName("fc.bias"),
		G.WithValue(head.Bias.Clone().(*tensor.Dense)))

	pooled, err := G.Mean(features, 1)
	if err != nil {
		return nil, errors.Wrap(err, "global average pooling")
	}
	logits, err := G.Mul(weight, pooled)
	if err != nil {
		return nil, errors.Wrap(err, "fc projection")
	}
	if logits, err = G.Add(logits, bias); err != nil {
		return nil, errors.Wrap(err, "fc bias")
	}
	probs, err := G.SoftMax(logits)
	if err != nil {
		return nil, errors.Wrap(err, "softmax")
	}
	score, err := G.Slice(probs, G.S(target))
	if err != nil {
		return nil, errors.Wrap(err, "target slice")
	}
	grads, err := G.Grad(score, features)
	if err != nil {
		return nil, errors.Wrap(err, "symbolic gradient")
	}

	var scoreVal, gradVal G.Value
	G.Read(score, &scoreVal)
	G.Read(grads[0], &gradVal)

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("running grad-cam graph: %w", err)
	}

	gradData, ok := gradVal.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("unexpected gradient type %T", gradVal.Data())
	}
	prob, ok := scoreVal.Data().(float32)
	if !ok {
		return nil, errors.Errorf("unexpected score type %T", scoreVal.Data())
	}

	alphas := make([]float32, act.Channels)
	for k := range alphas {
		var sum float32
		for _, v := range gradData[k*hw : (k+1)*hw] {
			sum += v
		}
		alphas[k] = sum / float32(hw)
	}

	cam := camops.NewMap(act.Width, act.Height)
	for k, alpha := range alphas {
		if alpha == 0 {
			continue
		}
		for i, v := range act.Data[k*hw : (k+1)*hw] {
			cam.Data[i] += alpha * v
		}
	}
	cam.ReLU()

	return &Result{CAM: cam, Weights: alphas, Probability: prob}, nil
}

// Explain runs Compute and returns the map min-max scaled to [0, 1] and resized to
// the model input size.
//
// Arguments:
//   - act: The target-layer activations of one image.
//   - head: The classification head.
//   - target: The class index.
//   - width: The model input width.
//   - height: The model input height.
//
// Returns:
//   - *camops.Map: The attribution at input resolution.
//   - error: An error if Compute fails.
func Explain(act Activations, head Head, target, width, height int) (*camops.Map, error) {
	res, err := Compute(act, head, target)
	if err != nil {
		return nil, err
	}
	return camops.ResizeBilinear(res.CAM.NormalizeMinMax(), width, height), nil
}
