// Package pofcam - Classifier whose 1x1 projection of backbone features yields class
// activation maps directly.
package pofcam

import (
	"fmt"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/images"
	"github.com/nvr-ai/go-cam/inference"
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	// WeightKey names the [C, K, 1, 1] projection in the checkpoint.
	WeightKey = "classifier.weight"
	// InputName is the backbone input node.
	InputName = "images"
	// FeatureName is the backbone output node, a [N, K, h, w] feature map.
	FeatureName = "features"
	// OutputStride rounds the output CAM size up to a multiple of this value.
	OutputStride = 16
)

// Classifier is a loaded POF-CAM model.
type Classifier struct {
	checkpoint *model.Checkpoint
	projection *tensor.Dense
	replicas   *inference.Replicas
}

// New loads a POF-CAM classifier from <dir>/<tag>.npz and <dir>/<tag>.onnx, one
// backbone replica per device.
//
// Arguments:
//   - args: The model arguments.
//
// Returns:
//   - *Classifier: The classifier. Call Close when done.
//   - error: model.ErrConfig for checkpoint problems, or a session error.
func New(args model.NewModelArgs) (*Classifier, error) {
	ckpt, err := model.LoadCheckpoint(args.Dir, args.Tag)
	if err != nil {
		return nil, err
	}

	replicas, err := inference.NewReplicas(args.Provider, args.Devices, inference.SessionArgs{
		ModelPath: ckpt.BackbonePath,
		Inputs:    []string{InputName},
		Outputs:   []string{FeatureName},
	})
	if err != nil {
		return nil, err
	}

	c, err := NewWithReplicas(ckpt, replicas)
	if err != nil {
		replicas.Close()
		return nil, err
	}
	return c, nil
}

// NewWithReplicas builds a classifier over already created backbone replicas.
//
// Arguments:
//   - ckpt: The loaded checkpoint.
//   - replicas: The backbone runners.
//
// Returns:
//   - *Classifier: The classifier. It owns the replicas.
//   - error: model.ErrConfig if the projection weight is missing or malformed.
func NewWithReplicas(ckpt *model.Checkpoint, replicas *inference.Replicas) (*Classifier, error) {
	w, err := ckpt.Lookup(WeightKey)
	if err != nil {
		return nil, err
	}

	shape := w.Shape()
	if len(shape) != 2 && (len(shape) != 4 || shape[2] != 1 || shape[3] != 1) {
		return nil, errors.Wrapf(model.ErrConfig, "%s has shape %v, expected [C,K,1,1]", WeightKey, shape)
	}
	projection := w.Clone().(*tensor.Dense)
	if err := projection.Reshape(shape[0], shape[1]); err != nil {
		return nil, errors.Wrap(err, "reshaping projection")
	}

	return &Classifier{checkpoint: ckpt, projection: projection, replicas: replicas}, nil
}

// Name returns model.ModelNamePOFCAM.
func (c *Classifier) Name() model.Name {
	return model.ModelNamePOFCAM
}

// Architecture returns the backbone name parsed from the tag.
func (c *Classifier) Architecture() string {
	return c.checkpoint.Architecture
}

// NumClasses returns the number of projection rows.
func (c *Classifier) NumClasses() int {
	return c.projection.Shape()[0]
}

// ParamCount returns the number of weights in the checkpoint.
func (c *Classifier) ParamCount() int {
	return c.checkpoint.ParamCount()
}

// Devices returns the number of backbone replicas.
func (c *Classifier) Devices() int {
	return c.replicas.Len()
}

// Close releases the backbone sessions.
func (c *Classifier) Close() error {
	return c.replicas.Close()
}

// GenerateCAMs computes one CAM per class for a normalised image, accumulated over
// scales with horizontal-flip test-time augmentation.
//
// Order of operations, per scale:
//  1. Rescale the image tensor bilinearly and batch it with its mirror.
//  2. Run the backbone and project the features onto the classes, then ReLU.
//  3. Add the un-mirrored second half to the first at feature resolution.
//  4. Upsample once to the stride-16 covering size and add to the running sum.
//
// The sum is cropped to the image size and optionally divided by its per-class max.
//
// Arguments:
//   - img: A normalised [3, H, W] tensor.
//   - scales: The resize factors.
//   - normalize: Divide each class map by its max + 1e-5.
//
// Returns:
//   - camops.Stack: NumClasses maps of size H x W.
//   - error: An error if the tensor is malformed or inference fails.
func (c *Classifier) GenerateCAMs(img *tensor.Dense, scales []float64, normalize bool) (camops.Stack, error) {
	if len(scales) == 0 {
		return nil, errors.Wrap(model.ErrConfig, "no scales")
	}
	size, err := images.TensorSize(img)
	if err != nil {
		return nil, err
	}
	up := camops.StridedUpSize(size, OutputStride)

	var total camops.Stack
	for _, scale := range scales {
		cams, err := c.scaleCAMs(img, scale)
		if err != nil {
			return nil, errors.Wrapf(err, "scale %g", scale)
		}
		cams = camops.ResizeStack(cams, up.Width, up.Height)
		if total == nil {
			total = cams
			continue
		}
		for k := range total {
			if err := total[k].AddInPlace(cams[k]); err != nil {
				return nil, err
			}
		}
	}

	out := make(camops.Stack, len(total))
	for k, m := range total {
		if out[k], err = m.Crop(size.Width, size.Height); err != nil {
			return nil, err
		}
	}
	if normalize {
		out.NormalizeMax()
	}
	return out, nil
}

// scaleCAMs runs one scale of GenerateCAMs and returns the flip-summed maps at the
// backbone's feature resolution.
func (c *Classifier) scaleCAMs(img *tensor.Dense, scale float64) (camops.Stack, error) {
	scaled, err := images.RescaleTensor(img, scale)
	if err != nil {
		return nil, err
	}
	flipped, err := images.FlipTensor(scaled)
	if err != nil {
		return nil, err
	}
	data, size, err := images.Batch(scaled, flipped)
	if err != nil {
		return nil, err
	}

	outputs, err := c.replicas.RunBatch(data, []int64{2, 3, int64(size.Height), int64(size.Width)})
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("backbone returned no %q output", FeatureName)
	}

	stacks, err := c.Project(outputs[0])
	if err != nil {
		return nil, err
	}
	if len(stacks) != 2 {
		return nil, errors.Wrapf(camops.ErrShapeMismatch, "backbone returned batch of %d, expected 2", len(stacks))
	}

	cams, mirrored := stacks[0], stacks[1]
	for k := range cams {
		if err := cams[k].AddInPlace(mirrored[k].FlipHorizontal()); err != nil {
			return nil, err
		}
	}
	return cams, nil
}

// Project applies the 1x1 classifier to a [N, K, h, w] feature map followed by ReLU.
//
// Arguments:
//   - features: The backbone output.
//
// Returns:
//   - []camops.Stack: One stack of NumClasses maps of size w x h per batch item.
//   - error: camops.ErrShapeMismatch if the feature depth differs from the projection.
func (c *Classifier) Project(features inference.Output) ([]camops.Stack, error) {
	shape := features.Shape
	if len(shape) != 4 {
		return nil, errors.Wrapf(camops.ErrShapeMismatch, "features have shape %v, expected [N,K,h,w]", shape)
	}
	n, k, h, w := int(shape[0]), int(shape[1]), int(shape[2]), int(shape[3])
	if k != c.projection.Shape()[1] {
		return nil, errors.Wrapf(camops.ErrShapeMismatch, "features have %d channels, %s expects %d",
			k, WeightKey, c.projection.Shape()[1])
	}
	if len(features.Data) != n*k*h*w {
		return nil, errors.Wrapf(camops.ErrShapeMismatch, "features hold %d values for shape %v", len(features.Data), shape)
	}

	item := k * h * w
	out := make([]camops.Stack, n)
	for i := range out {
		f := tensor.New(tensor.WithShape(k, h*w), tensor.WithBacking(features.Data[i*item:(i+1)*item]))
		product, err := c.projection.MatMul(f)
		if err != nil {
			return nil, errors.Wrap(err, "projecting features")
		}
		if err := product.Reshape(c.NumClasses(), h, w); err != nil {
			return nil, errors.Wrap(err, "reshaping projection")
		}
		stack, err := camops.StackFromDense(product)
		if err != nil {
			return nil, err
		}
		for class, m := range stack {
			stack[class] = m.ReLU()
		}
		out[i] = stack
	}
	return out, nil
}
