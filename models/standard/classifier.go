// Package standard - Classifier with a global-average-pooled fully connected head,
// explained with Grad-CAM.
package standard

import (
	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/gradcam"
	"github.com/nvr-ai/go-cam/images"
	"github.com/nvr-ai/go-cam/inference"
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	// WeightKey names the [C, K] fully connected weight in the checkpoint.
	WeightKey = "0.fc.weight"
	// BiasKey names the [C] fully connected bias in the checkpoint.
	BiasKey = "0.fc.bias"
	// InputName is the backbone input node.
	InputName = "images"
	// FeatureName is the backbone output node: the activations of the last
	// convolutional block, [N, K, h, w].
	FeatureName = "features"
)

// Classifier is a loaded standard classifier.
type Classifier struct {
	checkpoint *model.Checkpoint
	head       gradcam.Head
	replicas   *inference.Replicas
}

// New loads a standard classifier from <dir>/<tag>.npz and <dir>/<tag>.onnx.
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
func NewWithReplicas(ckpt *model.Checkpoint, replicas *inference.Replicas) (*Classifier, error) {
	if _, err := ckpt.NumClasses(BiasKey); err != nil {
		return nil, err
	}
	weight, err := ckpt.Lookup(WeightKey)
	if err != nil {
		return nil, err
	}
	bias, err := ckpt.Lookup(BiasKey)
	if err != nil {
		return nil, err
	}
	head, err := gradcam.NewHead(weight, bias)
	if err != nil {
		return nil, errors.Wrapf(model.ErrConfig, "checkpoint %s: %v", ckpt.Tag, err)
	}
	return &Classifier{checkpoint: ckpt, head: head, replicas: replicas}, nil
}

// Name returns model.ModelNameStandard.
func (c *Classifier) Name() model.Name {
	return model.ModelNameStandard
}

// Architecture returns the backbone name parsed from the tag.
func (c *Classifier) Architecture() string {
	return c.checkpoint.Architecture
}

// NumClasses returns the width of the fully connected head.
func (c *Classifier) NumClasses() int {
	return c.head.NumClasses()
}

// ParamCount returns the number of weights in the checkpoint.
func (c *Classifier) ParamCount() int {
	return c.checkpoint.ParamCount()
}

// Devices returns the number of backbone replicas.
func (c *Classifier) Devices() int {
	return c.replicas.Len()
}

// Head returns the classification head.
func (c *Classifier) Head() gradcam.Head {
	return c.head
}

// Close releases the backbone sessions.
func (c *Classifier) Close() error {
	return c.replicas.Close()
}

// Activations runs the backbone on one normalised image.
//
// Arguments:
//   - img: A normalised [3, H, W] tensor.
//
// Returns:
//   - gradcam.Activations: The last convolutional block output.
//   - error: An error if the tensor is malformed or inference fails.
func (c *Classifier) Activations(img *tensor.Dense) (gradcam.Activations, error) {
	data, size, err := images.Batch(img)
	if err != nil {
		return gradcam.Activations{}, err
	}
	outputs, err := c.replicas.RunBatch(data, []int64{1, 3, int64(size.Height), int64(size.Width)})
	if err != nil {
		return gradcam.Activations{}, err
	}
	if len(outputs) == 0 || len(outputs[0].Shape) != 4 || outputs[0].Shape[0] != 1 {
		return gradcam.Activations{}, errors.Wrapf(camops.ErrShapeMismatch, "backbone returned %d outputs", len(outputs))
	}
	shape := outputs[0].Shape
	act := gradcam.Activations{
		Channels: int(shape[1]),
		Height:   int(shape[2]),
		Width:    int(shape[3]),
		Data:     outputs[0].Data,
	}
	return act, act.Validate()
}

// Attribute explains one class of a precomputed activation map.
//
// Arguments:
//   - act: The activations of one image.
//   - target: The class index.
//   - size: The size of the image the activations were computed from.
//
// Returns:
//   - *camops.Map: The min-max scaled Grad-CAM at the image size.
//   - error: An error if Grad-CAM fails.
func (c *Classifier) Attribute(act gradcam.Activations, target int, size camops.Size) (*camops.Map, error) {
	return gradcam.Explain(act, c.head, target, size.Width, size.Height)
}
