// Package model - Classifier contract and checkpoint loading shared by every CAM model.
package model

import (
	"github.com/nvr-ai/go-cam/inference/providers"
)

// Name is the unique identifier of a classifier variant.
type Name string

const (
	// ModelNamePOFCAM is the custom classifier whose 1x1 projection yields CAMs directly.
	ModelNamePOFCAM Name = "pofcam"
	// ModelNameStandard is a standard backbone with a fully connected head, explained by Grad-CAM.
	ModelNameStandard Name = "standard"
)

// Classifier is a loaded CAM model.
type Classifier interface {
	// Name returns the variant.
	Name() Name
	// Architecture returns the backbone name parsed from the checkpoint tag.
	Architecture() string
	// NumClasses returns the width of the classification head.
	NumClasses() int
	// ParamCount returns the number of weights in the checkpoint.
	ParamCount() int
	// Devices returns the number of device replicas serving the model.
	Devices() int
	// Close releases every native session.
	Close() error
}

// NewModelArgs is the arguments for creating a new classifier.
type NewModelArgs struct {
	// Name selects the variant.
	Name Name `json:"name" yaml:"name"`
	// Dir holds <tag>.npz and <tag>.onnx.
	Dir string `json:"dir" yaml:"dir"`
	// Tag is the checkpoint tag, e.g. "pofcam_epochs_resnet50_batch_16".
	Tag string `json:"tag" yaml:"tag"`
	// Provider selects the execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// Devices is the number of visible devices. Values above one replicate the backbone.
	Devices int `json:"devices" yaml:"devices"`
}
