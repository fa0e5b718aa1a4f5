// Package models - registry for CAM classifiers.
package models

import (
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/nvr-ai/go-cam/models/pofcam"
	"github.com/nvr-ai/go-cam/models/standard"
	"github.com/pkg/errors"
)

// NewClassifier creates a classifier for the variant named in args.
//
// This factory is the single entry point for model creation: it routes to the
// variant constructor, which loads <dir>/<tag>.npz, checks <dir>/<tag>.onnx and
// replicates the backbone across args.Devices devices.
//
// Arguments:
//   - args: The variant, checkpoint location and provider.
//
// Returns:
//   - model.Classifier: The loaded classifier. Call Close when done.
//   - error: model.ErrConfig for an unknown variant or a bad checkpoint.
//
// Example:
//
//	c, err := NewClassifier(model.NewModelArgs{
//	    Name: model.ModelNamePOFCAM,
//	    Dir:  "./experiments/models",
//	    Tag:  "pofcam_epochs_resnet50_batch_16",
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
func NewClassifier(args model.NewModelArgs) (model.Classifier, error) {
	switch args.Name {
	case model.ModelNamePOFCAM:
		c, err := pofcam.New(args)
		if err != nil {
			return nil, err
		}
		return c, nil
	case model.ModelNameStandard:
		c, err := standard.New(args)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.Wrapf(model.ErrConfig, "unsupported model name: %q", args.Name)
	}
}
