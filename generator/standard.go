package generator

import (
	"context"
	"image"
	"path/filepath"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/dataset"
	"github.com/nvr-ai/go-cam/gradcam"
	"github.com/nvr-ai/go-cam/images"
	"github.com/nvr-ai/go-cam/models"
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// stdOutputStride rounds the standard variant's CAM size up to a multiple of this value.
const stdOutputStride = 16

// AttributionModel is a classifier explained with Grad-CAM.
type AttributionModel interface {
	model.Classifier
	// Activations runs the backbone on one normalised image.
	Activations(img *tensor.Dense) (gradcam.Activations, error)
	// Attribute explains one class at the given size.
	Attribute(act gradcam.Activations, target int, size camops.Size) (*camops.Map, error)
}

// Standard generates masks with a standard classifier explained by Grad-CAM. It never
// uses optical flow.
type Standard struct {
	*Driver
	model AttributionModel
}

// NewStandard creates the standard variant over a driver and switches the dataset to
// single frames.
func NewStandard(d *Driver) *Standard {
	d.dataset.WithoutFlows()
	return &Standard{Driver: d}
}

// LoadModel loads <modelDir>/<tag>.npz and <tag>.onnx.
func (s *Standard) LoadModel() error {
	args := s.modelArgs()
	c, err := models.NewClassifier(args)
	if err != nil {
		return err
	}
	m, ok := c.(AttributionModel)
	if !ok {
		c.Close()
		return errors.Wrapf(ErrConfig, "%s classifier cannot be explained with Grad-CAM", c.Name())
	}
	s.SetModel(m)
	s.logModel(m, filepath.Join(args.Dir, args.Tag+".npz"))
	return nil
}

// SetModel installs an already loaded classifier, releasing the previous one.
func (s *Standard) SetModel(m AttributionModel) {
	if s.model != nil {
		s.model.Close()
	}
	s.model = m
	s.setNumClasses(m.NumClasses())
}

// PrepareImage resizes an 8-bit image by factor with OpenCV's bilinear interpolation
// and normalises it with the ImageNet statistics.
//
// Arguments:
//   - img: The 8-bit RGB image.
//   - factor: The resize factor.
//
// Returns:
//   - *tensor.Dense: The normalised [3, H, W] tensor.
//   - error: An error if resizing fails.
func (s *Standard) PrepareImage(img image.Image, factor float64) (*tensor.Dense, error) {
	resized, err := images.ResizeByFactor(img, factor)
	if err != nil {
		return nil, err
	}
	return images.ToTensor(resized), nil
}

// CAMAttribution explains one class of an image at one scale.
//
// Arguments:
//   - img: The 8-bit RGB image.
//   - factor: The resize factor.
//   - label: The target class.
//
// Returns:
//   - *camops.Map: The min-max scaled Grad-CAM at the resized image size.
//   - error: An error if resizing, inference or attribution fails.
func (s *Standard) CAMAttribution(img image.Image, factor float64, label int) (*camops.Map, error) {
	if s.model == nil {
		return nil, errors.Wrap(ErrConfig, "model is not loaded")
	}
	t, err := s.PrepareImage(img, factor)
	if err != nil {
		return nil, err
	}
	size, err := images.TensorSize(t)
	if err != nil {
		return nil, err
	}
	act, err := s.model.Activations(t)
	if err != nil {
		return nil, err
	}
	return s.model.Attribute(act, label, size)
}

// GenerateCAMsWithStdMethod sums the Grad-CAM of every class over the scales.
//
// Order of operations:
//  1. Denormalise the image to 8-bit RGB.
//  2. Per scale, resize and normalise the image and run the backbone once.
//  3. Per class, explain the class, upsample to the strided-up size and accumulate.
//  4. Crop each class map to the image size and optionally max-normalise it.
//
// Arguments:
//   - img: The normalised [3, H, W] tensor.
//   - scales: The resize factors.
//   - normalize: Divide every CAM by its maximum.
//
// Returns:
//   - camops.Stack: One CAM per class at the image size.
//   - error: ErrConfig without scales or a model, or an inference error.
func (s *Standard) GenerateCAMsWithStdMethod(img *tensor.Dense, scales []float64, normalize bool) (camops.Stack, error) {
	if s.model == nil {
		return nil, errors.Wrap(ErrConfig, "model is not loaded")
	}
	if len(scales) == 0 {
		return nil, errors.Wrap(ErrConfig, "at least one scale is required")
	}
	size, err := images.TensorSize(img)
	if err != nil {
		return nil, err
	}
	rgb, err := images.ToImage(img)
	if err != nil {
		return nil, err
	}

	up := camops.StridedUpSize(size, stdOutputStride)
	classes := s.model.NumClasses()
	sums := make(camops.Stack, classes)
	for c := range sums {
		sums[c] = camops.NewMap(up.Width, up.Height)
	}

	for _, scale := range scales {
		t, err := s.PrepareImage(rgb, scale)
		if err != nil {
			return nil, errors.Wrapf(err, "scale %v", scale)
		}
		scaled, err := images.TensorSize(t)
		if err != nil {
			return nil, err
		}
		act, err := s.model.Activations(t)
		if err != nil {
			return nil, errors.Wrapf(err, "scale %v", scale)
		}
		for c := 0; c < classes; c++ {
			cam, err := s.model.Attribute(act, c, scaled)
			if err != nil {
				return nil, errors.Wrapf(err, "class %d at scale %v", c, scale)
			}
			if err := sums[c].AddInPlace(camops.ResizeBilinear(cam, up.Width, up.Height)); err != nil {
				return nil, err
			}
		}
	}

	out := make(camops.Stack, classes)
	for c, m := range sums {
		cropped, err := m.Crop(size.Width, size.Height)
		if err != nil {
			return nil, err
		}
		out[c] = cropped
	}
	if normalize {
		out = out.NormalizeMax()
	}
	return out, nil
}

// ComputeCAMStack explains the center frame of a sample.
func (s *Standard) ComputeCAMStack(ctx context.Context, sample dataset.Sample, normalize bool) (camops.Stack, error) {
	return s.GenerateCAMsWithStdMethod(sample.Center(), s.scales, normalize)
}

// MakeAllCAMs runs the evaluation loop. Grad-CAM maps are always max-normalised.
func (s *Standard) MakeAllCAMs(ctx context.Context, opts RunOptions) (*Summary, error) {
	opts.Normalize = true
	return s.Run(ctx, s, opts)
}

// Close releases the classifier, then the driver.
func (s *Standard) Close() error {
	var err error
	if s.model != nil {
		err = s.model.Close()
		s.model = nil
	}
	if derr := s.Driver.Close(); err == nil {
		err = derr
	}
	return err
}
