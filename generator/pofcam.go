package generator

import (
	"context"
	"path/filepath"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/dataset"
	"github.com/nvr-ai/go-cam/models"
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// MultiScaleModel is a classifier whose CAMs come straight from its projection head.
type MultiScaleModel interface {
	model.Classifier
	// GenerateCAMs returns one CAM per class at the image size.
	GenerateCAMs(img *tensor.Dense, scales []float64, normalize bool) (camops.Stack, error)
}

// POFCAM generates masks with the POF-CAM classifier, fusing each frame with its
// neighbours through optical flow when the dataset provides flows.
type POFCAM struct {
	*Driver
	model MultiScaleModel
}

// NewPOFCAM creates the POF-CAM variant over a driver.
func NewPOFCAM(d *Driver) *POFCAM {
	return &POFCAM{Driver: d}
}

// LoadModel loads <modelDir>/<tag>.npz and <tag>.onnx, one backbone replica per
// visible device.
func (p *POFCAM) LoadModel() error {
	args := p.modelArgs()
	c, err := models.NewClassifier(args)
	if err != nil {
		return err
	}
	m, ok := c.(MultiScaleModel)
	if !ok {
		c.Close()
		return errors.Wrapf(ErrConfig, "%s classifier does not produce multi-scale CAMs", c.Name())
	}
	p.SetModel(m)
	p.logModel(m, filepath.Join(args.Dir, args.Tag+".npz"))
	return nil
}

// SetModel installs an already loaded classifier, releasing the previous one.
func (p *POFCAM) SetModel(m MultiScaleModel) {
	if p.model != nil {
		p.model.Close()
	}
	p.model = m
	p.setNumClasses(m.NumClasses())
}

// GenerateCAMsLateral fuses the un-normalised CAMs of a three-frame window into the
// center frame and max-normalises the result.
//
// Arguments:
//   - left: The previous frame.
//   - center: The frame being segmented.
//   - right: The next frame.
//   - flows: The left and right flow fields.
//   - scales: The resize factors.
//
// Returns:
//   - camops.Stack: One fused CAM per class at the center frame size.
//   - error: ErrShapeMismatch for inconsistent frames or flows, or an inference error.
func (p *POFCAM) GenerateCAMsLateral(left, center, right *tensor.Dense, flows camops.Flows, scales []float64) (camops.Stack, error) {
	if p.model == nil {
		return nil, errors.Wrap(ErrConfig, "model is not loaded")
	}
	stacks := make([]camops.Stack, 3)
	for i, frame := range []*tensor.Dense{left, center, right} {
		s, err := p.model.GenerateCAMs(frame, scales, false)
		if err != nil {
			return nil, errors.Wrapf(err, "frame %d", i)
		}
		stacks[i] = s
	}
	fused, err := camops.FuseLateral(stacks[0], stacks[1], stacks[2], flows)
	if err != nil {
		return nil, err
	}
	return fused.Stack, nil
}

// ComputeCAMStack fuses flow windows and runs single frames directly. Fused stacks
// are always normalised.
func (p *POFCAM) ComputeCAMStack(ctx context.Context, s dataset.Sample, normalize bool) (camops.Stack, error) {
	if p.model == nil {
		return nil, errors.Wrap(ErrConfig, "model is not loaded")
	}
	switch v := s.(type) {
	case dataset.WithFlow:
		return p.GenerateCAMsLateral(v.Frames[0], v.Frames[1], v.Frames[2], v.Flows, p.scales)
	case dataset.WithFlowAndMask:
		return p.GenerateCAMsLateral(v.Frames[0], v.Frames[1], v.Frames[2], v.Flows, p.scales)
	default:
		return p.model.GenerateCAMs(s.Center(), p.scales, normalize)
	}
}

// MakeAllCAMs runs the evaluation loop.
func (p *POFCAM) MakeAllCAMs(ctx context.Context, opts RunOptions) (*Summary, error) {
	return p.Run(ctx, p, opts)
}

// Close releases the classifier, then the driver.
func (p *POFCAM) Close() error {
	var err error
	if p.model != nil {
		err = p.model.Close()
		p.model = nil
	}
	if derr := p.Driver.Close(); err == nil {
		err = derr
	}
	return err
}
