package generator

import (
	"context"
	"fmt"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/dataset"
	"github.com/nvr-ai/go-cam/inference/providers"
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/pkg/errors"
)

// CAMGenerator is a classifier variant driving CAM mask generation over a dataset.
type CAMGenerator interface {
	// LoadModel loads the classifier named by the driver configuration.
	LoadModel() error
	// ComputeCAMStack returns one CAM per class for a sample, at the sample's size.
	ComputeCAMStack(ctx context.Context, s dataset.Sample, normalize bool) (camops.Stack, error)
	// MakeAllCAMs runs the evaluation loop over the whole dataset.
	MakeAllCAMs(ctx context.Context, opts RunOptions) (*Summary, error)
	// Close releases the classifier and the driver.
	Close() error
}

// deviceCount counts the visible accelerator devices.
var deviceCount = providers.DeviceCount

// NewGenerator selects the variant for a driver.
//
// Arguments:
//   - kind: The variant name.
//   - d: The shared driver.
//
// Returns:
//   - CAMGenerator: The variant. LoadModel must be called before running.
//   - error: ErrConfig for an unknown variant or one the driver was not configured for.
func NewGenerator(kind model.Name, d *Driver) (CAMGenerator, error) {
	if kind != d.cfg.Variant {
		return nil, errors.Wrapf(ErrConfig, "driver is configured for %q, not %q", d.cfg.Variant, kind)
	}
	switch kind {
	case model.ModelNamePOFCAM:
		return NewPOFCAM(d), nil
	case model.ModelNameStandard:
		return NewStandard(d), nil
	default:
		return nil, errors.Wrapf(ErrConfig, "unsupported variant %q", kind)
	}
}

// logModel writes the model load lines shared by both variants.
func (d *Driver) logModel(m model.Classifier, path string) {
	for _, line := range modelSummary(m, path) {
		d.log.Infof("%s", line)
	}
}

// modelSummary formats the architecture, the parameter count in millions, the replica
// count when above one and the checkpoint path.
func modelSummary(m model.Classifier, path string) []string {
	lines := []string{
		fmt.Sprintf("[i] Architecture is %s", m.Architecture()),
		fmt.Sprintf("[i] Total Params: %.2fM", float64(m.ParamCount())/1e6),
	}
	if m.Devices() > 1 {
		lines = append(lines, fmt.Sprintf("[i] the number of gpu : %d", m.Devices()))
	}
	return append(lines, fmt.Sprintf("model_path: %s", path))
}

// modelArgs builds the classifier arguments of the configured variant.
func (d *Driver) modelArgs() model.NewModelArgs {
	devices := d.cfg.Devices
	if devices == 0 {
		devices = deviceCount()
	}
	return model.NewModelArgs{
		Name:     d.cfg.Variant,
		Dir:      d.cfg.modelDir(d.layout),
		Tag:      d.cfg.Tag,
		Provider: d.cfg.Provider,
		Devices:  devices,
	}
}
