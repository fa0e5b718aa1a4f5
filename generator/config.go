// Package generator - CAM mask generation driver, evaluation loop and the POF-CAM and
// standard classifier variants.
package generator

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/inference/providers"
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/nvr-ai/go-cam/sam"
	"github.com/pkg/errors"
)

var (
	// ErrConfig is returned for a missing or malformed tag, a missing checkpoint key,
	// bad scales or a missing required field.
	ErrConfig = model.ErrConfig
	// ErrPathConvention is returned when a sample path has no images, training or
	// validation directory to save the mask under.
	ErrPathConvention = errors.New("path does not follow the dataset convention")
	// ErrShapeMismatch is returned when stacks, flows or masks disagree in shape.
	ErrShapeMismatch = camops.ErrShapeMismatch
)

// DefaultScales is the multi-scale inference schedule used when none is configured.
const DefaultScales = "1.0,0.5,1.5,2.0"

// Config is the run configuration of a driver.
type Config struct {
	// Variant selects the classifier: "pofcam" or "standard".
	Variant model.Name `json:"variant" yaml:"variant"`
	// Tag is the checkpoint tag, e.g. "pofcam_epochs_resnet50_batch_16".
	Tag string `json:"tag" yaml:"tag"`
	// ModelDir holds <tag>.npz and <tag>.onnx. Empty means <output_root>/<variant dir>/models.
	ModelDir string `json:"model_dir" yaml:"model_dir"`
	// Scales is a comma-separated list of resize factors.
	Scales string `json:"scales" yaml:"scales"`
	// Seed initialises the random source of the run.
	Seed int64 `json:"seed" yaml:"seed"`
	// OutputRoot is the directory logs, masks and figures are written under.
	OutputRoot string `json:"output_root" yaml:"output_root"`
	// Provider selects the execution provider of the classifier.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// Devices replicates the backbone. Zero counts CUDA_VISIBLE_DEVICES.
	Devices int `json:"devices" yaml:"devices"`
	// SAM configures the optional refinement.
	SAM sam.Config `json:"sam" yaml:"sam"`
}

// DefaultConfig returns a POF-CAM configuration without a tag.
func DefaultConfig() Config {
	return Config{
		Variant:    model.ModelNamePOFCAM,
		Scales:     DefaultScales,
		OutputRoot: "./experiments",
		Provider:   providers.Config{Backend: providers.CPUProviderBackend},
		SAM:        sam.DefaultConfig(),
	}
}

// Validate checks every field that can be checked without touching the disk.
//
// Returns:
//   - error: ErrConfig naming the first invalid field.
func (c Config) Validate() error {
	if c.Tag == "" {
		return errors.Wrap(ErrConfig, "tag is required")
	}
	if _, err := model.ParseArchitecture(c.Tag); err != nil {
		return err
	}
	if _, ok := layouts[c.Variant]; !ok {
		return errors.Wrapf(ErrConfig, "unsupported variant %q", c.Variant)
	}
	if _, err := ParseScales(c.Scales); err != nil {
		return err
	}
	if c.OutputRoot == "" {
		return errors.Wrap(ErrConfig, "output_root is required")
	}
	if c.Devices < 0 {
		return errors.Wrapf(ErrConfig, "devices must not be negative, got %d", c.Devices)
	}
	if err := c.Provider.Validate(); err != nil {
		return errors.Wrap(ErrConfig, err.Error())
	}
	if c.SAM.Enabled {
		if err := c.SAM.Validate(); err != nil {
			return errors.Wrap(ErrConfig, err.Error())
		}
	}
	return nil
}

// ParseScales parses a comma-separated list of positive resize factors.
//
// Arguments:
//   - s: The list, e.g. "1.0,0.5,1.5,2.0".
//
// Returns:
//   - []float64: The factors in order.
//   - error: ErrConfig for an empty list or a non-positive or malformed factor.
func ParseScales(s string) ([]float64, error) {
	var scales []float64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		v, err := strconv.ParseFloat(field, 64)
		if err != nil || v <= 0 {
			return nil, errors.Wrapf(ErrConfig, "invalid scale %q in %q", field, s)
		}
		scales = append(scales, v)
	}
	return scales, nil
}

// Layout is the output directory layout and report title of a variant.
type Layout struct {
	// Title opens every summary file.
	Title string
	// Dir is the variant directory under the output root.
	Dir string
	// LogDir is the summary directory under Dir.
	LogDir string
}

var layouts = map[model.Name]Layout{
	model.ModelNamePOFCAM:   {Title: "POF-CAM", Dir: "POF-CAM", LogDir: filepath.Join("logs", "inference")},
	model.ModelNameStandard: {Title: "GradCAM", Dir: "GradCAM", LogDir: filepath.Join("log", "inference")},
}

// LayoutFor returns the layout of a variant.
func LayoutFor(name model.Name) (Layout, error) {
	l, ok := layouts[name]
	if !ok {
		return Layout{}, errors.Wrapf(ErrConfig, "unsupported variant %q", name)
	}
	return l, nil
}

// modelDir returns the configured or default checkpoint directory.
func (c Config) modelDir(l Layout) string {
	if c.ModelDir != "" {
		return c.ModelDir
	}
	return filepath.Join(c.OutputRoot, l.Dir, "models")
}
