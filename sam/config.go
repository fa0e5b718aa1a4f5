// Package sam - Segment Anything refinement of coarse CAM masks.
//
// A SAM2 image encoder and prompt decoder run in ONNX Runtime. Instance masks are
// generated automatically from a jittered point grid, de-duplicated with mask NMS and
// merged with a coarse mask by containment.
package sam

import (
	"github.com/nvr-ai/go-cam/inference/providers"
	"github.com/pkg/errors"
)

// Label is the prompt label of a point.
type Label int

const (
	// LabelBackground excludes the point.
	LabelBackground Label = 0
	// LabelForeground selects the point.
	LabelForeground Label = 1
)

const (
	// inputSize is the long side of the encoder input.
	inputSize = 1024
	// logitsSize is the side of the decoder mask logits.
	logitsSize = 256
	// maskThreshold binarises mask logits.
	maskThreshold = 0.0
)

// ContainmentThreshold is the minimum share of an instance that must lie inside the
// coarse mask for the instance to be kept by MergeMasks.
const ContainmentThreshold = 0.5

// ErrConfig is returned for an invalid refiner configuration.
var ErrConfig = errors.New("invalid sam configuration")

// Config describes the SAM models and the automatic mask generator.
type Config struct {
	// Enabled turns refinement on in the driver.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// EncoderPath is the image encoder model.
	EncoderPath string `json:"encoder_path" yaml:"encoder_path"`
	// DecoderPath is the prompt encoder and mask decoder model.
	DecoderPath string `json:"decoder_path" yaml:"decoder_path"`
	// Provider selects the execution provider.
	Provider providers.Config `json:"provider" yaml:"provider"`
	// Device is the device ordinal for GPU providers.
	Device int `json:"device" yaml:"device"`
	// PointsPerSide is the grid density of automatic prompts.
	PointsPerSide int `json:"points_per_side" yaml:"points_per_side"`
	// ScoreThreshold drops instances whose predicted IoU is lower.
	ScoreThreshold float32 `json:"score_threshold" yaml:"score_threshold"`
	// NMSThreshold suppresses instances overlapping a better one by more than this mask IoU.
	NMSThreshold float32 `json:"nms_threshold" yaml:"nms_threshold"`
	// MinArea drops instances with fewer pixels.
	MinArea int `json:"min_area" yaml:"min_area"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		EncoderPath:    "./sam2_weights/vision_encoder.onnx",
		DecoderPath:    "./sam2_weights/prompt_encoder_mask_decoder.onnx",
		Provider:       providers.Config{Backend: providers.CPUProviderBackend},
		PointsPerSide:  16,
		ScoreThreshold: 0.7,
		NMSThreshold:   0.7,
		MinArea:        16,
	}
}

// Validate checks the generator parameters. Model paths are checked when loading.
func (c Config) Validate() error {
	if c.PointsPerSide < 1 {
		return errors.Wrapf(ErrConfig, "points_per_side must be positive, got %d", c.PointsPerSide)
	}
	if c.NMSThreshold <= 0 || c.NMSThreshold > 1 {
		return errors.Wrapf(ErrConfig, "nms_threshold must be in (0, 1], got %v", c.NMSThreshold)
	}
	if c.MinArea < 0 {
		return errors.Wrapf(ErrConfig, "min_area must not be negative, got %d", c.MinArea)
	}
	return nil
}
