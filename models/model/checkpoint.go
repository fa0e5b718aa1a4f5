package model

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nvr-ai/go-cam/npz"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrConfig is returned for malformed tags, missing checkpoint files and missing or
// malformed checkpoint keys.
var ErrConfig = errors.New("configuration error")

// modulePrefix is prepended to every key of a checkpoint saved from a replicated model.
const modulePrefix = "module."

var architecturePattern = regexp.MustCompile(`epochs_(.*?)_batch`)

// ParseArchitecture extracts the backbone name between "epochs_" and "_batch" in a tag.
//
// Arguments:
//   - tag: The checkpoint tag.
//
// Returns:
//   - string: The architecture, e.g. "resnet50".
//   - error: ErrConfig when the tag does not follow the convention.
func ParseArchitecture(tag string) (string, error) {
	m := architecturePattern.FindStringSubmatch(tag)
	if m == nil || m[1] == "" {
		return "", errors.Wrapf(ErrConfig, "tag %q has no architecture between \"epochs_\" and \"_batch\"", tag)
	}
	return m[1], nil
}

// Checkpoint is a weight archive plus the ONNX backbone exported from the same model.
type Checkpoint struct {
	// Tag is the checkpoint tag.
	Tag string
	// Architecture is parsed from the tag.
	Architecture string
	// WeightsPath is <dir>/<tag>.npz.
	WeightsPath string
	// BackbonePath is <dir>/<tag>.onnx.
	BackbonePath string
	// Weights maps layer name to array.
	Weights npz.Archive
}

// LoadCheckpoint reads <dir>/<tag>.npz and checks that <dir>/<tag>.onnx exists. A tag
// that is itself a path ending in .npz is accepted too.
//
// Arguments:
//   - dir: The model directory.
//   - tag: The checkpoint tag.
//
// Returns:
//   - *Checkpoint: The loaded checkpoint with "module." prefixes removed.
//   - error: ErrConfig when the tag is malformed or a file is missing.
func LoadCheckpoint(dir, tag string) (*Checkpoint, error) {
	arch, err := ParseArchitecture(tag)
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Join(dir, tag), ".npz")
	c := &Checkpoint{
		Tag:          tag,
		Architecture: arch,
		WeightsPath:  base + ".npz",
		BackbonePath: base + ".onnx",
	}

	if _, err := os.Stat(c.BackbonePath); err != nil {
		return nil, errors.Wrapf(ErrConfig, "backbone %s: %v", c.BackbonePath, err)
	}
	weights, err := npz.Read(c.WeightsPath)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "weights %s: %v", c.WeightsPath, err)
	}
	c.Weights = AdjustStateDict(weights, true)
	return c, nil
}

// Lookup returns a float32 weight by layer name.
//
// Returns:
//   - *tensor.Dense: The weight.
//   - error: ErrConfig if the key is missing or the array is not float32.
func (c *Checkpoint) Lookup(key string) (*tensor.Dense, error) {
	t, err := c.Weights.Lookup(key)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "checkpoint %s: %v", c.Tag, err)
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrConfig, "checkpoint %s: %q is %v, expected float32", c.Tag, key, t.Dtype())
	}
	return t, nil
}

// NumClasses returns the leading dimension of the named head weight.
//
// Arguments:
//   - key: The head key, e.g. "classifier.weight" or "0.fc.bias".
//
// Returns:
//   - int: The class count.
//   - error: ErrConfig if the key is missing or scalar.
func (c *Checkpoint) NumClasses(key string) (int, error) {
	t, err := c.Lookup(key)
	if err != nil {
		return 0, err
	}
	shape := t.Shape()
	if len(shape) == 0 || shape[0] < 1 {
		return 0, errors.Wrapf(ErrConfig, "checkpoint %s: %q has shape %v", c.Tag, key, shape)
	}
	return shape[0], nil
}

// ParamCount returns the total number of values across every array.
func (c *Checkpoint) ParamCount() int {
	n := 0
	for _, t := range c.Weights {
		n += t.Shape().TotalSize()
	}
	return n
}

// AdjustStateDict adds or removes the "module." key prefix used by checkpoints saved
// from a replicated model. Keys already in the requested form are kept as they are.
//
// Arguments:
//   - weights: The original archive.
//   - removeModule: True strips the prefix, false adds it.
//
// Returns:
//   - npz.Archive: A new archive sharing the arrays.
func AdjustStateDict(weights npz.Archive, removeModule bool) npz.Archive {
	out := make(npz.Archive, len(weights))
	for key, value := range weights {
		switch {
		case removeModule:
			key = strings.TrimPrefix(key, modulePrefix)
		case !strings.HasPrefix(key, modulePrefix):
			key = modulePrefix + key
		}
		out[key] = value
	}
	return out
}
