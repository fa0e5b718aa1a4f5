package models

import (
	"testing"

	"github.com/nvr-ai/go-cam/models/model"
	"github.com/stretchr/testify/assert"
)

// TestNewClassifierRejectsUnknownName checks the unsupported variant error.
func TestNewClassifierRejectsUnknownName(t *testing.T) {
	_, err := NewClassifier(model.NewModelArgs{Name: "yolov4"})
	assert.ErrorIs(t, err, model.ErrConfig)
	assert.Contains(t, err.Error(), "yolov4")
}

// TestNewClassifierMissingCheckpoint checks that both variants surface checkpoint errors
// before touching ONNX Runtime.
func TestNewClassifierMissingCheckpoint(t *testing.T) {
	for _, name := range []model.Name{model.ModelNamePOFCAM, model.ModelNameStandard} {
		_, err := NewClassifier(model.NewModelArgs{Name: name, Dir: t.TempDir(), Tag: "x_epochs_resnet50_batch_2"})
		assert.ErrorIs(t, err, model.ErrConfig, string(name))
	}
}
