package standard

import (
	"testing"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/inference"
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/nvr-ai/go-cam/npz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// constantBackbone emits a [1, 2, 2, 2] feature map regardless of the input.
type constantBackbone struct {
	inputs [][]int64
}

func (b *constantBackbone) RunFloat32(_ []float32, shape []int64) ([]inference.Output, error) {
	b.inputs = append(b.inputs, append([]int64(nil), shape...))
	return []inference.Output{{
		Shape: []int64{1, 2, 2, 2},
		Data:  []float32{1, 0, 0, 2, 0, 1, 1, 0},
	}}, nil
}

func (b *constantBackbone) Close() error { return nil }

func testCheckpoint() *model.Checkpoint {
	return &model.Checkpoint{
		Tag:          "std_epochs_resnet50_batch_8",
		Architecture: "resnet50",
		Weights: npz.Archive{
			WeightKey: tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, -1, -1, 1})),
			BiasKey:   tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{0, 0})),
		},
	}
}

// TestActivationsAndAttribute checks the backbone call and the attribution size.
func TestActivationsAndAttribute(t *testing.T) {
	backbone := &constantBackbone{}
	c, err := NewWithReplicas(testCheckpoint(), inference.NewReplicasFrom(backbone))
	require.NoError(t, err)
	assert.Equal(t, 2, c.NumClasses())
	assert.Equal(t, model.ModelNameStandard, c.Name())
	assert.Equal(t, 6, c.ParamCount())
	assert.Equal(t, 2, c.Head().NumClasses())

	img := tensor.New(tensor.WithShape(3, 10, 12), tensor.Of(tensor.Float32))
	act, err := c.Activations(img)
	require.NoError(t, err)
	assert.Equal(t, 2, act.Channels)
	assert.Equal(t, [][]int64{{1, 3, 10, 12}}, backbone.inputs)

	for target := 0; target < c.NumClasses(); target++ {
		m, err := c.Attribute(act, target, camops.Size{Width: 12, Height: 10})
		require.NoError(t, err)
		assert.Equal(t, 12, m.Width)
		assert.Equal(t, 10, m.Height)
		assert.LessOrEqual(t, m.Max(), float32(1))
	}
}

// TestNewWithReplicasMissingBias checks the class-count key requirement.
func TestNewWithReplicasMissingBias(t *testing.T) {
	ckpt := testCheckpoint()
	delete(ckpt.Weights, BiasKey)
	_, err := NewWithReplicas(ckpt, inference.NewReplicasFrom())
	assert.ErrorIs(t, err, model.ErrConfig)

	ckpt = testCheckpoint()
	ckpt.Weights[BiasKey] = tensor.New(tensor.WithShape(3), tensor.Of(tensor.Float32))
	_, err = NewWithReplicas(ckpt, inference.NewReplicasFrom())
	assert.ErrorIs(t, err, model.ErrConfig)
}
