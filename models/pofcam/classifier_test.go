package pofcam

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

// fakeBackbone returns fixed per-item features sized to the input reduced by stride,
// a quarter when stride is zero.
type fakeBackbone struct {
	channels int
	stride   int
	// feature returns the value of channel k at (x, y) for batch item n.
	feature func(n, k, x, y int) float32
	shapes  [][]int64
}

func (f *fakeBackbone) RunFloat32(data []float32, shape []int64) ([]inference.Output, error) {
	f.shapes = append(f.shapes, append([]int64(nil), shape...))
	n := int(shape[0])
	stride := f.stride
	if stride == 0 {
		stride = 4
	}
	size := camops.StridedSize(camops.Size{Width: int(shape[3]), Height: int(shape[2])}, stride)
	out := make([]float32, 0, n*f.channels*size.Width*size.Height)
	for i := 0; i < n; i++ {
		for k := 0; k < f.channels; k++ {
			for y := 0; y < size.Height; y++ {
				for x := 0; x < size.Width; x++ {
					out = append(out, f.feature(i, k, x, y))
				}
			}
		}
	}
	return []inference.Output{{
		Shape: []int64{int64(n), int64(f.channels), int64(size.Height), int64(size.Width)},
		Data:  out,
	}}, nil
}

func (f *fakeBackbone) Close() error { return nil }

func identityCheckpoint(t *testing.T) *model.Checkpoint {
	t.Helper()
	return &model.Checkpoint{
		Tag:          "pofcam_epochs_resnet50_batch_4",
		Architecture: "resnet50",
		Weights: npz.Archive{
			WeightKey: tensor.New(tensor.WithShape(2, 2, 1, 1), tensor.WithBacking([]float32{1, 0, 0, 1})),
		},
	}
}

func zeroImage(width, height int) *tensor.Dense {
	return tensor.New(tensor.WithShape(3, height, width), tensor.Of(tensor.Float32))
}

// TestGenerateCAMsConstantFeatures checks flip accumulation, ReLU, crop and max
// normalisation on features that do not vary in space.
func TestGenerateCAMsConstantFeatures(t *testing.T) {
	backbone := &fakeBackbone{channels: 2, feature: func(_, k, _, _ int) float32 {
		if k == 0 {
			return 1
		}
		return -1
	}}
	c, err := NewWithReplicas(identityCheckpoint(t), inference.NewReplicasFrom(backbone))
	require.NoError(t, err)
	assert.Equal(t, 2, c.NumClasses())
	assert.Equal(t, "resnet50", c.Architecture())
	assert.Equal(t, model.ModelNamePOFCAM, c.Name())
	assert.Equal(t, 1, c.Devices())

	raw, err := c.GenerateCAMs(zeroImage(8, 8), []float64{1.0}, false)
	require.NoError(t, err)
	require.Len(t, raw, 2)
	w, h := raw.Shape()
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, h)
	for _, v := range raw[0].Data {
		assert.InDelta(t, 2, v, 1e-5)
	}
	assert.Equal(t, float32(0), raw[1].Max())
	assert.Equal(t, [][]int64{{2, 3, 8, 8}}, backbone.shapes)

	norm, err := c.GenerateCAMs(zeroImage(8, 8), []float64{1.0, 0.5}, true)
	require.NoError(t, err)
	assert.InDelta(t, 1, norm[0].Max(), 1e-4)
	assert.LessOrEqual(t, norm[0].Max(), float32(1))
	assert.Equal(t, []int64{2, 3, 4, 4}, backbone.shapes[2])
}

// TestScaleCAMsUnflipsMirror checks that the mirrored half is flipped back before
// being added.
func TestScaleCAMsUnflipsMirror(t *testing.T) {
	backbone := &fakeBackbone{channels: 2, feature: func(_, k, x, y int) float32 {
		if k == 0 && x == 0 && y == 0 {
			return 1
		}
		return 0
	}}
	c, err := NewWithReplicas(identityCheckpoint(t), inference.NewReplicasFrom(backbone))
	require.NoError(t, err)

	cams, err := c.scaleCAMs(zeroImage(8, 8), 1.0)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, 0, 0}, cams[0].Data)
	assert.Equal(t, []float32{0, 0, 0, 0}, cams[1].Data)
}

// TestGenerateCAMsSingleResize checks that feature-resolution maps are upsampled
// straight to the covering size before cropping.
func TestGenerateCAMsSingleResize(t *testing.T) {
	backbone := &fakeBackbone{channels: 2, stride: 3, feature: func(n, k, x, y int) float32 {
		if n == 0 && k == 0 {
			return float32(x + 3*y)
		}
		return 0
	}}
	c, err := NewWithReplicas(identityCheckpoint(t), inference.NewReplicasFrom(backbone))
	require.NoError(t, err)

	got, err := c.GenerateCAMs(zeroImage(8, 8), []float64{1.0}, false)
	require.NoError(t, err)

	raw := camops.NewMap(3, 3)
	for i := range raw.Data {
		raw.Data[i] = float32(i)
	}
	want, err := camops.ResizeBilinear(raw, 16, 16).Crop(8, 8)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want.Data, got[0].Data, 1e-5)
	assert.Equal(t, float32(0), got[1].Max())
}

// TestProject checks the projection against a hand computed product.
func TestProject(t *testing.T) {
	ckpt := identityCheckpoint(t)
	ckpt.Weights[WeightKey] = tensor.New(tensor.WithShape(1, 2, 1, 1), tensor.WithBacking([]float32{2, -1}))
	c, err := NewWithReplicas(ckpt, inference.NewReplicasFrom())
	require.NoError(t, err)

	stacks, err := c.Project(inference.Output{
		Shape: []int64{1, 2, 1, 2},
		Data:  []float32{1, 3, 1, 7},
	})
	require.NoError(t, err)
	require.Len(t, stacks, 1)
	assert.Equal(t, []float32{1, 0}, stacks[0][0].Data)

	_, err = c.Project(inference.Output{Shape: []int64{1, 3, 1, 1}, Data: []float32{1, 2, 3}})
	assert.ErrorIs(t, err, camops.ErrShapeMismatch)
}

// TestNewWithReplicasRejectsBadWeights checks missing and malformed projections.
func TestNewWithReplicasRejectsBadWeights(t *testing.T) {
	ckpt := identityCheckpoint(t)
	ckpt.Weights[WeightKey] = tensor.New(tensor.WithShape(2, 2, 3, 3), tensor.Of(tensor.Float32))
	_, err := NewWithReplicas(ckpt, inference.NewReplicasFrom())
	assert.ErrorIs(t, err, model.ErrConfig)

	delete(ckpt.Weights, WeightKey)
	_, err = NewWithReplicas(ckpt, inference.NewReplicasFrom())
	assert.ErrorIs(t, err, model.ErrConfig)
}

// TestGenerateCAMsNoScales checks the empty scale list error.
func TestGenerateCAMsNoScales(t *testing.T) {
	c, err := NewWithReplicas(identityCheckpoint(t), inference.NewReplicasFrom(&fakeBackbone{channels: 2}))
	require.NoError(t, err)
	_, err = c.GenerateCAMs(zeroImage(4, 4), nil, true)
	assert.ErrorIs(t, err, model.ErrConfig)
}
