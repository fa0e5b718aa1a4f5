package generator

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/dataset"
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

var testPaths = []string{
	"/data/images/seq/000.jpg",
	"/data/images/seq/001.jpg",
	"/data/images/seq/002.jpg",
}

// TestRunStopsAfterMaxItems checks the stop rule and the summary file without SAM.
func TestRunStopsAfterMaxItems(t *testing.T) {
	d := newTestDriver(t, testConfig(t), maskDataset(3, testPaths...))
	gen := NewPOFCAM(d)
	m := &fixedModel{stack: twoClassStack()}
	gen.SetModel(m)

	summary, err := gen.MakeAllCAMs(context.Background(), RunOptions{Normalize: true, MaxItems: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Items)
	assert.Equal(t, 2, m.calls)
	assert.Equal(t, []float64{1, 1}, summary.IoUs)
	assert.Equal(t, 1.0, summary.MeanIoU)
	assert.True(t, math.IsNaN(summary.MeanIoUSAM))
	assert.Empty(t, summary.Saved)

	text, err := os.ReadFile(d.SummaryPath(false))
	require.NoError(t, err)
	assert.Equal(t, "POF-CAM\nMean IoU: 1\nsamenhance: false\nnormalize: true\nwith_flows: false", string(text))
	assert.NoFileExists(t, d.SummaryPath(true))

	op, ok := d.Profiler().Operation("cams")
	require.True(t, ok)
	assert.Equal(t, int64(2), op.Count)

	require.NoError(t, gen.Close())
	assert.True(t, m.closed)
}

// TestRunSavesRefinedMasks checks that the refined mask is scored and saved.
func TestRunSavesRefinedMasks(t *testing.T) {
	ref := &stubRefiner{mask: camops.NewMask(3, 3)}
	d := newTestDriver(t, testConfig(t), maskDataset(3, testPaths...), WithRefiner(ref))
	gen := NewPOFCAM(d)
	gen.SetModel(&fixedModel{stack: twoClassStack()})

	summary, err := gen.MakeAllCAMs(context.Background(), RunOptions{SaveMasks: true, Normalize: false, MaxItems: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Items)
	assert.Equal(t, []float64{0, 0, 0}, summary.IoUsSAM)
	assert.Equal(t, 1.0, summary.MeanIoU)
	assert.Equal(t, 0.0, summary.MeanIoUSAM)
	require.Len(t, summary.Saved, 3)
	for _, p := range summary.Saved {
		assert.FileExists(t, p)
	}

	text, err := os.ReadFile(d.SummaryPath(true))
	require.NoError(t, err)
	assert.Equal(t, "POF-CAM\nMean IoU: 0\nsamenhance: true\nnormalize: false\nwith_flows: false", string(text))
	assert.FileExists(t, d.SummaryPath(false))
}

// TestRunWithoutGroundTruth checks that no summary is written for unlabelled data.
func TestRunWithoutGroundTruth(t *testing.T) {
	ds := &memoryDataset{classes: mustClasses()}
	for _, p := range testPaths {
		ds.samples = append(ds.samples, dataset.Plain{Image: grayTensor(3, 3), Path: p})
	}
	d := newTestDriver(t, testConfig(t), ds)
	gen := NewPOFCAM(d)
	gen.SetModel(&fixedModel{stack: twoClassStack()})

	summary, err := gen.MakeAllCAMs(context.Background(), RunOptions{SaveMasks: true})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Items)
	assert.Empty(t, summary.IoUs)
	assert.True(t, math.IsNaN(summary.MeanIoU))
	assert.NoFileExists(t, d.SummaryPath(false))
}

// TestRunErrors checks that the first failure aborts the run.
func TestRunErrors(t *testing.T) {
	d := newTestDriver(t, testConfig(t), maskDataset(1, "/data/frames/000.jpg"))
	gen := NewPOFCAM(d)
	gen.SetModel(&fixedModel{stack: twoClassStack()})

	_, err := gen.MakeAllCAMs(context.Background(), RunOptions{SaveMasks: true})
	assert.ErrorIs(t, err, ErrPathConvention)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = gen.MakeAllCAMs(ctx, DefaultRunOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

// TestGenerateCAMsLateral checks that identical frames with zero flow fuse to the
// normalised center stack.
func TestGenerateCAMsLateral(t *testing.T) {
	d := newTestDriver(t, testConfig(t), &memoryDataset{classes: mustClasses()})
	gen := NewPOFCAM(d)
	stack := twoClassStack()
	gen.SetModel(&fixedModel{stack: stack})

	frame := grayTensor(3, 3)
	flows := camops.Flows{Left: camops.NewFlow(6, 6), Right: camops.NewFlow(6, 6)}
	sample := dataset.WithFlowAndMask{
		Frames: [3]*tensor.Dense{frame, frame, frame},
		Flows:  flows,
		Path:   testPaths[0],
	}
	fused, err := gen.ComputeCAMStack(context.Background(), sample, false)
	require.NoError(t, err)

	want := stack.NormalizeMax()
	require.Len(t, fused, len(want))
	for c := range want {
		assert.InDeltaSlice(t, want[c].Data, fused[c].Data, 1e-5)
	}

	single, err := gen.ComputeCAMStack(context.Background(), dataset.Plain{Image: frame}, false)
	require.NoError(t, err)
	assert.Equal(t, stack[1].Data, single[1].Data)
}

// TestStandardGenerate checks scale accumulation, cropping and normalisation.
func TestStandardGenerate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Variant = model.ModelNameStandard
	d := newTestDriver(t, cfg, &memoryDataset{classes: mustClasses()})
	gen := NewStandard(d)
	attr := &constantAttribution{classes: 2}
	gen.SetModel(attr)

	img := grayTensor(8, 6)
	stack, err := gen.GenerateCAMsWithStdMethod(img, []float64{1, 0.5}, false)
	require.NoError(t, err)
	require.Len(t, stack, 2)
	assert.Equal(t, 8, stack[0].Width)
	assert.Equal(t, 6, stack[0].Height)
	assert.InDelta(t, 2, stack[0].At(3, 3), 1e-5)
	assert.InDelta(t, 4, stack[1].At(7, 5), 1e-5)
	assert.Equal(t, []int{0, 1, 0, 1}, attr.targets)

	stack, err = gen.GenerateCAMsWithStdMethod(img, []float64{1}, true)
	require.NoError(t, err)
	assert.InDelta(t, 1, stack[1].Max(), 1e-4)
	assert.LessOrEqual(t, stack[1].Max(), float32(1))

	_, err = gen.GenerateCAMsWithStdMethod(img, nil, true)
	assert.ErrorIs(t, err, ErrConfig)

	prepared, err := gen.PrepareImage(grayImage(10, 4), 0.5)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 5}, []int(prepared.Shape()))
}

// TestStandardAlwaysNormalizes checks that the run forces max normalisation.
func TestStandardAlwaysNormalizes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Variant = model.ModelNameStandard
	d := newTestDriver(t, cfg, maskDataset(1, testPaths...))
	gen := NewStandard(d)
	gen.SetModel(&constantAttribution{classes: 2})

	summary, err := gen.MakeAllCAMs(context.Background(), RunOptions{Normalize: false, MaxItems: 1})
	require.NoError(t, err)
	assert.True(t, summary.Normalize)
	assert.Equal(t, "GradCAM", summary.Title)
	assert.FileExists(t, d.SummaryPath(false))
}

// TestParseScales checks the scale list parser.
func TestParseScales(t *testing.T) {
	got, err := ParseScales(" 1.0, 0.5 ,2")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0.5, 2}, got)

	for _, bad := range []string{"", "1.0,", "0", "-1", "x"} {
		_, err := ParseScales(bad)
		assert.ErrorIs(t, err, ErrConfig, bad)
	}
}

// TestConfigValidate checks the field checks.
func TestConfigValidate(t *testing.T) {
	base := DefaultConfig()
	base.Tag = testTag
	require.NoError(t, base.Validate())

	cases := map[string]func(c *Config){
		"malformed tag": func(c *Config) { c.Tag = "resnet50" },
		"variant":       func(c *Config) { c.Variant = "yolo" },
		"output root":   func(c *Config) { c.OutputRoot = "" },
		"devices":       func(c *Config) { c.Devices = -1 },
		"provider":      func(c *Config) { c.Provider.Backend = "tpu" },
		"sam":           func(c *Config) { c.SAM.Enabled = true; c.SAM.PointsPerSide = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrConfig)
		})
	}
}
