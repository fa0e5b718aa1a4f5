package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/nvr-ai/go-cam/dataset"
	"github.com/nvr-ai/go-cam/generator"
	"github.com/nvr-ai/go-cam/models/model"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML run file. Flags override its fields.
type fileConfig struct {
	Generator generator.Config     `yaml:"generator"`
	Dataset   dataset.FolderConfig `yaml:"dataset"`
	Run       generator.RunOptions `yaml:"run"`
}

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func loadConfig(path string) (fileConfig, error) {
	cfg := fileConfig{
		Generator: generator.DefaultConfig(),
		Run:       generator.DefaultRunOptions(),
	}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing %s", path)
	}
	return cfg, nil
}

func main() {
	parser := argparse.NewParser("camgen", "Generate CAM segmentation masks and score them against ground truth")
	configPath := parser.String("c", "config", &argparse.Options{Help: "YAML run file", Required: false, Default: ""})
	variant := parser.Selector("v", "variant", []string{string(model.ModelNamePOFCAM), string(model.ModelNameStandard)}, &argparse.Options{Help: "Classifier variant"})
	tag := parser.String("t", "tag", &argparse.Options{Help: "Checkpoint tag, e.g. pofcam_epochs_resnet50_batch_16"})
	modelDir := parser.String("", "modeldir", &argparse.Options{Help: "Directory holding <tag>.npz and <tag>.onnx"})
	scales := parser.String("s", "scales", &argparse.Options{Help: "Comma-separated resize factors"})
	root := parser.String("d", "dataset", &argparse.Options{Help: "Dataset root with images/, masks/ and flows/"})
	output := parser.String("o", "output", &argparse.Options{Help: "Output root for logs, masks and figures"})
	withMasks := parser.Flag("", "masks", &argparse.Options{Help: "Load ground truth and score IoU"})
	withFlows := parser.Flag("", "flows", &argparse.Options{Help: "Fuse each frame with its neighbours through optical flow"})
	withSAM := parser.Flag("", "sam", &argparse.Options{Help: "Refine masks with SAM2"})
	visualize := parser.Flag("", "visualize", &argparse.Options{Help: "Write CAM, mask and refinement figures"})
	noSave := parser.Flag("", "nosave", &argparse.Options{Help: "Do not save masks; stop after --maxitems"})
	maxItems := parser.Int("n", "maxitems", &argparse.Options{Help: "Items to process when not saving", Default: 0})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	check(err)
	if *variant != "" {
		cfg.Generator.Variant = model.Name(*variant)
	}
	if *tag != "" {
		cfg.Generator.Tag = *tag
	}
	if *modelDir != "" {
		cfg.Generator.ModelDir = *modelDir
	}
	if *scales != "" {
		cfg.Generator.Scales = *scales
	}
	if *root != "" {
		cfg.Dataset.Root = *root
	}
	if *output != "" {
		cfg.Generator.OutputRoot = *output
	}
	cfg.Dataset.Masks = cfg.Dataset.Masks || *withMasks
	cfg.Dataset.Flows = cfg.Dataset.Flows || *withFlows
	cfg.Generator.SAM.Enabled = cfg.Generator.SAM.Enabled || *withSAM
	cfg.Run.Visualize = cfg.Run.Visualize || *visualize
	if *noSave {
		cfg.Run.SaveMasks = false
	}
	if *maxItems > 0 {
		cfg.Run.MaxItems = *maxItems
	}

	logger, err := logs.NewLog()
	check(err)

	ds, err := dataset.NewFolder(cfg.Dataset)
	check(err)
	logger.Infof("[i] Dataset %s: %d items, masks=%t, flows=%t", cfg.Dataset.Root, ds.Len(), ds.WithMask(), ds.WithFlows())

	d, err := generator.New(cfg.Generator, ds, generator.WithLog(logger))
	check(err)

	gen, err := generator.NewGenerator(cfg.Generator.Variant, d)
	check(err)
	defer gen.Close()

	check(gen.LoadModel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	summary, err := gen.MakeAllCAMs(ctx, cfg.Run)
	if err != nil {
		logger.Errorf("Run failed: %v", err)
		gen.Close()
		os.Exit(1)
	}
	logger.Infof("[i] Processed %d items, saved %d masks", summary.Items, len(summary.Saved))
}
