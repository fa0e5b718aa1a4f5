package generator

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/dataset"
	"github.com/pkg/errors"
)

// RunOptions controls one pass over the dataset.
type RunOptions struct {
	// SaveMasks writes every final mask as an .npz archive. When false the loop stops
	// after MaxItems items.
	SaveMasks bool `json:"save_masks" yaml:"save_masks"`
	// Visualize writes CAM, mask and refinement figures.
	Visualize bool `json:"visualize" yaml:"visualize"`
	// Normalize divides every CAM by its maximum.
	Normalize bool `json:"normalize" yaml:"normalize"`
	// MaxItems bounds a run that does not save masks.
	MaxItems int `json:"max_items" yaml:"max_items"`
}

// DefaultRunOptions returns the options of a full saving run.
func DefaultRunOptions() RunOptions {
	return RunOptions{SaveMasks: true, Normalize: true, MaxItems: 10}
}

// Summary is the outcome of a run.
type Summary struct {
	// Title names the variant, "POF-CAM" or "GradCAM".
	Title string
	// Items is the number of processed samples.
	Items int
	// IoUs holds the CAM mask IoU of every sample with ground truth.
	IoUs []float64
	// IoUsSAM holds the refined mask IoU of every sample with ground truth.
	IoUsSAM []float64
	// MeanIoU is the mean of IoUs, NaN when there are none.
	MeanIoU float64
	// MeanIoUSAM is the mean of IoUsSAM, NaN when there are none.
	MeanIoUSAM float64
	SAMEnabled bool
	Normalize  bool
	WithFlows  bool
	// Saved lists the written mask archives.
	Saved []string
}

// stackFunc computes the CAM stack of one sample.
type stackFunc func(ctx context.Context, s dataset.Sample, normalize bool) (camops.Stack, error)

// Run processes the dataset in order: CAM stack, argmax mask, IoU against ground
// truth, SAM refinement and save. Without SaveMasks the loop stops once MaxItems
// items are done. With ground truth, one summary file per SAM setting is written.
//
// Arguments:
//   - ctx: Checked between items.
//   - gen: The variant.
//   - opts: The run options.
//
// Returns:
//   - *Summary: The accumulated results.
//   - error: The first error of any stage, or the context error.
func (d *Driver) Run(ctx context.Context, gen CAMGenerator, opts RunOptions) (*Summary, error) {
	return d.run(ctx, gen.ComputeCAMStack, opts)
}

func (d *Driver) run(ctx context.Context, stack stackFunc, opts RunOptions) (*Summary, error) {
	summary := &Summary{
		Title:      d.layout.Title,
		SAMEnabled: d.SAMEnabled(),
		Normalize:  opts.Normalize,
		WithFlows:  d.dataset.WithFlows(),
	}

	for idx := 0; idx < d.dataset.Len(); idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		saved, err := d.processItem(ctx, idx, stack, opts, summary)
		if err != nil {
			return nil, errors.Wrapf(err, "item %d", idx)
		}
		summary.Items++
		if saved != "" {
			summary.Saved = append(summary.Saved, saved)
		}
		if !opts.SaveMasks && idx+1 >= opts.MaxItems {
			break
		}
	}

	summary.MeanIoU = mean(summary.IoUs)
	summary.MeanIoUSAM = mean(summary.IoUsSAM)

	if d.dataset.WithMask() {
		if err := d.writeSummary(summary, false); err != nil {
			return nil, err
		}
		if summary.SAMEnabled {
			if err := d.writeSummary(summary, true); err != nil {
				return nil, err
			}
		}
	}
	d.profiler.Report(d.log)
	return summary, nil
}

func (d *Driver) processItem(ctx context.Context, idx int, stack stackFunc, opts RunOptions, summary *Summary) (string, error) {
	done := d.profiler.StartOperation("load")
	sample, err := d.dataset.Get(idx)
	done()
	if err != nil {
		return "", err
	}

	done = d.profiler.StartOperation("cams")
	cams, err := stack(ctx, sample, opts.Normalize)
	done()
	if err != nil {
		return "", err
	}

	img := sample.Center()
	gt := dataset.GroundTruth(sample)

	done = d.profiler.StartOperation("masks")
	mask, err := d.GenerateMasks(cams, img, gt, opts.Visualize)
	done()
	if err != nil {
		return "", err
	}
	if gt != nil {
		iou, err := d.ComputeIoU(mask, gt)
		if err != nil {
			return "", err
		}
		summary.IoUs = append(summary.IoUs, iou)
		d.profiler.RecordMetric("iou", iou)
	}

	if d.SAMEnabled() {
		done = d.profiler.StartOperation("sam")
		mask, err = d.SAMRefinement(img, mask, gt, opts.Visualize)
		done()
		if err != nil {
			return "", err
		}
		if gt != nil {
			iou, err := d.ComputeIoU(mask, gt)
			if err != nil {
				return "", err
			}
			summary.IoUsSAM = append(summary.IoUsSAM, iou)
			d.profiler.RecordMetric("iou_sam", iou)
		}
	}

	if !opts.SaveMasks {
		return "", nil
	}
	done = d.profiler.StartOperation("save")
	defer done()
	return d.SaveMasks(mask, sample.SamplePath())
}

// SummaryPath returns <logDir>/<tag>_sam_<bool>.txt.
func (d *Driver) SummaryPath(withSAM bool) string {
	return filepath.Join(d.logDir, fmt.Sprintf("%s_sam_%t.txt", d.cfg.Tag, withSAM))
}

func (d *Driver) writeSummary(s *Summary, withSAM bool) error {
	meanIoU := s.MeanIoU
	if withSAM {
		meanIoU = s.MeanIoUSAM
	}
	text := fmt.Sprintf("%s\nMean IoU: %v\nsamenhance: %t\nnormalize: %t\nwith_flows: %t",
		s.Title, meanIoU, withSAM, s.Normalize, s.WithFlows)
	d.log.Infof("%s", text)

	path := d.SummaryPath(withSAM)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return errors.Wrapf(err, "writing summary %s", path)
	}
	return nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
