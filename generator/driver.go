package generator

import (
	"fmt"
	"image"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/logs"
	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/dataset"
	"github.com/nvr-ai/go-cam/images"
	"github.com/nvr-ai/go-cam/npz"
	"github.com/nvr-ai/go-cam/profiler"
	"github.com/nvr-ai/go-cam/sam"
	"github.com/nvr-ai/go-cam/viz"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// saveMarkers are the dataset directories a saved mask path is rooted at, in priority
// order.
var saveMarkers = []string{"images", "training", "validation"}

// maskKey is the archive key of a persisted mask.
const maskKey = "array"

// Refiner turns a coarse mask into a refined one.
type Refiner interface {
	// Refine returns the refined mask of img, same size as coarse.
	Refine(img image.Image, coarse *camops.Mask) (*camops.Mask, error)
	// Close releases the refiner.
	Close() error
}

// Option customises a Driver.
type Option func(*Driver)

// WithRand replaces the seeded random source.
func WithRand(rng *rand.Rand) Option {
	return func(d *Driver) { d.rng = rng }
}

// WithRefiner installs a refiner instead of loading SAM from the configuration.
func WithRefiner(r Refiner) Option {
	return func(d *Driver) { d.refiner = r }
}

// WithLog replaces the process logger.
func WithLog(log logs.Log) Option {
	return func(d *Driver) { d.log = log }
}

// Driver holds the state shared by every variant: configuration, dataset, output
// directories, logger, random source and the optional refiner.
type Driver struct {
	cfg      Config
	layout   Layout
	dataset  dataset.Dataset
	scales   []float64
	rng      *rand.Rand
	refiner  Refiner
	log      logs.Log
	profiler *profiler.Profiler

	classToIndex map[string]int
	indexToClass map[int]string
	numClasses   int

	logDir string
	camDir string
	vizDir string
	figure int
}

// New validates the configuration and prepares a driver.
//
// Order of operations:
//  1. Validate the configuration and parse the scales.
//  2. Seed the random source and build the class dictionaries.
//  3. Apply options, create the output directories and the logger.
//  4. Load SAM when enabled and no refiner was injected.
//
// Arguments:
//   - cfg: The run configuration.
//   - ds: The dataset to run over.
//   - opts: Optional overrides.
//
// Returns:
//   - *Driver: The driver. Call Close when done.
//   - error: ErrConfig for an invalid configuration, or an I/O or SAM load error.
func New(cfg Config, ds dataset.Dataset, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, errors.Wrap(ErrConfig, "dataset is required")
	}
	scales, err := ParseScales(cfg.Scales)
	if err != nil {
		return nil, err
	}
	layout, err := LayoutFor(cfg.Variant)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		cfg:      cfg,
		layout:   layout,
		dataset:  ds,
		scales:   scales,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		profiler: profiler.New(),
	}
	d.classToIndex, d.indexToClass = ds.Classes().Dictionaries()
	d.numClasses = ds.Classes().Len()

	for _, opt := range opts {
		opt(d)
	}
	if err := d.SetLog(layout); err != nil {
		return nil, err
	}

	if cfg.SAM.Enabled && d.refiner == nil {
		s, err := sam.Load(cfg.SAM, d.rng)
		if err != nil {
			return nil, errors.Wrap(err, "loading sam")
		}
		d.refiner = s
	}
	return d, nil
}

// SetLog creates the summary, mask and figure directories of a layout and the
// logger, unless one was injected.
func (d *Driver) SetLog(l Layout) error {
	base := filepath.Join(d.cfg.OutputRoot, l.Dir)
	d.logDir = filepath.Join(base, l.LogDir)
	d.camDir = filepath.Join(base, "cams")
	d.vizDir = filepath.Join(base, "viz")
	for _, dir := range []string{d.logDir, d.camDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}
	if d.log == nil {
		log, err := logs.NewLog()
		if err != nil {
			return errors.Wrap(err, "creating logger")
		}
		d.log = log
	}
	return nil
}

// Config returns the run configuration.
func (d *Driver) Config() Config { return d.cfg }

// Scales returns the parsed resize factors.
func (d *Driver) Scales() []float64 { return d.scales }

// Rand returns the seeded random source of the run.
func (d *Driver) Rand() *rand.Rand { return d.rng }

// Log returns the logger.
func (d *Driver) Log() logs.Log { return d.log }

// Dataset returns the dataset.
func (d *Driver) Dataset() dataset.Dataset { return d.dataset }

// Profiler returns the stage timer of the run.
func (d *Driver) Profiler() *profiler.Profiler { return d.profiler }

// LogDir returns the summary directory.
func (d *Driver) LogDir() string { return d.logDir }

// CamDir returns the mask directory.
func (d *Driver) CamDir() string { return d.camDir }

// VizDir returns the figure directory.
func (d *Driver) VizDir() string { return d.vizDir }

// ClassName returns the dictionary name of a class index, or the index itself.
func (d *Driver) ClassName(idx int) string {
	if name, ok := d.indexToClass[idx]; ok {
		return name
	}
	return fmt.Sprintf("%d", idx)
}

// ClassIndex returns the dictionary index of a class name.
func (d *Driver) ClassIndex(name string) (int, bool) {
	idx, ok := d.classToIndex[name]
	return idx, ok
}

// NumClasses returns the width of the loaded classifier head, or the dataset class
// count before a model is loaded.
func (d *Driver) NumClasses() int { return d.numClasses }

// setNumClasses records the classifier head width.
func (d *Driver) setNumClasses(n int) {
	if n != len(d.indexToClass) {
		d.log.Warnf("classifier has %d classes, dataset dictionary has %d", n, len(d.indexToClass))
	}
	d.numClasses = n
}

// Close releases the refiner.
func (d *Driver) Close() error {
	if d.refiner == nil {
		return nil
	}
	err := d.refiner.Close()
	d.refiner = nil
	return err
}

// ComputeIoU scores a predicted mask against 8-bit ground truth binarised at
// v/255 > 0.5. Any nonzero predicted pixel is foreground.
//
// Arguments:
//   - pred: The predicted mask.
//   - gt: The ground truth.
//
// Returns:
//   - float64: The IoU, 1.0 when both masks are empty.
//   - error: ErrShapeMismatch if the sizes differ.
func (d *Driver) ComputeIoU(pred, gt *camops.Mask) (float64, error) {
	if pred.Width != gt.Width || pred.Height != gt.Height {
		return 0, errors.Wrapf(ErrShapeMismatch, "prediction %dx%d, ground truth %dx%d",
			pred.Width, pred.Height, gt.Width, gt.Height)
	}
	return camops.BoolIoU(pred.Bools(), gt.BinarizeGroundTruth())
}

// GenerateMasks takes the per-pixel argmax of a CAM stack and returns the foreground
// mask.
//
// Arguments:
//   - stack: One CAM per class.
//   - img: The normalised image, used for figures.
//   - gt: The ground truth, or nil.
//   - visualize: Write the CAM and mask figures.
//
// Returns:
//   - *camops.Mask: The class 1 mask, 0 or 1 per pixel.
//   - error: ErrShapeMismatch for an empty or ragged stack, or a figure error.
func (d *Driver) GenerateMasks(stack camops.Stack, img *tensor.Dense, gt *camops.Mask, visualize bool) (*camops.Mask, error) {
	seg, err := camops.Segment(stack)
	if err != nil {
		return nil, err
	}
	if visualize {
		if err := d.VisualizeCAMs(img, stack, gt); err != nil {
			return nil, err
		}
		if err := d.visualizeMasks(img, seg, gt); err != nil {
			return nil, err
		}
	}
	return seg.Foreground(), nil
}

// VisualizeCAMs writes one JET heatmap per class over the image, the ground truth
// when given, and the image itself.
func (d *Driver) VisualizeCAMs(img *tensor.Dense, stack camops.Stack, gt *camops.Mask) error {
	den, err := images.ToImage(img)
	if err != nil {
		return err
	}
	panels := make([]viz.Panel, 0, len(stack)+2)
	for c, cam := range stack {
		overlay, err := images.ShowCAMOnImage(den, cam, images.DefaultImageWeight)
		if err != nil {
			return err
		}
		panels = append(panels, viz.Panel{Title: d.ClassName(c), Image: overlay})
	}
	if gt != nil {
		panels = append(panels, viz.Panel{Title: "Ground truth", Image: viz.MaskImage(gt)})
	}
	panels = append(panels, viz.Panel{Title: "Model: " + d.cfg.Tag, Image: den})
	return viz.SaveFigure(d.nextFigure("cams"), panels, len(panels))
}

// visualizeMasks writes every class mask, the ground truth when given, and the image.
func (d *Driver) visualizeMasks(img *tensor.Dense, seg *camops.Segmentation, gt *camops.Mask) error {
	den, err := images.ToImage(img)
	if err != nil {
		return err
	}
	panels := make([]viz.Panel, 0, len(seg.Classes)+2)
	for c, m := range seg.Classes {
		panels = append(panels, viz.Panel{Title: d.ClassName(c), Image: viz.MaskImage(m)})
	}
	if gt != nil {
		panels = append(panels, viz.Panel{Title: "Ground truth", Image: viz.MaskImage(gt)})
	}
	panels = append(panels, viz.Panel{Title: "Model: " + d.cfg.Tag, Image: den})
	return viz.SaveFigure(d.nextFigure("masks"), panels, len(panels))
}

func (d *Driver) nextFigure(kind string) string {
	d.figure++
	return filepath.Join(d.vizDir, fmt.Sprintf("%05d_%s.png", d.figure, kind))
}

// MaskPath derives where the mask of a sample is saved: the part of originalPath after
// the first images/, training/ or validation/ directory, with an .npz extension,
// under <camDir>/<marker>/.
//
// Arguments:
//   - originalPath: The sample path.
//
// Returns:
//   - string: The archive path.
//   - error: ErrPathConvention naming the path when it has no marker.
func (d *Driver) MaskPath(originalPath string) (string, error) {
	slashed := filepath.ToSlash(originalPath)
	for _, marker := range saveMarkers {
		_, rel, found := strings.Cut(slashed, marker+"/")
		if !found || rel == "" {
			continue
		}
		rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ".npz"
		return filepath.Join(d.camDir, marker, filepath.FromSlash(rel)), nil
	}
	return "", errors.Wrapf(ErrPathConvention, "%q has none of %v", originalPath, saveMarkers)
}

// SaveMasks writes a mask as a compressed archive holding an int32 [H, W] array under
// the key "array".
//
// Arguments:
//   - mask: The mask.
//   - originalPath: The sample path the archive path is derived from.
//
// Returns:
//   - string: The written path.
//   - error: ErrPathConvention or a write error.
func (d *Driver) SaveMasks(mask *camops.Mask, originalPath string) (string, error) {
	path, err := d.MaskPath(originalPath)
	if err != nil {
		return "", err
	}
	arr := tensor.New(tensor.WithShape(mask.Height, mask.Width), tensor.WithBacking(mask.Int32()))
	if err := npz.Write(path, npz.Archive{maskKey: arr}); err != nil {
		return "", err
	}
	return path, nil
}

// SAMRefinement denormalises the image to 8-bit RGB and refines the coarse mask.
//
// Arguments:
//   - img: The normalised image.
//   - coarse: The CAM mask.
//   - gt: The ground truth, or nil; only used for the figure.
//   - visualize: Write the comparison figure.
//
// Returns:
//   - *camops.Mask: The refined mask.
//   - error: ErrConfig without a refiner, or a refinement error.
func (d *Driver) SAMRefinement(img *tensor.Dense, coarse, gt *camops.Mask, visualize bool) (*camops.Mask, error) {
	if d.refiner == nil {
		return nil, errors.Wrap(ErrConfig, "sam refinement is not enabled")
	}
	den, err := images.ToImage(img)
	if err != nil {
		return nil, err
	}
	refined, err := d.refiner.Refine(den, coarse)
	if err != nil {
		return nil, errors.Wrap(err, "sam refinement")
	}
	if visualize {
		if err := sam.PlotComparison(d.nextFigure("sam"), den, coarse, refined, gt); err != nil {
			return nil, err
		}
	}
	return refined, nil
}

// SAMEnabled reports whether a refiner is installed.
func (d *Driver) SAMEnabled() bool {
	return d.refiner != nil
}
