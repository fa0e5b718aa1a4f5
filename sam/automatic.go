package sam

import (
	"image"
	"math/rand"
	"sort"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/images"
	"github.com/pkg/errors"
)

// Segmenter generates instance masks automatically and merges them with coarse masks.
type Segmenter struct {
	encoder Encoder
	cfg     Config
	rng     *rand.Rand
}

// Load creates the SAM2 engine and wraps it in a Segmenter.
//
// Arguments:
//   - cfg: The refiner configuration.
//   - rng: The source of grid jitter.
//
// Returns:
//   - *Segmenter: The segmenter. Call Close when done.
//   - error: ErrConfig or a session error.
func Load(cfg Config, rng *rand.Rand) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	return NewSegmenter(engine, cfg, rng), nil
}

// NewSegmenter wraps an encoder. The segmenter owns the encoder.
func NewSegmenter(encoder Encoder, cfg Config, rng *rand.Rand) *Segmenter {
	if rng == nil {
		rng = rand.New(rand.NewSource(0))
	}
	return &Segmenter{encoder: encoder, cfg: cfg, rng: rng}
}

// Close releases the encoder.
func (s *Segmenter) Close() error {
	return s.encoder.Close()
}

// ComputeMasks segments every object of img.
//
// Order of operations:
//  1. Embed the image once.
//  2. Decode one foreground point per cell of a jittered PointsPerSide grid.
//  3. Drop masks below ScoreThreshold or MinArea.
//  4. Suppress duplicates with mask NMS, best score first.
//
// Arguments:
//   - img: The 8-bit RGB image.
//
// Returns:
//   - []InstanceMask: The instances, best score first.
//   - error: An error if encoding or decoding fails.
func (s *Segmenter) ComputeMasks(img image.Image) ([]InstanceMask, error) {
	prompt, err := s.encoder.Encode(img)
	if err != nil {
		return nil, err
	}
	defer prompt.Release()

	var candidates []InstanceMask
	for _, p := range s.grid(img.Bounds().Dx(), img.Bounds().Dy()) {
		inst, err := prompt.Decode([]Point{p})
		if err != nil {
			return nil, errors.Wrapf(err, "decoding point (%.1f, %.1f)", p.X, p.Y)
		}
		if inst.Score < s.cfg.ScoreThreshold || inst.Mask.Count() < max(s.cfg.MinArea, 1) {
			continue
		}
		candidates = append(candidates, *inst)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return ApplyMaskNMS(candidates, s.cfg.NMSThreshold), nil
}

// Refine segments img and merges the instances with the coarse mask.
//
// Arguments:
//   - img: The 8-bit RGB image.
//   - coarse: The CAM mask, same size as img.
//
// Returns:
//   - *camops.Mask: The refined mask.
//   - error: An error if segmentation fails or the sizes differ.
func (s *Segmenter) Refine(img image.Image, coarse *camops.Mask) (*camops.Mask, error) {
	instances, err := s.ComputeMasks(img)
	if err != nil {
		return nil, err
	}
	return MergeMasks(instances, coarse)
}

// grid returns one foreground point per cell of a PointsPerSide square grid, jittered
// by up to a quarter cell around the cell centre.
func (s *Segmenter) grid(width, height int) []Point {
	n := s.cfg.PointsPerSide
	cellW := float32(width) / float32(n)
	cellH := float32(height) / float32(n)
	points := make([]Point, 0, n*n)
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			jx := (s.rng.Float32() - 0.5) / 2
			jy := (s.rng.Float32() - 0.5) / 2
			points = append(points, Point{
				X:     (float32(col) + 0.5 + jx) * cellW,
				Y:     (float32(row) + 0.5 + jy) * cellH,
				Label: LabelForeground,
			})
		}
	}
	return points
}

// ApplyMaskNMS performs greedy Non-Maximum Suppression on instance masks.
//
// Arguments:
//   - instances: Instances sorted by descending score.
//   - iouThreshold: Mask IoU above which the lower scored instance is suppressed.
//
// Returns:
//   - []InstanceMask: The kept instances. Nil for no input.
func ApplyMaskNMS(instances []InstanceMask, iouThreshold float32) []InstanceMask {
	n := len(instances)
	if n == 0 {
		return nil
	}

	bounds := make([]images.Rect, n)
	for i, inst := range instances {
		bounds[i], _ = images.MaskBounds(inst.Mask)
	}

	filtered := make([]InstanceMask, 0, n)
	used := make([]bool, n)
	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		anchor := instances[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] || !bounds[i].Overlaps(bounds[j]) {
				continue
			}
			iou, err := camops.BoolIoU(anchor.Mask.Bools(), instances[j].Mask.Bools())
			if err == nil && float32(iou) > iouThreshold {
				used[j] = true
			}
		}
	}
	return filtered
}

// MergeMasks keeps every instance with at least ContainmentThreshold of its pixels
// inside the coarse mask and returns their union. An instance-free image yields an
// empty mask.
//
// Arguments:
//   - instances: The SAM instances.
//   - coarse: The CAM mask; any nonzero value is foreground.
//
// Returns:
//   - *camops.Mask: The union of the kept instances, 0 or 1 per pixel.
//   - error: camops.ErrShapeMismatch if an instance differs in size from coarse.
func MergeMasks(instances []InstanceMask, coarse *camops.Mask) (*camops.Mask, error) {
	out := camops.NewMask(coarse.Width, coarse.Height)
	for i, inst := range instances {
		m := inst.Mask
		if m.Width != coarse.Width || m.Height != coarse.Height {
			return nil, errors.Wrapf(camops.ErrShapeMismatch, "instance %d is %dx%d, coarse mask is %dx%d",
				i, m.Width, m.Height, coarse.Width, coarse.Height)
		}

		area, inside := 0, 0
		for p, v := range m.Pix {
			if v == 0 {
				continue
			}
			area++
			if coarse.Pix[p] != 0 {
				inside++
			}
		}
		if area == 0 || float64(inside)/float64(area) < ContainmentThreshold {
			continue
		}
		for p, v := range m.Pix {
			if v != 0 {
				out.Pix[p] = 1
			}
		}
	}
	return out, nil
}
