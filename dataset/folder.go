package dataset

import (
	"image"
	"image/color"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/images"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	imagesDir = "images"
	masksDir  = "masks"
	flowsDir  = "flows"
	maskExt   = ".png"
	flowExt   = ".flo"
)

// imageExts lists the frame extensions the folder dataset picks up.
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

// FolderConfig describes a video frame dataset on disk:
//
//	<root>/images/<sequence>/<frame>.jpg
//	<root>/masks/<sequence>/<frame>.png
//	<root>/flows/<sequence>/<frame>_left.flo
//	<root>/flows/<sequence>/<frame>_right.flo
//
// Frames of a sequence are ordered by file name; the left and right neighbours of a
// frame are the previous and next frames of its sequence.
type FolderConfig struct {
	// Root is the dataset directory.
	Root string `json:"root" yaml:"root"`
	// Width resizes every frame, mask and flow. Zero keeps the native size.
	Width int `json:"width" yaml:"width"`
	// Height resizes every frame, mask and flow. Zero keeps the native size.
	Height int `json:"height" yaml:"height"`
	// Masks loads ground truth.
	Masks bool `json:"masks" yaml:"masks"`
	// Flows loads lateral windows with flows.
	Flows bool `json:"flows" yaml:"flows"`
	// ClassNames is the class dictionary, index 0 first.
	ClassNames []string `json:"class_names" yaml:"class_names"`
}

type frameRef struct {
	sequence []string
	index    int
}

// Folder is a Dataset read from a directory tree.
type Folder struct {
	cfg     FolderConfig
	classes *Classes
	frames  []frameRef
	flows   bool
}

// NewFolder indexes every frame under <root>/images.
//
// Arguments:
//   - cfg: The dataset layout and options.
//
// Returns:
//   - *Folder: The dataset.
//   - error: An error if the directory cannot be walked, holds no frames, or the
//     class names are invalid.
func NewFolder(cfg FolderConfig) (*Folder, error) {
	names := cfg.ClassNames
	if len(names) == 0 {
		names = DefaultClassNames
	}
	classes, err := NewClasses(names...)
	if err != nil {
		return nil, err
	}
	if (cfg.Width == 0) != (cfg.Height == 0) {
		return nil, errors.Errorf("width and height must both be set or both be zero, got %dx%d", cfg.Width, cfg.Height)
	}

	sequences := map[string][]string{}
	root := filepath.Join(cfg.Root, imagesDir)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !imageExts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		dir := filepath.Dir(path)
		sequences[dir] = append(sequences[dir], path)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "indexing %s", root)
	}

	dirs := make([]string, 0, len(sequences))
	for dir := range sequences {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	f := &Folder{cfg: cfg, classes: classes, flows: cfg.Flows}
	for _, dir := range dirs {
		seq := sequences[dir]
		sort.Strings(seq)
		for i := range seq {
			f.frames = append(f.frames, frameRef{sequence: seq, index: i})
		}
	}
	if len(f.frames) == 0 {
		return nil, errors.Errorf("no frames under %s", root)
	}
	return f, nil
}

// Len returns the number of frames.
func (f *Folder) Len() int {
	return len(f.frames)
}

// WithMask reports whether ground truth is loaded.
func (f *Folder) WithMask() bool {
	return f.cfg.Masks
}

// WithFlows reports whether lateral windows are loaded.
func (f *Folder) WithFlows() bool {
	return f.flows
}

// WithoutFlows switches to single frame samples.
func (f *Folder) WithoutFlows() {
	f.flows = false
}

// Classes returns the class dictionary.
func (f *Folder) Classes() *Classes {
	return f.classes
}

// Get loads frame i and, depending on the options, its ground truth, neighbours and
// flows. Sequence edges use the frame itself as the missing neighbour, with a zero
// flow.
func (f *Folder) Get(i int) (Sample, error) {
	if i < 0 || i >= len(f.frames) {
		return nil, errors.Errorf("index %d out of range for %d frames", i, len(f.frames))
	}
	ref := f.frames[i]
	path := ref.sequence[ref.index]

	if !f.flows {
		img, err := f.loadImage(path)
		if err != nil {
			return nil, err
		}
		if !f.cfg.Masks {
			return Plain{Image: img, Path: path}, nil
		}
		mask, err := f.loadMask(path, img)
		if err != nil {
			return nil, err
		}
		return WithMask{Image: img, Mask: mask, Path: path}, nil
	}

	window := [3]string{
		ref.sequence[max(ref.index-1, 0)],
		path,
		ref.sequence[min(ref.index+1, len(ref.sequence)-1)],
	}
	var frames [3]*tensor.Dense
	for k, p := range window {
		img, err := f.loadImage(p)
		if err != nil {
			return nil, err
		}
		frames[k] = img
	}
	size, err := images.TensorSize(frames[1])
	if err != nil {
		return nil, err
	}

	left, err := f.loadFlow(path, "left", window[0] == path, size)
	if err != nil {
		return nil, err
	}
	right, err := f.loadFlow(path, "right", window[2] == path, size)
	if err != nil {
		return nil, err
	}
	flows := camops.Flows{Left: left, Right: right}

	if !f.cfg.Masks {
		return WithFlow{Frames: frames, Flows: flows, Path: path}, nil
	}
	var masks [3]*camops.Mask
	for k, p := range window {
		m, err := f.loadMask(p, frames[k])
		if err != nil {
			return nil, err
		}
		masks[k] = m
	}
	return WithFlowAndMask{Frames: frames, Flows: flows, Masks: masks, Path: path}, nil
}

// loadImage decodes a frame, resizes it when configured and normalises it.
func (f *Folder) loadImage(path string) (*tensor.Dense, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "opening frame %s", path)
	}
	if f.cfg.Width > 0 {
		img = imaging.Resize(img, f.cfg.Width, f.cfg.Height, imaging.Linear)
	}
	return images.ToTensor(img), nil
}

// loadMask decodes the ground truth of a frame as raw 0..255 grey values. The mask
// must match the loaded frame's size.
func (f *Folder) loadMask(framePath string, frame *tensor.Dense) (*camops.Mask, error) {
	want, err := images.TensorSize(frame)
	if err != nil {
		return nil, err
	}
	path, err := f.siblingPath(framePath, masksDir, maskExt)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening mask %s", path)
	}
	var src image.Image = img
	if f.cfg.Width > 0 {
		src = images.ResizeToImage(img, f.cfg.Width, f.cfg.Height, true)
	}

	b := src.Bounds()
	if b.Dx() != want.Width || b.Dy() != want.Height {
		return nil, errors.Wrapf(camops.ErrShapeMismatch, "mask %s is %dx%d, frame is %dx%d",
			path, b.Dx(), b.Dy(), want.Width, want.Height)
	}
	m := camops.NewMask(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			m.Pix[y*m.Width+x] = color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return m, nil
}

// loadFlow reads the left or right flow of a frame at the frame size. Edge frames get
// a zero flow.
func (f *Folder) loadFlow(framePath, side string, edge bool, size camops.Size) (*camops.Flow, error) {
	if edge {
		return camops.NewFlow(size.Width, size.Height), nil
	}
	path, err := f.siblingPath(framePath, flowsDir, "_"+side+flowExt)
	if err != nil {
		return nil, err
	}
	flow, err := ReadFlow(path)
	if err != nil {
		return nil, err
	}
	if flow.Size() != size {
		flow = camops.ResizeFlow(flow, size.Width, size.Height)
	}
	return flow, nil
}

// siblingPath maps <root>/images/<rel>.<ext> to <root>/<dir>/<rel><suffix>.
func (f *Folder) siblingPath(framePath, dir, suffix string) (string, error) {
	rel, err := filepath.Rel(filepath.Join(f.cfg.Root, imagesDir), framePath)
	if err != nil {
		return "", errors.Wrapf(err, "frame %s is outside %s", framePath, f.cfg.Root)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return filepath.Join(f.cfg.Root, dir, rel+suffix), nil
}
