package images

import (
	"image"
	"image/color"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ImageNetMean is the per-channel RGB mean on the [0, 1] scale.
var ImageNetMean = [3]float32{0.485, 0.456, 0.406}

// ImageNetStd is the per-channel RGB standard deviation on the [0, 1] scale.
var ImageNetStd = [3]float32{0.229, 0.224, 0.225}

// ErrNotImageTensor is returned when a tensor is not a [3, H, W] float32 tensor.
var ErrNotImageTensor = errors.New("not a [3,H,W] float32 image tensor")

// ToTensor converts an image to a normalised CHW float32 tensor: every 8-bit channel
// is scaled to [0, 1] and standardised with the ImageNet statistics.
//
// Arguments:
//   - img: The source image.
//
// Returns:
//   - *tensor.Dense: A [3, H, W] float32 tensor.
func ToTensor(img image.Image) *tensor.Dense {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	plane := width * height
	data := make([]float32, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*width + x
			for c, v := range [3]uint32{r, g, bl} {
				data[c*plane+i] = (float32(uint8(v>>8))/255 - ImageNetMean[c]) / ImageNetStd[c]
			}
		}
	}
	return tensor.New(tensor.WithShape(3, height, width), tensor.WithBacking(data))
}

// ToImage reverses ToTensor: the ImageNet standardisation is undone, values are
// clamped to [0, 1] and truncated to 8 bits.
//
// Arguments:
//   - t: A [3, H, W] float32 tensor.
//
// Returns:
//   - *image.RGBA: The display-range image.
//   - error: ErrNotImageTensor if the tensor has the wrong shape or dtype.
func ToImage(t *tensor.Dense) (*image.RGBA, error) {
	data, size, err := imageData(t)
	if err != nil {
		return nil, err
	}
	plane := size.Width * size.Height
	out := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			i := y*size.Width + x
			var px [3]uint8
			for c := range px {
				v := data[c*plane+i]*ImageNetStd[c] + ImageNetMean[c]
				px[c] = uint8(min(max(v, 0), 1) * 255)
			}
			out.SetRGBA(x, y, color.RGBA{R: px[0], G: px[1], B: px[2], A: 255})
		}
	}
	return out, nil
}

// TensorSize returns the spatial size of a [3, H, W] image tensor.
func TensorSize(t *tensor.Dense) (camops.Size, error) {
	_, size, err := imageData(t)
	return size, err
}

// Planes splits a [3, H, W] tensor into one map per channel. The maps copy the data.
func Planes(t *tensor.Dense) (camops.Stack, error) {
	data, size, err := imageData(t)
	if err != nil {
		return nil, err
	}
	plane := size.Width * size.Height
	out := make(camops.Stack, 3)
	for c := range out {
		m := camops.NewMap(size.Width, size.Height)
		copy(m.Data, data[c*plane:(c+1)*plane])
		out[c] = m
	}
	return out, nil
}

// FromPlanes packs three equally sized maps into a [3, H, W] tensor.
func FromPlanes(s camops.Stack) (*tensor.Dense, error) {
	if len(s) != 3 {
		return nil, errors.Wrapf(ErrNotImageTensor, "%d planes", len(s))
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	w, h := s.Shape()
	data := make([]float32, 0, 3*w*h)
	for _, m := range s {
		data = append(data, m.Data...)
	}
	return tensor.New(tensor.WithShape(3, h, w), tensor.WithBacking(data)), nil
}

// FlipTensor mirrors a [3, H, W] tensor along its width.
func FlipTensor(t *tensor.Dense) (*tensor.Dense, error) {
	planes, err := Planes(t)
	if err != nil {
		return nil, err
	}
	for c, m := range planes {
		planes[c] = m.FlipHorizontal()
	}
	return FromPlanes(planes)
}

// RescaleTensor bilinearly resizes a [3, H, W] tensor by scale, truncating the
// target size. A scale of 1 copies the tensor.
//
// Arguments:
//   - t: The normalised image tensor.
//   - scale: The resize factor.
//
// Returns:
//   - *tensor.Dense: The rescaled tensor.
//   - error: ErrNotImageTensor if the tensor has the wrong shape or dtype.
func RescaleTensor(t *tensor.Dense, scale float64) (*tensor.Dense, error) {
	planes, err := Planes(t)
	if err != nil {
		return nil, err
	}
	w, h := planes.Shape()
	target := camops.ScaledSize(camops.Size{Width: w, Height: h}, scale)
	return FromPlanes(camops.ResizeStack(planes, target.Width, target.Height))
}

// Batch concatenates equally sized [3, H, W] tensors into a flat [N, 3, H, W] buffer.
//
// Arguments:
//   - ts: The image tensors.
//
// Returns:
//   - []float32: The batch data, row-major.
//   - camops.Size: The common spatial size.
//   - error: ErrNotImageTensor on a bad tensor, camops.ErrShapeMismatch on ragged sizes.
func Batch(ts ...*tensor.Dense) ([]float32, camops.Size, error) {
	var size camops.Size
	var out []float32
	for i, t := range ts {
		data, s, err := imageData(t)
		if err != nil {
			return nil, size, errors.Wrapf(err, "batch item %d", i)
		}
		if i == 0 {
			size = s
			out = make([]float32, 0, len(ts)*len(data))
		} else if s != size {
			return nil, size, errors.Wrapf(camops.ErrShapeMismatch, "batch item %d is %dx%d, item 0 is %dx%d",
				i, s.Width, s.Height, size.Width, size.Height)
		}
		out = append(out, data...)
	}
	return out, size, nil
}

func imageData(t *tensor.Dense) ([]float32, camops.Size, error) {
	if t == nil {
		return nil, camops.Size{}, errors.Wrap(ErrNotImageTensor, "nil tensor")
	}
	shape := t.Shape()
	if len(shape) != 3 || shape[0] != 3 {
		return nil, camops.Size{}, errors.Wrapf(ErrNotImageTensor, "shape %v", shape)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, camops.Size{}, errors.Wrapf(ErrNotImageTensor, "dtype %v", t.Dtype())
	}
	return data, camops.Size{Width: shape[2], Height: shape[1]}, nil
}
