package images

import (
	"fmt"
	"image"
	"image/color"

	"github.com/nvr-ai/go-cam/camops"
	"gocv.io/x/gocv"
)

// DefaultImageWeight is the share of the photograph in a heatmap overlay.
const DefaultImageWeight = 0.5

// ColorizeCAM renders a [0, 1] activation map with OpenCV's JET colormap.
//
// Arguments:
//   - cam: The activation map. Values are clamped to [0, 1].
//
// Returns:
//   - image.Image: The RGB heatmap.
//   - error: An error if the map cannot be converted to a Mat.
func ColorizeCAM(cam *camops.Map) (image.Image, error) {
	gray := make([]byte, len(cam.Data))
	for i, v := range cam.Data {
		gray[i] = uint8(min(max(v, 0), 1) * 255)
	}

	src, err := gocv.NewMatFromBytes(cam.Height, cam.Width, gocv.MatTypeCV8U, gray)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap cam as mat: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.ApplyColorMap(src, &dst, gocv.ColormapJet)

	// ToImage reads the BGR colormap output back as RGB.
	return dst.ToImage()
}

// ShowCAMOnImage blends a JET heatmap of cam over img. The blend is
// (1-imageWeight)*heatmap + imageWeight*img on the [0, 1] scale, rescaled so its
// brightest channel is 1.
//
// Arguments:
//   - img: The display-range photograph, same size as cam.
//   - cam: The activation map in [0, 1].
//   - imageWeight: The weight of the photograph, in [0, 1].
//
// Returns:
//   - *image.RGBA: The overlay.
//   - error: An error if the sizes differ or the weight is out of range.
func ShowCAMOnImage(img image.Image, cam *camops.Map, imageWeight float32) (*image.RGBA, error) {
	if imageWeight < 0 || imageWeight > 1 {
		return nil, fmt.Errorf("image weight %v outside [0, 1]", imageWeight)
	}
	b := img.Bounds()
	if b.Dx() != cam.Width || b.Dy() != cam.Height {
		return nil, fmt.Errorf("image %dx%d does not match cam %dx%d: %w",
			b.Dx(), b.Dy(), cam.Width, cam.Height, camops.ErrShapeMismatch)
	}

	heat, err := ColorizeCAM(cam)
	if err != nil {
		return nil, err
	}

	blend := make([]float32, 3*cam.Width*cam.Height)
	var peak float32
	for y := 0; y < cam.Height; y++ {
		for x := 0; x < cam.Width; x++ {
			hr, hg, hb, _ := heat.At(x, y).RGBA()
			ir, ig, ib, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := 3 * (y*cam.Width + x)
			for c, pair := range [3][2]uint32{{hr, ir}, {hg, ig}, {hb, ib}} {
				v := (1-imageWeight)*float32(pair[0]>>8)/255 + imageWeight*float32(pair[1]>>8)/255
				blend[i+c] = v
				peak = max(peak, v)
			}
		}
	}
	if peak == 0 {
		peak = 1
	}

	out := image.NewRGBA(image.Rect(0, 0, cam.Width, cam.Height))
	for y := 0; y < cam.Height; y++ {
		for x := 0; x < cam.Width; x++ {
			i := 3 * (y*cam.Width + x)
			out.SetRGBA(x, y, color.RGBA{
				R: uint8(blend[i] / peak * 255),
				G: uint8(blend[i+1] / peak * 255),
				B: uint8(blend[i+2] / peak * 255),
				A: 255,
			})
		}
	}
	return out, nil
}
