package images

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"gocv.io/x/gocv"
)

// ResizeByFactor resizes an image by factor with OpenCV's bilinear interpolation. The
// target size is the source size times factor, truncated, and at least one pixel.
//
// Arguments:
//   - img: The image to resize.
//   - factor: The scale factor.
//
// Returns:
//   - image.Image: The resized image.
//   - error: An error if the image cannot be converted to or from a Mat.
func ResizeByFactor(img image.Image, factor float64) (image.Image, error) {
	b := img.Bounds()
	width := max(int(float64(b.Dx())*factor), 1)
	height := max(int(float64(b.Dy())*factor), 1)

	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image to mat: %w", err)
	}
	defer src.Close()

	if width == b.Dx() && height == b.Dy() {
		return src.ToImage()
	}

	dst := gocv.NewMat()
	defer dst.Close()

	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)
	if dst.Empty() {
		return nil, fmt.Errorf("failed to resize image to %dx%d", width, height)
	}

	return dst.ToImage()
}

// ResizeToImage resizes an image to exactly width x height. Photographs use bilinear
// interpolation; masks must use nearest neighbour so labels are not blended.
//
// Arguments:
//   - img: The image to resize.
//   - width: The target width.
//   - height: The target height.
//   - nearest: Whether to use nearest-neighbour interpolation.
//
// Returns:
//   - image.Image: The resized image, or img itself when it already has the size.
func ResizeToImage(img image.Image, width, height int, nearest bool) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	interp := resize.Bilinear
	if nearest {
		interp = resize.NearestNeighbor
	}
	return resize.Resize(uint(width), uint(height), img, interp)
}
