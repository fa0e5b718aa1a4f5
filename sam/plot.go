package sam

import (
	"image"
	"image/color"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/nvr-ai/go-cam/viz"
)

var (
	coarseTint  = color.RGBA{R: 255, A: 255}
	refinedTint = color.RGBA{G: 255, A: 255}
)

// PlotComparison writes a figure with the image, the coarse mask, the refined mask
// and, when given, the ground truth.
//
// Arguments:
//   - path: The PNG file to write.
//   - img: The 8-bit RGB image.
//   - coarse: The CAM mask.
//   - refined: The SAM refined mask.
//   - gt: The ground truth mask, or nil.
//
// Returns:
//   - error: An error if a mask does not match the image or writing fails.
func PlotComparison(path string, img image.Image, coarse, refined, gt *camops.Mask) error {
	coarseImg, err := viz.OverlayMask(img, coarse, coarseTint)
	if err != nil {
		return err
	}
	refinedImg, err := viz.OverlayMask(img, refined, refinedTint)
	if err != nil {
		return err
	}

	panels := []viz.Panel{
		{Title: "Image", Image: img},
		{Title: "CAM mask", Image: coarseImg},
		{Title: "SAM refined", Image: refinedImg},
	}
	if gt != nil {
		panels = append(panels, viz.Panel{Title: "Ground truth", Image: viz.MaskImage(gt)})
	}
	return viz.SaveFigure(path, panels, len(panels))
}
