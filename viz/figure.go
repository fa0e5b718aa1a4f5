// Package viz - Titled panel figures written as PNG.
package viz

import (
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/fogleman/gg"
	"github.com/nvr-ai/go-cam/camops"
	"github.com/pkg/errors"
)

const (
	// titleHeight is the band above each panel reserved for its title.
	titleHeight = 20
	// padding separates neighbouring panels.
	padding = 4
)

// Panel is one titled image in a figure.
type Panel struct {
	Title string
	Image image.Image
}

// Compose lays panels out on a white grid, row-major, each cell sized to the largest
// panel.
//
// Arguments:
//   - panels: The panels in display order.
//   - cols: The number of columns. Values below one mean a single row.
//
// Returns:
//   - image.Image: The figure.
//   - error: An error if there is nothing to draw.
func Compose(panels []Panel, cols int) (image.Image, error) {
	if len(panels) == 0 {
		return nil, errors.New("figure has no panels")
	}
	if cols < 1 || cols > len(panels) {
		cols = len(panels)
	}
	rows := (len(panels) + cols - 1) / cols

	cellW, cellH := 1, 1
	for i, p := range panels {
		if p.Image == nil {
			return nil, errors.Errorf("panel %d (%q) has no image", i, p.Title)
		}
		b := p.Image.Bounds()
		cellW, cellH = max(cellW, b.Dx()), max(cellH, b.Dy())
	}
	cellH += titleHeight

	dc := gg.NewContext(cols*(cellW+padding)+padding, rows*(cellH+padding)+padding)
	dc.SetRGB(1, 1, 1)
	dc.Clear()
	dc.SetRGB(0, 0, 0)

	for i, p := range panels {
		x := padding + (i%cols)*(cellW+padding)
		y := padding + (i/cols)*(cellH+padding)
		dc.DrawStringAnchored(p.Title, float64(x+cellW/2), float64(y+titleHeight/2), 0.5, 0.5)
		dc.DrawImage(p.Image, x, y+titleHeight)
	}
	return dc.Image(), nil
}

// SaveFigure composes panels and writes the figure to path as PNG, creating parent
// directories.
//
// Arguments:
//   - path: The output file.
//   - panels: The panels in display order.
//   - cols: The number of columns.
//
// Returns:
//   - error: An error if composition or writing fails.
func SaveFigure(path string, panels []Panel, cols int) error {
	img, err := Compose(panels, cols)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	if err := gg.SavePNG(path, img); err != nil {
		return errors.Wrapf(err, "writing figure %s", path)
	}
	return nil
}

// MaskImage renders a mask in greyscale: zero is black, anything else white.
func MaskImage(m *camops.Mask) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v != 0 {
			out.Pix[i] = 255
		}
	}
	return out
}

// OverlayMask tints the masked pixels of img with c at half opacity.
//
// Arguments:
//   - img: The photograph.
//   - m: The mask, same size as img.
//   - c: The tint.
//
// Returns:
//   - image.Image: The tinted copy.
//   - error: camops.ErrShapeMismatch if the sizes differ.
func OverlayMask(img image.Image, m *camops.Mask, c color.RGBA) (image.Image, error) {
	b := img.Bounds()
	if b.Dx() != m.Width || b.Dy() != m.Height {
		return nil, errors.Wrapf(camops.ErrShapeMismatch, "image %dx%d, mask %dx%d", b.Dx(), b.Dy(), m.Width, m.Height)
	}

	dc := gg.NewContext(m.Width, m.Height)
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.At(x, y) == 0 {
				continue
			}
			r, g, bl, _ := dc.Image().At(x, y).RGBA()
			dc.SetColor(color.RGBA{
				R: uint8((r>>8 + uint32(c.R)) / 2),
				G: uint8((g>>8 + uint32(c.G)) / 2),
				B: uint8((bl>>8 + uint32(c.B)) / 2),
				A: 255,
			})
			dc.SetPixel(x, y)
		}
	}
	return dc.Image(), nil
}
