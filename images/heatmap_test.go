package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/nvr-ai/go-cam/camops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestColorizeCAMJetEnds checks that cold activations render blue and hot ones red.
func TestColorizeCAMJetEnds(t *testing.T) {
	cam := camops.MapFromRows([][]float32{{0, 1}})
	heat, err := ColorizeCAM(cam)
	require.NoError(t, err)

	r, _, b, _ := heat.At(0, 0).RGBA()
	assert.Greater(t, b, r, "cold end of JET should be blue")

	r, _, b, _ = heat.At(1, 0).RGBA()
	assert.Greater(t, r, b, "hot end of JET should be red")
}

// TestShowCAMOnImage checks the output size, the peak rescaling and the size guard.
func TestShowCAMOnImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	cam := camops.MapFromRows([][]float32{{0, 0.5, 1}, {1, 0.5, 0}})

	out, err := ShowCAMOnImage(img, cam, DefaultImageWeight)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), out.Bounds())

	var peak uint8
	for y := 0; y < 2; y++ {
		for x := 0; x < 3; x++ {
			c := out.RGBAAt(x, y)
			peak = max(peak, c.R, c.G, c.B)
			assert.Equal(t, uint8(255), c.A)
		}
	}
	assert.GreaterOrEqual(t, peak, uint8(254))

	_, err = ShowCAMOnImage(img, camops.NewMap(2, 2), DefaultImageWeight)
	assert.ErrorIs(t, err, camops.ErrShapeMismatch)

	_, err = ShowCAMOnImage(img, cam, 1.5)
	assert.Error(t, err)
}

// TestResizeByFactor checks the truncated target size.
func TestResizeByFactor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 7))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	out, err := ResizeByFactor(img, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Bounds().Dx())
	assert.Equal(t, 3, out.Bounds().Dy())

	r, g, b, _ := out.At(2, 1).RGBA()
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, color.RGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255})
}

// TestResizeToImageNearestKeepsLabels checks that nearest-neighbour resizing of a
// binary mask never produces intermediate values.
func TestResizeToImageNearestKeepsLabels(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range mask.Pix {
		if i%3 == 0 {
			mask.Pix[i] = 255
		}
	}
	out := ResizeToImage(mask, 7, 9, true)
	assert.Equal(t, 7, out.Bounds().Dx())
	assert.Equal(t, 9, out.Bounds().Dy())
	for y := 0; y < 9; y++ {
		for x := 0; x < 7; x++ {
			g := color.GrayModel.Convert(out.At(x, y)).(color.Gray).Y
			assert.Contains(t, []uint8{0, 255}, g)
		}
	}
	assert.Same(t, mask, ResizeToImage(mask, 4, 4, true))
}
