package camops

import "github.com/chewxy/math32"

// Size is a (width, height) pair.
type Size struct {
	Width  int
	Height int
}

// StridedSize returns the feature-map size of an image reduced by stride, rounding
// partial cells up.
//
// Arguments:
//   - size: The original image size.
//   - stride: The reduction factor.
//
// Returns:
//   - Size: ceil(size / stride) per dimension.
func StridedSize(size Size, stride int) Size {
	return Size{
		Width:  (size.Width-1)/stride + 1,
		Height: (size.Height-1)/stride + 1,
	}
}

// StridedUpSize returns StridedSize scaled back up by stride. The result is the
// smallest multiple of stride that covers size.
func StridedUpSize(size Size, stride int) Size {
	s := StridedSize(size, stride)
	return Size{Width: s.Width * stride, Height: s.Height * stride}
}

// ScaledSize returns size multiplied by scale, truncated, and never below one pixel.
func ScaledSize(size Size, scale float64) Size {
	w := int(float64(size.Width) * scale)
	h := int(float64(size.Height) * scale)
	return Size{Width: max(w, 1), Height: max(h, 1)}
}

// ResizeBilinear resamples a map to width x height with half-pixel centres
// (the align_corners=false convention). Resizing to the same size is the identity.
//
// Arguments:
//   - m: The source map.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - *Map: A new resampled map.
func ResizeBilinear(m *Map, width, height int) *Map {
	if m.Width == width && m.Height == height {
		return m.Clone()
	}
	out := NewMap(width, height)
	if m.Width == 0 || m.Height == 0 {
		return out
	}

	xs := axisSamples(m.Width, width)
	ys := axisSamples(m.Height, height)

	for y, sy := range ys {
		row0 := m.Data[sy.i0*m.Width : (sy.i0+1)*m.Width]
		row1 := m.Data[sy.i1*m.Width : (sy.i1+1)*m.Width]
		dst := out.Data[y*width : (y+1)*width]
		for x, sx := range xs {
			top := row0[sx.i0]*(1-sx.frac) + row0[sx.i1]*sx.frac
			bottom := row1[sx.i0]*(1-sx.frac) + row1[sx.i1]*sx.frac
			dst[x] = top*(1-sy.frac) + bottom*sy.frac
		}
	}
	return out
}

// ResizeStack resizes every map of a stack to the same target size.
func ResizeStack(s Stack, width, height int) Stack {
	out := make(Stack, len(s))
	for i, m := range s {
		out[i] = ResizeBilinear(m, width, height)
	}
	return out
}

// sample holds the two source indices and the interpolation weight of one output
// coordinate along a single axis.
type sample struct {
	i0, i1 int
	frac   float32
}

func axisSamples(in, out int) []sample {
	samples := make([]sample, out)
	scale := float32(in) / float32(out)
	for o := range samples {
		src := (float32(o)+0.5)*scale - 0.5
		if src < 0 {
			src = 0
		}
		i0 := int(math32.Floor(src))
		if i0 > in-1 {
			i0 = in - 1
		}
		i1 := min(i0+1, in-1)
		samples[o] = sample{i0: i0, i1: i1, frac: src - float32(i0)}
	}
	return samples
}
