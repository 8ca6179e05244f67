package convert

import "github.com/rook-computer/scanout/internal/pixfmt"

// sampler returns the Y, U and V values of pixel (x, y).
type sampler func(src []byte, x, y, w, h int) (yy, u, v uint8)

// YVYU has no kernels; conversions from it report ErrUnsupportedFormatPair.
var yuvOutputs = []pixfmt.Format{pixfmt.RGB8, pixfmt.RGBA8, pixfmt.RGB32F, pixfmt.RGBA32F}

func registerYUV(c *Converter) {
	samplers := map[pixfmt.Format]sampler{
		pixfmt.I420: planar(false),
		pixfmt.YV12: planar(true),
		pixfmt.NV12: semiPlanar,
		pixfmt.YUYV: packed(0, 1, 2, 3),
		pixfmt.UYVY: packed(1, 0, 3, 2),
	}
	for in, s := range samplers {
		for _, out := range yuvOutputs {
			c.Register(in, out, yuvKernel(s, writerFor(out)))
		}
	}
}

func yuvKernel(sample sampler, write pixelWriter) Kernel {
	return func(src, dst []byte, w, h int) error {
		return rows(h, func(y0, y1 int) {
			for y := y0; y < y1; y++ {
				for x := 0; x < w; x++ {
					yy, u, v := sample(src, x, y, w, h)
					r, g, b := yuvToRGB(yy, u, v)
					write(dst, y*w+x, r, g, b, 255)
				}
			}
		})
	}
}

func planar(swapUV bool) sampler {
	return func(src []byte, x, y, w, h int) (uint8, uint8, uint8) {
		cw, ch := (w+1)/2, (h+1)/2
		c := (y/2)*cw + x/2
		u := src[w*h+c]
		v := src[w*h+cw*ch+c]
		if swapUV {
			u, v = v, u
		}
		return src[y*w+x], u, v
	}
}

func semiPlanar(src []byte, x, y, w, h int) (uint8, uint8, uint8) {
	cw := (w + 1) / 2
	c := w*h + (y/2)*cw*2 + (x/2)*2
	return src[y*w+x], src[c], src[c+1]
}

// packed builds a 4:2:2 sampler from the byte offsets of Y0, U, Y1 and V
// within each 4-byte macropixel.
func packed(y0, u, y1, v int) sampler {
	return func(src []byte, x, y, w, _ int) (uint8, uint8, uint8) {
		stride := ((w + 1) / 2) * 4
		m := src[y*stride+(x/2)*4:]
		yy := m[y0]
		if x%2 == 1 {
			yy = m[y1]
		}
		return yy, m[u], m[v]
	}
}

// yuvToRGB converts BT.601 limited-range YUV to RGB in 0..255.
func yuvToRGB(y, u, v uint8) (r, g, b float32) {
	c := 1.164 * (float32(y) - 16)
	d := float32(u) - 128
	e := float32(v) - 128
	r = clamp255(c + 1.596*e)
	g = clamp255(c - 0.392*d - 0.813*e)
	b = clamp255(c + 2.017*d)
	return r, g, b
}

func clamp255(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
