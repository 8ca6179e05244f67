package convert

import (
	"encoding/binary"
	"math"

	"github.com/rook-computer/scanout/internal/pixfmt"
)

// Float formats carry the same 0..255 range as the 8-bit formats.

type pixelReader func(src []byte, i int) (r, g, b, a float32)

type pixelWriter func(dst []byte, i int, r, g, b, a float32)

var rgbFamily = []pixfmt.Format{
	pixfmt.RGB8, pixfmt.RGBA8, pixfmt.BGR8, pixfmt.BGRA8, pixfmt.RGB32F, pixfmt.RGBA32F,
}

func registerRGB(c *Converter) {
	for _, in := range rgbFamily {
		outs := append([]pixfmt.Format{pixfmt.Gray8}, rgbFamily...)
		for _, out := range outs {
			c.Register(in, out, rgbKernel(in, out))
		}
	}
	for _, in := range []pixfmt.Format{pixfmt.RGB8, pixfmt.RGBA8} {
		c.Register(in, pixfmt.I420, rgbToPlanar(in, false))
		c.Register(in, pixfmt.YV12, rgbToPlanar(in, true))
	}
}

func rgbKernel(in, out pixfmt.Format) Kernel {
	if in == out {
		return func(src, dst []byte, w, h int) error {
			copy(dst, src[:pixfmt.FrameSize(in, w, h)])
			return nil
		}
	}
	read := readerFor(in)
	write := writerFor(out)
	return func(src, dst []byte, w, h int) error {
		return rows(h, func(y0, y1 int) {
			for i := y0 * w; i < y1*w; i++ {
				r, g, b, a := read(src, i)
				write(dst, i, r, g, b, a)
			}
		})
	}
}

func readerFor(f pixfmt.Format) pixelReader {
	switch f {
	case pixfmt.RGB8:
		return func(s []byte, i int) (float32, float32, float32, float32) {
			p := s[i*3 : i*3+3]
			return float32(p[0]), float32(p[1]), float32(p[2]), 255
		}
	case pixfmt.BGR8:
		return func(s []byte, i int) (float32, float32, float32, float32) {
			p := s[i*3 : i*3+3]
			return float32(p[2]), float32(p[1]), float32(p[0]), 255
		}
	case pixfmt.RGBA8:
		return func(s []byte, i int) (float32, float32, float32, float32) {
			p := s[i*4 : i*4+4]
			return float32(p[0]), float32(p[1]), float32(p[2]), float32(p[3])
		}
	case pixfmt.BGRA8:
		return func(s []byte, i int) (float32, float32, float32, float32) {
			p := s[i*4 : i*4+4]
			return float32(p[2]), float32(p[1]), float32(p[0]), float32(p[3])
		}
	case pixfmt.RGB32F:
		return func(s []byte, i int) (float32, float32, float32, float32) {
			return f32(s, i*3), f32(s, i*3+1), f32(s, i*3+2), 255
		}
	case pixfmt.RGBA32F:
		return func(s []byte, i int) (float32, float32, float32, float32) {
			return f32(s, i*4), f32(s, i*4+1), f32(s, i*4+2), f32(s, i*4+3)
		}
	}
	return nil
}

func writerFor(f pixfmt.Format) pixelWriter {
	switch f {
	case pixfmt.RGB8:
		return func(d []byte, i int, r, g, b, _ float32) {
			p := d[i*3 : i*3+3]
			p[0], p[1], p[2] = u8(r), u8(g), u8(b)
		}
	case pixfmt.BGR8:
		return func(d []byte, i int, r, g, b, _ float32) {
			p := d[i*3 : i*3+3]
			p[0], p[1], p[2] = u8(b), u8(g), u8(r)
		}
	case pixfmt.RGBA8:
		return func(d []byte, i int, r, g, b, a float32) {
			p := d[i*4 : i*4+4]
			p[0], p[1], p[2], p[3] = u8(r), u8(g), u8(b), u8(a)
		}
	case pixfmt.BGRA8:
		return func(d []byte, i int, r, g, b, a float32) {
			p := d[i*4 : i*4+4]
			p[0], p[1], p[2], p[3] = u8(b), u8(g), u8(r), u8(a)
		}
	case pixfmt.RGB32F:
		return func(d []byte, i int, r, g, b, _ float32) {
			putF32(d, i*3, r)
			putF32(d, i*3+1, g)
			putF32(d, i*3+2, b)
		}
	case pixfmt.RGBA32F:
		return func(d []byte, i int, r, g, b, a float32) {
			putF32(d, i*4, r)
			putF32(d, i*4+1, g)
			putF32(d, i*4+2, b)
			putF32(d, i*4+3, a)
		}
	case pixfmt.Gray8:
		return func(d []byte, i int, r, g, b, _ float32) {
			d[i] = u8(0.299*r + 0.587*g + 0.114*b)
		}
	}
	return nil
}

// rgbToPlanar encodes BT.601 limited-range 4:2:0. Chroma is taken from the
// top-left pixel of each 2x2 block.
func rgbToPlanar(in pixfmt.Format, swapUV bool) Kernel {
	read := readerFor(in)
	return func(src, dst []byte, w, h int) error {
		cw, ch := (w+1)/2, (h+1)/2
		yPlane := dst[:w*h]
		uPlane := dst[w*h : w*h+cw*ch]
		vPlane := dst[w*h+cw*ch : w*h+2*cw*ch]
		if swapUV {
			uPlane, vPlane = vPlane, uPlane
		}
		return rows(h, func(y0, y1 int) {
			for y := y0; y < y1; y++ {
				for x := 0; x < w; x++ {
					r, g, b, _ := read(src, y*w+x)
					yPlane[y*w+x] = u8(16 + 0.257*r + 0.504*g + 0.098*b)
					if x%2 == 0 && y%2 == 0 {
						c := (y/2)*cw + x/2
						uPlane[c] = u8(128 - 0.148*r - 0.291*g + 0.439*b)
						vPlane[c] = u8(128 + 0.439*r - 0.368*g - 0.071*b)
					}
				}
			}
		})
	}
}

func f32(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

func putF32(b []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
}

func u8(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
