package pixfmt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat is returned for source formats the pipeline cannot accept at all.
var ErrUnsupportedFormat = errors.New("unsupported format")

type Format int

const (
	Unknown Format = iota

	RGB8
	RGBA8
	BGR8
	BGRA8
	RGB32F
	RGBA32F
	Gray8

	// planar YUV 4:2:0
	I420
	YV12
	// semi-planar YUV 4:2:0
	NV12
	// packed YUV 4:2:2
	YUYV
	YVYU
	UYVY
)

var names = map[Format]string{
	RGB8:    "rgb8",
	RGBA8:   "rgba8",
	BGR8:    "bgr8",
	BGRA8:   "bgra8",
	RGB32F:  "rgb32f",
	RGBA32F: "rgba32f",
	Gray8:   "gray8",
	I420:    "i420",
	YV12:    "yv12",
	NV12:    "nv12",
	YUYV:    "yuyv",
	YVYU:    "yvyu",
	UYVY:    "uyvy",
}

func (f Format) String() string {
	if n, ok := names[f]; ok {
		return n
	}
	return "unknown"
}

// Parse resolves a format name. Aliases used by capture tools are accepted.
func Parse(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "rgb", "rgb24":
		s = "rgb8"
	case "rgba", "rgba32":
		s = "rgba8"
	case "yuy2":
		s = "yuyv"
	}
	for f, n := range names {
		if n == s {
			return f, nil
		}
	}
	return Unknown, fmt.Errorf("%w %q (supported: %s)", ErrUnsupportedFormat, s, SupportedList())
}

// Channels is the number of interleaved channels, 0 for YUV layouts.
func (f Format) Channels() int {
	switch f {
	case RGB8, BGR8, RGB32F:
		return 3
	case RGBA8, BGRA8, RGBA32F:
		return 4
	case Gray8:
		return 1
	default:
		return 0
	}
}

// BytesPerChannel returns 4 for float formats and 1 otherwise.
func (f Format) BytesPerChannel() int {
	if f == RGB32F || f == RGBA32F {
		return 4
	}
	return 1
}

// IsYUV reports whether f is one of the planar, semi-planar or packed YUV layouts.
func (f Format) IsYUV() bool {
	switch f {
	case I420, YV12, NV12, YUYV, YVYU, UYVY:
		return true
	}
	return false
}

// PixelStride is the byte size of one pixel for interleaved formats,
// 2 for packed 4:2:2 and 0 for planar layouts. Packed 4:2:2 rows are padded
// to an even pixel count.
func (f Format) PixelStride() int {
	switch f {
	case YUYV, YVYU, UYVY:
		return 2
	case I420, YV12, NV12, Unknown:
		return 0
	}
	return f.Channels() * f.BytesPerChannel()
}

// FrameSize is the number of bytes of a tightly packed w x h frame.
func FrameSize(f Format, w, h int) int {
	if w <= 0 || h <= 0 {
		return 0
	}
	switch f {
	case I420, YV12, NV12:
		cw, ch := (w+1)/2, (h+1)/2
		return w*h + 2*cw*ch
	case YUYV, YVYU, UYVY:
		return ((w + 1) / 2) * 4 * h
	case Unknown:
		return 0
	}
	return w * h * f.PixelStride()
}

// SupportedInputs lists the source formats the pipeline accepts: the mandatory
// 8-bit RGB/RGBA plus the conversion collaborator's input set.
func SupportedInputs() []Format {
	return []Format{RGB8, RGBA8, BGR8, BGRA8, RGB32F, RGBA32F, I420, YV12, NV12, YUYV, YVYU, UYVY}
}

func SupportedList() string {
	inputs := SupportedInputs()
	out := make([]string, 0, len(inputs))
	for _, f := range inputs {
		out = append(out, f.String())
	}
	return strings.Join(out, ", ")
}

// CheckInput returns ErrUnsupportedFormat, enumerating the supported list, if f
// cannot be used as a pipeline source.
func CheckInput(f Format) error {
	for _, s := range SupportedInputs() {
		if s == f {
			return nil
		}
	}
	return fmt.Errorf("%w %s (supported: %s)", ErrUnsupportedFormat, f, SupportedList())
}
