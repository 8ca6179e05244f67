package source

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/staging"
)

// Still shows one image, scaled once to the output size.
type Still struct {
	path  string
	frame *image.RGBA
}

// LoadStill decodes a PNG, JPEG, BMP or TIFF file and scales it to w x h.
func LoadStill(path string, w, h int) (*Still, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("still: open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("still: decode %s: %w", path, err)
	}
	return NewStill(path, img, w, h), nil
}

func NewStill(name string, img image.Image, w, h int) *Still {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	// the scanout has no alpha
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xFF
	}
	return &Still{path: name, frame: dst}
}

func (s *Still) Name() string { return "still:" + filepath.Base(s.path) }

func (s *Still) Next(uint64) (staging.HostFrame, error) {
	b := s.frame.Bounds()
	return staging.HostFrame{
		Data:   s.frame.Pix,
		Fmt:    pixfmt.RGBA8,
		Width:  b.Dx(),
		Height: b.Dy(),
		Stride: s.frame.Stride,
	}, nil
}
