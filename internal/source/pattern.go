package source

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"slices"
	"strconv"

	"github.com/skip2/go-qrcode"
	xdraw "golang.org/x/image/draw"

	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/render/layout"
	"github.com/rook-computer/scanout/internal/staging"
)

// Bars are the classic 75% colour bars.
var Bars = []color.RGBA{
	{R: 191, G: 191, B: 191, A: 255},
	{R: 191, G: 191, B: 0, A: 255},
	{R: 0, G: 191, B: 191, A: 255},
	{R: 0, G: 191, B: 0, A: 255},
	{R: 191, G: 0, B: 191, A: 255},
	{R: 191, G: 0, B: 0, A: 255},
	{R: 0, G: 0, B: 191, A: 255},
}

const (
	qrMargin   = 8
	qrMinSize  = 21
	barStepPx  = 4
	qrFraction = 3
)

// Pattern scrolls colour bars one step per frame and stamps the frame index
// as a QR code in the bottom-right corner, so a camera pointed at the panel
// can tell which frame is visible.
type Pattern struct {
	format pixfmt.Format
	canvas *image.RGBA
	bars   *image.RGBA
}

// NewPattern builds a w x h pattern emitting RGBA8 or RGB8 frames.
func NewPattern(w, h int, format pixfmt.Format) (*Pattern, error) {
	switch format {
	case pixfmt.Unknown:
		format = pixfmt.RGBA8
	case pixfmt.RGBA8, pixfmt.RGB8:
	default:
		return nil, fmt.Errorf("pattern %s: %w", format, pixfmt.ErrUnsupportedFormat)
	}
	p := &Pattern{
		format: format,
		canvas: image.NewRGBA(image.Rect(0, 0, w, h)),
		bars:   image.NewRGBA(image.Rect(0, 0, w, h)),
	}
	for i, col := range layout.Columns(p.bars.Bounds(), len(Bars)) {
		draw.Draw(p.bars, col, image.NewUniform(Bars[i]), image.Point{}, draw.Src)
	}
	return p, nil
}

func (p *Pattern) Name() string { return "pattern" }

// Next draws frame into a buffer the caller owns.
func (p *Pattern) Next(frame uint64) (staging.HostFrame, error) {
	b := p.canvas.Bounds()
	shift := int(frame*barStepPx) % max(b.Dx(), 1)
	// scroll: the bars image wraps around at the right edge
	draw.Draw(p.canvas, image.Rect(shift, 0, b.Dx(), b.Dy()), p.bars, image.Point{}, draw.Src)
	draw.Draw(p.canvas, image.Rect(0, 0, shift, b.Dy()), p.bars, image.Pt(b.Dx()-shift, 0), draw.Src)

	if err := p.stamp(frame); err != nil {
		return staging.HostFrame{}, err
	}

	f := staging.HostFrame{Fmt: p.format, Width: b.Dx(), Height: b.Dy()}
	if p.format == pixfmt.RGBA8 {
		f.Data, f.Stride = slices.Clone(p.canvas.Pix), p.canvas.Stride
		return f, nil
	}
	out := make([]byte, b.Dx()*b.Dy()*3)
	for i, j := 0, 0; i < len(p.canvas.Pix); i, j = i+4, j+3 {
		out[j], out[j+1], out[j+2] = p.canvas.Pix[i], p.canvas.Pix[i+1], p.canvas.Pix[i+2]
	}
	f.Data = out
	return f, nil
}

func (p *Pattern) stamp(frame uint64) error {
	area := layout.Inset(p.canvas.Bounds(), qrMargin)
	side := layout.FitSquare(area) / qrFraction
	if side < qrMinSize {
		return nil
	}
	qr, err := qrcode.New(strconv.FormatUint(frame, 10), qrcode.Medium)
	if err != nil {
		return fmt.Errorf("frame qr code: %w", err)
	}
	dst := layout.AnchorBottomRight(area, side, side)
	src := qr.Image(side)
	xdraw.NearestNeighbor.Scale(p.canvas, dst, src, src.Bounds(), xdraw.Src, nil)
	return nil
}
