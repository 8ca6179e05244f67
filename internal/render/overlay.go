package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"sync"

	"github.com/golang/freetype/truetype"
	"github.com/rs/zerolog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/rook-computer/scanout/internal/render/layout"
)

var (
	OverlayForeground = color.RGBA{R: 0xFF, G: 0xDC, B: 0x00, A: 0xFF}
	OverlayPanel      = color.RGBA{R: 0x00, G: 0x00, B: 0x00, A: 0xA0}
	overlayShadow     = color.RGBA{A: 0xFF}
)

const (
	overlayPadding = 12
	overlayMargin  = 16
)

// Overlay draws a text panel in the top-left corner of each staged frame.
// Install it with Renderer.SetRenderCallback(o.Init, o.Draw).
type Overlay struct {
	fontPath string
	size     float64
	log      zerolog.Logger

	mu    sync.Mutex
	face  font.Face
	lines func(frame uint64) []string
}

// NewOverlay uses the font file at fontPath (OpenType or TrueType) at size
// points, or the built-in 7x13 face when fontPath is empty.
func NewOverlay(fontPath string, size float64, log zerolog.Logger) *Overlay {
	if size <= 0 {
		size = 18
	}
	return &Overlay{
		fontPath: fontPath,
		size:     size,
		log:      log,
		lines:    func(frame uint64) []string { return []string{fmt.Sprintf("frame %d", frame)} },
	}
}

// SetText replaces the line producer.
func (o *Overlay) SetText(lines func(frame uint64) []string) {
	o.mu.Lock()
	o.lines = lines
	o.mu.Unlock()
}

// Init loads the font face; a font that fails to load falls back to the
// built-in face.
func (o *Overlay) Init(width, height int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.face = basicfont.Face7x13
	if o.fontPath == "" {
		return nil
	}
	data, err := os.ReadFile(o.fontPath)
	if err != nil {
		o.log.Warn().Err(err).Str("font", o.fontPath).Msg("font load failed, using basicfont")
		return nil
	}
	face, err := loadFace(data, o.size)
	if err != nil {
		o.log.Warn().Err(err).Str("font", o.fontPath).Msg("font parse failed, using basicfont")
		return nil
	}
	o.face = face
	o.log.Debug().Str("font", o.fontPath).Float64("size", o.size).Int("width", width).Int("height", height).Msg("overlay font loaded")
	return nil
}

func loadFace(data []byte, size float64) (font.Face, error) {
	if otf, err := opentype.Parse(data); err == nil {
		return opentype.NewFace(otf, &opentype.FaceOptions{Size: size, DPI: 96, Hinting: font.HintingFull})
	}
	tt, err := truetype.Parse(data)
	if err != nil {
		return nil, err
	}
	return truetype.NewFace(tt, &truetype.Options{Size: size, DPI: 96, Hinting: font.HintingFull}), nil
}

func (o *Overlay) Draw(canvas *image.RGBA, frame uint64) {
	o.mu.Lock()
	face, producer := o.face, o.lines
	o.mu.Unlock()
	if face == nil {
		face = basicfont.Face7x13
	}
	lines := producer(frame)
	if len(lines) == 0 {
		return
	}

	m := face.Metrics()
	lineHeight := m.Height.Ceil()
	ascent := m.Ascent.Ceil()
	d := &font.Drawer{Face: face}
	textWidth := 0
	for _, l := range lines {
		textWidth = max(textWidth, d.MeasureString(l).Ceil())
	}

	area := layout.Inset(canvas.Bounds(), overlayMargin)
	panel := layout.AnchorTopLeft(area, textWidth+2*overlayPadding, len(lines)*lineHeight+2*overlayPadding)
	draw.Draw(canvas, panel, image.NewUniform(OverlayPanel), image.Point{}, draw.Over)

	rows := layout.Rows(layout.Inset(panel, overlayPadding), len(lines))
	for i, l := range lines {
		drawTextWithShadow(canvas, l, rows[i].Min.X, rows[i].Min.Y+ascent, OverlayForeground, face)
	}
}

func drawTextWithShadow(img *image.RGBA, text string, x, baseline int, fg color.Color, face font.Face) {
	drawTextAt(img, text, x+1, baseline+1, overlayShadow, face)
	drawTextAt(img, text, x, baseline, fg, face)
}

func drawTextAt(img *image.RGBA, text string, x, baseline int, fg color.Color, face font.Face) {
	drawer := &font.Drawer{Dst: img, Src: image.NewUniform(fg), Face: face}
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}
