package render

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"
)

func touched(img *image.RGBA, r image.Rectangle) int {
	n := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y).A != 0 {
				n++
			}
		}
	}
	return n
}

func TestOverlayDrawsPanelTopLeft(t *testing.T) {
	o := NewOverlay("", 0, zerolog.Nop())
	require.NoError(t, o.Init(320, 200))
	o.SetText(func(frame uint64) []string { return []string{"scanout", "frame 7"} })

	img := image.NewRGBA(image.Rect(0, 0, 320, 200))
	o.Draw(img, 7)

	assert.Zero(t, touched(img, image.Rect(0, 0, overlayMargin, overlayMargin)))
	assert.NotZero(t, touched(img, image.Rect(overlayMargin, overlayMargin, 120, 60)))
	assert.Zero(t, touched(img, image.Rect(200, 100, 320, 200)))

	var fg int
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] == OverlayForeground.R && img.Pix[i+1] == OverlayForeground.G {
			fg++
		}
	}
	assert.NotZero(t, fg)
}

func TestOverlayNoLines(t *testing.T) {
	o := NewOverlay("", 0, zerolog.Nop())
	o.SetText(func(uint64) []string { return nil })
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	o.Draw(img, 1)
	assert.Zero(t, touched(img, img.Bounds()))
}

func TestOverlayFontFallback(t *testing.T) {
	o := NewOverlay(filepath.Join(t.TempDir(), "missing.ttf"), 12, zerolog.Nop())
	require.NoError(t, o.Init(64, 64))
	assert.Equal(t, basicfont.Face7x13, o.face)

	bad := filepath.Join(t.TempDir(), "bad.ttf")
	require.NoError(t, os.WriteFile(bad, []byte("not a font"), 0o644))
	o = NewOverlay(bad, 12, zerolog.Nop())
	require.NoError(t, o.Init(64, 64))
	assert.Equal(t, basicfont.Face7x13, o.face)
}

func TestOverlayLoadsFontFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goregular.ttf")
	require.NoError(t, os.WriteFile(path, goregular.TTF, 0o644))

	o := NewOverlay(path, 14, zerolog.Nop())
	require.NoError(t, o.Init(200, 100))
	assert.NotEqual(t, basicfont.Face7x13, o.face)

	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	o.Draw(img, 3)
	assert.NotZero(t, touched(img, img.Bounds()))
}
