package source

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/rook-computer/scanout/internal/pixfmt"
)

func pixel(f []byte, stride, ch, x, y int) []byte {
	i := y*stride + x*ch
	return f[i : i+ch]
}

func TestPatternBars(t *testing.T) {
	p, err := NewPattern(70, 10, pixfmt.RGBA8)
	require.NoError(t, err)

	f, err := p.Next(0)
	require.NoError(t, err)
	assert.Equal(t, pixfmt.RGBA8, f.Fmt)
	assert.Equal(t, 70*4, f.Stride)
	for i, c := range Bars {
		assert.Equal(t, []byte{c.R, c.G, c.B, 0xFF}, pixel(f.Data, f.Stride, 4, i*10+5, 5))
	}

	// one frame later the first bar has moved right by one step
	f, err = p.Next(1)
	require.NoError(t, err)
	first := Bars[0]
	last := Bars[len(Bars)-1]
	assert.Equal(t, []byte{last.R, last.G, last.B, 0xFF}, pixel(f.Data, f.Stride, 4, 0, 0))
	assert.Equal(t, []byte{first.R, first.G, first.B, 0xFF}, pixel(f.Data, f.Stride, 4, barStepPx, 0))
}

func TestPatternRGB8(t *testing.T) {
	p, err := NewPattern(14, 4, pixfmt.RGB8)
	require.NoError(t, err)
	f, err := p.Next(0)
	require.NoError(t, err)
	assert.Equal(t, pixfmt.RGB8, f.Fmt)
	assert.Len(t, f.Data, 14*4*3)
	c := Bars[1]
	assert.Equal(t, []byte{c.R, c.G, c.B}, pixel(f.Data, 14*3, 3, 2, 1))

	_, err = NewPattern(4, 4, pixfmt.I420)
	assert.ErrorIs(t, err, pixfmt.ErrUnsupportedFormat)
}

func TestPatternStampsQRCode(t *testing.T) {
	p, err := NewPattern(320, 240, pixfmt.RGBA8)
	require.NoError(t, err)
	f, err := p.Next(42)
	require.NoError(t, err)

	// the bottom-right square holds only black and white modules
	side := (240 - 2*qrMargin) / qrFraction
	x0, y0 := 320-qrMargin-side, 240-qrMargin-side
	var black, white int
	for y := y0; y < y0+side; y++ {
		for x := x0; x < x0+side; x++ {
			px := pixel(f.Data, f.Stride, 4, x, y)
			switch {
			case px[0] == 0 && px[1] == 0 && px[2] == 0:
				black++
			case px[0] == 0xFF && px[1] == 0xFF && px[2] == 0xFF:
				white++
			}
		}
	}
	assert.Equal(t, side*side, black+white)
	assert.NotZero(t, black)
	assert.NotZero(t, white)

	other, err := p.Next(43)
	require.NoError(t, err)
	assert.NotEqual(t, f.Data, other.Data)
}

func TestPatternFramesOutliveNextCall(t *testing.T) {
	for _, format := range []pixfmt.Format{pixfmt.RGBA8, pixfmt.RGB8} {
		t.Run(format.String(), func(t *testing.T) {
			p, err := NewPattern(160, 120, format)
			require.NoError(t, err)
			first, err := p.Next(0)
			require.NoError(t, err)
			kept := bytes.Clone(first.Data)

			second, err := p.Next(1)
			require.NoError(t, err)
			assert.Equal(t, kept, first.Data)
			assert.NotEqual(t, first.Data, second.Data)
		})
	}
}

func TestPatternTooSmallForQRCode(t *testing.T) {
	p, err := NewPattern(32, 32, pixfmt.RGBA8)
	require.NoError(t, err)
	_, err = p.Next(7)
	assert.NoError(t, err)
}

func writeImage(t *testing.T, name string, enc func(*bytes.Buffer, image.Image) error) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 200, G: 10, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, enc(&buf, img))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestStillScalesImage(t *testing.T) {
	encoders := map[string]func(*bytes.Buffer, image.Image) error{
		"frame.png": func(b *bytes.Buffer, img image.Image) error { return png.Encode(b, img) },
		"frame.bmp": func(b *bytes.Buffer, img image.Image) error { return bmp.Encode(b, img) },
	}
	for name, enc := range encoders {
		t.Run(name, func(t *testing.T) {
			s, err := LoadStill(writeImage(t, name, enc), 16, 8)
			require.NoError(t, err)
			assert.Equal(t, "still:"+name, s.Name())

			f, err := s.Next(0)
			require.NoError(t, err)
			assert.Equal(t, 16, f.Width)
			assert.Equal(t, 8, f.Height)
			px := pixel(f.Data, f.Stride, 4, 8, 4)
			assert.InDelta(t, 200, int(px[0]), 1)
			assert.InDelta(t, 10, int(px[1]), 1)
			assert.InDelta(t, 30, int(px[2]), 1)
			assert.Equal(t, byte(0xFF), px[3])
			again, _ := s.Next(99)
			assert.Equal(t, f.Data, again.Data)
		})
	}
}

func TestStillErrors(t *testing.T) {
	_, err := LoadStill(filepath.Join(t.TempDir(), "missing.png"), 4, 4)
	assert.ErrorContains(t, err, "open file")

	path := filepath.Join(t.TempDir(), "junk.png")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
	_, err = LoadStill(path, 4, 4)
	assert.ErrorContains(t, err, "decode")
}

func TestNew(t *testing.T) {
	s, err := New(Config{Width: 8, Height: 8})
	require.NoError(t, err)
	assert.Equal(t, "pattern", s.Name())

	_, err = New(Config{Kind: "still", Width: 8, Height: 8})
	assert.Error(t, err)
	_, err = New(Config{Kind: "video", Width: 8, Height: 8})
	assert.Error(t, err)
	_, err = New(Config{Kind: "pattern"})
	assert.Error(t, err)
}
