package staging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rook-computer/scanout/internal/accel"
	"github.com/rook-computer/scanout/internal/convert"
	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/surface"
)

const stride = 64

func newSurface(w, h int) *surface.Surface {
	return &surface.Surface{Width: w, Height: h, Stride: stride, Pixels: make([]byte, stride*h), Pin: &surface.PinState{}}
}

func rgbFrame(w, h int) HostFrame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = byte(i*7 + 1)
	}
	return HostFrame{Data: data, Fmt: pixfmt.RGB8, Width: w, Height: h}
}

func TestRGBRoundTripKeepsChannelsAndSetsAlpha(t *testing.T) {
	p := New(Config{})
	dst := newSurface(8, 4)
	src := rgbFrame(8, 4)
	require.NoError(t, p.Stage(src, dst))

	for y := 0; y < 4; y++ {
		for x := 0; x < 7; x++ {
			s := src.Data[(y*8+x)*3:]
			d := dst.Pixels[y*stride+x*4:]
			assert.Equal(t, s[:3], d[:3], "pixel %d,%d", x, y)
			assert.Equal(t, byte(Alpha), d[3])
		}
		// Trailing column is not written.
		assert.Equal(t, []byte{0, 0, 0, 0}, dst.Pixels[y*stride+28:y*stride+32])
	}
	assert.Equal(t, uint64(1), p.Stats().DirectCopies)
	assert.Zero(t, p.Stats().Conversions)
}

func TestRGBAStrideAndClip(t *testing.T) {
	p := New(Config{})
	dst := newSurface(2, 2)
	// 3x3 source with a padded stride of 16 bytes.
	src := HostFrame{Data: make([]byte, 16*3), Fmt: pixfmt.RGBA8, Width: 3, Height: 3, Stride: 16}
	for i := range src.Data {
		src.Data[i] = 9
	}
	require.NoError(t, p.Stage(src, dst))
	for y := 0; y < 2; y++ {
		assert.Equal(t, []byte{9, 9, 9, Alpha, 9, 9, 9, Alpha}, dst.Pixels[y*stride:y*stride+8])
		assert.Equal(t, byte(0), dst.Pixels[y*stride+8])
	}
}

func TestRGBAPaddingByteIsOpaque(t *testing.T) {
	p := New(Config{})
	dst := newSurface(2, 1)
	src := HostFrame{Data: []byte{9, 8, 7, 6, 5, 4, 3, 0}, Fmt: pixfmt.RGBA8, Width: 2, Height: 1}
	require.NoError(t, p.Stage(src, dst))
	assert.Equal(t, []byte{9, 8, 7, Alpha, 5, 4, 3, Alpha}, dst.Pixels[:8])
	// The caller's frame is left alone.
	assert.Equal(t, byte(6), src.Data[3])
}

func TestWiderSourceStaysInBounds(t *testing.T) {
	p := New(Config{})
	dst := newSurface(16, 2)
	dst.Pixels = dst.Pixels[:stride*2:stride*2]
	require.NoError(t, p.Stage(rgbFrame(17, 3), dst))
	require.NoError(t, p.Stage(HostFrame{Data: make([]byte, 17*3*4), Fmt: pixfmt.RGBA8, Width: 17, Height: 3}, dst))
}

func TestShortHostFrame(t *testing.T) {
	p := New(Config{})
	err := p.Stage(HostFrame{Data: make([]byte, 5), Fmt: pixfmt.RGB8, Width: 2, Height: 1}, newSurface(2, 1))
	assert.True(t, errors.Is(err, convert.ErrShortBuffer))
}

func TestConvertedFormat(t *testing.T) {
	p := New(Config{})
	dst := newSurface(2, 2)
	// Mid-grey I420: Y=126, neutral chroma.
	src := make([]byte, pixfmt.FrameSize(pixfmt.I420, 2, 2))
	for i := range src {
		src[i] = 128
	}
	for i := 0; i < 4; i++ {
		src[i] = 126
	}
	require.NoError(t, p.Stage(HostFrame{Data: src, Fmt: pixfmt.I420, Width: 2, Height: 2}, dst))
	assert.Equal(t, uint64(1), p.Stats().Conversions)
	assert.InDelta(t, 128, int(dst.Pixels[0]), 2)
	assert.Equal(t, byte(0xFF), dst.Pixels[3])
	assert.Equal(t, byte(0xFF), dst.Pixels[7])
}

func TestUnsupportedPairAndFormat(t *testing.T) {
	p := New(Config{})
	dst := newSurface(4, 2)

	src := make([]byte, pixfmt.FrameSize(pixfmt.YVYU, 4, 2))
	err := p.Stage(HostFrame{Data: src, Fmt: pixfmt.YVYU, Width: 4, Height: 2}, dst)
	assert.True(t, errors.Is(err, convert.ErrUnsupportedFormatPair))

	err = p.Stage(HostFrame{Data: make([]byte, 8), Fmt: pixfmt.Gray8, Width: 4, Height: 2}, dst)
	assert.True(t, errors.Is(err, pixfmt.ErrUnsupportedFormat))
	assert.Contains(t, err.Error(), "rgb8")
	assert.Zero(t, p.Stats().Conversions)
}

func TestDevicePinPerFrame(t *testing.T) {
	host := accel.NewHost()
	p := New(Config{Accelerator: host})
	dst := newSurface(4, 2)
	buf, err := host.Alloc(pixfmt.RGB8, 4, 2)
	require.NoError(t, err)
	require.NoError(t, buf.Upload(rgbFrame(4, 2).Data))

	require.NoError(t, p.Stage(buf, dst))
	require.NoError(t, p.Stage(buf, dst))
	assert.False(t, dst.Pin.Pinned)
	assert.Equal(t, 0, host.Registered())
	assert.Equal(t, 2, host.Registrations())
	assert.Equal(t, uint64(2), p.Stats().Transfers)

	// The accelerator kernel writes the full clipped width.
	assert.Equal(t, byte(Alpha), dst.Pixels[3*4+3])
}

func TestDevicePinPersistent(t *testing.T) {
	host := accel.NewHost()
	p := New(Config{Accelerator: host, PinPolicy: PinPersistent})
	dst := newSurface(4, 2)
	buf, err := host.Alloc(pixfmt.RGBA8, 4, 2)
	require.NoError(t, err)

	require.NoError(t, p.Stage(buf, dst))
	require.NoError(t, p.Stage(buf, dst))
	assert.True(t, dst.Pin.Pinned)
	assert.Equal(t, 1, host.Registrations())

	require.NoError(t, p.Release([]*surface.Surface{dst}))
	assert.False(t, dst.Pin.Pinned)
	assert.Equal(t, 0, host.Registered())
}

func TestDeviceWithoutAccelerator(t *testing.T) {
	buf, err := accel.NewHost().Alloc(pixfmt.RGB8, 2, 2)
	require.NoError(t, err)
	err = New(Config{}).Stage(buf, newSurface(2, 2))
	assert.True(t, errors.Is(err, ErrNoAccelerator))
}

func TestDeviceIntoUnpinnableSurface(t *testing.T) {
	host := accel.NewHost()
	p := New(Config{Accelerator: host})
	dst := newSurface(4, 1)
	dst.Pin = nil
	buf, err := host.Alloc(pixfmt.RGBA8, 4, 1)
	require.NoError(t, err)
	require.NoError(t, buf.Upload([]byte{1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4, 1, 2, 3, 4}))

	require.NoError(t, p.Stage(buf, dst))
	assert.Equal(t, 0, host.Registrations())
	assert.Equal(t, []byte{1, 2, 3, Alpha}, dst.Pixels[12:16])
}

func TestReplicate(t *testing.T) {
	p := New(Config{})
	front, back := newSurface(4, 2), newSurface(4, 2)
	require.NoError(t, p.Stage(rgbFrame(4, 2), front))

	require.NoError(t, p.Replicate(front, back))
	assert.Equal(t, front.Pixels, back.Pixels)
	assert.Equal(t, uint64(1), p.Stats().Replications)
	assert.Equal(t, uint64(1), p.Stats().DirectCopies)
}

func TestParsePinPolicy(t *testing.T) {
	pp, err := ParsePinPolicy("persistent")
	require.NoError(t, err)
	assert.Equal(t, PinPersistent, pp)
	_, err = ParsePinPolicy("sometimes")
	assert.Error(t, err)
}
