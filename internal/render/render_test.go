//go:build linux

package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rook-computer/scanout/internal/kms/kmstest"
	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/surface"
)

const (
	testW = 64
	testH = 48
)

func newTestRenderer(t *testing.T, dev *kmstest.Device) *Renderer {
	t.Helper()
	r, err := New(Config{Opener: dev.Opener(), Backend: surface.BackendDumb})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func rgbFrame(w, h int, seed byte) []byte {
	out := make([]byte, w*h*3)
	for i := range out {
		out[i] = seed + byte(i%251)
	}
	return out
}

// front returns the visible bytes of the framebuffer on screen.
func front(t *testing.T, dev *kmstest.Device, r *Renderer) []byte {
	t.Helper()
	fb := dev.Scanout(r.sess.CrtcID())
	pix := dev.Pixels(fb)
	require.NotNil(t, pix)
	s := r.backend.Front()
	out := make([]byte, 0, s.Width*s.Height*4)
	for y := 0; y < s.Height; y++ {
		out = append(out, pix[y*s.Stride:y*s.Stride+s.Width*4]...)
	}
	return out
}

func TestNewWithoutOutput(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithDisconnectedOutput())
	_, err := New(Config{Opener: dev.Opener()})
	assert.True(t, errors.Is(err, ErrNoDevice))
	assert.True(t, Fatal(err))
}

func TestNewBusy(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	newTestRenderer(t, dev)
	_, err := New(Config{Opener: dev.Opener()})
	assert.True(t, errors.Is(err, ErrResourceBusy))
}

func TestRenderRGBFrame(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)

	src := rgbFrame(testW, testH, 7)
	require.True(t, r.Render(src, testW, testH, pixfmt.RGB8))
	assert.NoError(t, r.LastError())
	assert.Equal(t, uint64(1), r.Frames())

	got := front(t, dev, r)
	assert.Equal(t, []byte{src[0], src[1], src[2], 0xFF}, got[:4])
	row := testW * 4
	assert.Equal(t, []byte{src[3*testW], src[3*testW+1], src[3*testW+2], 0xFF}, got[row:row+4])
	assert.Equal(t, uint64(1), r.StagingStats().DirectCopies)
}

func TestRenderAlternatesFramebuffers(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)
	crtc := r.sess.CrtcID()

	var seen []uint32
	for i := 0; i < 6; i++ {
		require.True(t, r.Render(rgbFrame(testW, testH, byte(i)), testW, testH, pixfmt.RGB8))
		seen = append(seen, dev.Scanout(crtc))
	}
	for i := 1; i < len(seen); i++ {
		assert.NotEqual(t, seen[i-1], seen[i])
	}
	assert.Equal(t, seen[0], seen[2])
	assert.Equal(t, uint64(6), r.Frames())
}

func TestRedrawReplicatesFront(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)

	assert.False(t, r.Render(nil, 0, 0, pixfmt.RGB8))
	assert.True(t, errors.Is(r.LastError(), ErrNothingStaged))
	assert.Zero(t, r.Frames())

	require.True(t, r.Render(rgbFrame(testW, testH, 3), testW, testH, pixfmt.RGB8))
	before := front(t, dev, r)
	fb := dev.Scanout(r.sess.CrtcID())
	stats := r.StagingStats()

	require.True(t, r.Render(nil, 0, 0, pixfmt.RGB8))
	assert.NotEqual(t, fb, dev.Scanout(r.sess.CrtcID()))
	assert.Equal(t, before, front(t, dev, r))

	after := r.StagingStats()
	assert.Equal(t, stats.DirectCopies, after.DirectCopies)
	assert.Equal(t, stats.Conversions, after.Conversions)
	assert.Equal(t, stats.Replications+1, after.Replications)
	assert.Equal(t, uint64(2), r.Frames())
}

func TestOversizedSourceStaysInBuffer(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)

	w, h := testW+1, testH+1
	src := bytes.Repeat([]byte{0x11, 0x22, 0x33, 0x44}, w*h)
	require.True(t, r.Render(src, w, h, pixfmt.RGBA8))
	require.True(t, r.Render(rgbFrame(w, h, 9), w, h, pixfmt.RGB8))
	assert.True(t, dev.CanariesIntact())
}

func TestUnsupportedPairDropsFrame(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)
	require.True(t, r.Render(rgbFrame(testW, testH, 1), testW, testH, pixfmt.RGB8))
	fb := dev.Scanout(r.sess.CrtcID())

	src := make([]byte, pixfmt.FrameSize(pixfmt.YVYU, testW, testH))
	assert.False(t, r.Render(src, testW, testH, pixfmt.YVYU))
	assert.True(t, errors.Is(r.LastError(), ErrUnsupportedFormatPair))
	assert.False(t, Fatal(r.LastError()))
	assert.Equal(t, uint64(1), r.Frames())
	assert.Equal(t, fb, dev.Scanout(r.sess.CrtcID()))

	// the next valid frame still goes through
	assert.True(t, r.Render(rgbFrame(testW, testH, 2), testW, testH, pixfmt.RGB8))
	assert.Equal(t, uint64(2), r.Frames())
}

func TestRejectedFlipIsRetriedOnce(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)
	crtc := r.sess.CrtcID()

	dev.RejectFlips(1)
	require.True(t, r.Render(rgbFrame(testW, testH, 1), testW, testH, pixfmt.RGB8))
	assert.Equal(t, uint64(1), r.Frames())
	shown := dev.Scanout(crtc)
	content := front(t, dev, r)

	dev.RejectFlips(2)
	assert.False(t, r.Render(rgbFrame(testW, testH, 2), testW, testH, pixfmt.RGB8))
	assert.True(t, errors.Is(r.LastError(), ErrPresentRejected))
	assert.Equal(t, uint64(1), r.Frames())
	assert.Equal(t, shown, dev.Scanout(crtc))
	assert.Equal(t, content, front(t, dev, r))
	assert.Equal(t, "idle", r.Status().State)
}

func TestInterruptDuringFlipRestoresConsole(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	dev.HoldFlipsAfter(49)
	r, err := New(Config{Opener: dev.Opener(), Backend: surface.BackendDumb})
	require.NoError(t, err)
	crtc := r.sess.CrtcID()
	require.NotNil(t, r.SavedState())
	assert.Equal(t, kmstest.ConsoleFB, r.SavedState().BufferID)

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for dev.Flips() < 50 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		r.Interrupt()
	}()

	var ok int
	var failed []error
	for i := 0; i < 100; i++ {
		if r.Render(rgbFrame(testW, testH, byte(i)), testW, testH, pixfmt.RGB8) {
			ok++
			continue
		}
		failed = append(failed, r.LastError())
	}
	assert.Equal(t, 49, ok)
	assert.Equal(t, uint64(49), r.Frames())
	require.Len(t, failed, 51)
	for _, err := range failed {
		assert.True(t, errors.Is(err, ErrCancelled))
	}
	assert.True(t, r.Interrupted())
	assert.Equal(t, 50, dev.Flips())

	require.NoError(t, r.Close())
	assert.Equal(t, kmstest.ConsoleFB, dev.Scanout(crtc))
	assert.Equal(t, 0, dev.LiveBuffers())
	assert.False(t, r.Render(rgbFrame(testW, testH, 0), testW, testH, pixfmt.RGB8))
	assert.True(t, errors.Is(r.LastError(), ErrClosed))
}

func TestWakeAbortsOnlyCurrentFrame(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	dev.HoldFlipsAfter(1)
	r := newTestRenderer(t, dev)
	require.True(t, r.Render(rgbFrame(testW, testH, 1), testW, testH, pixfmt.RGB8))

	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for dev.Flips() < 2 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		r.Wake()
	}()
	assert.False(t, r.Render(rgbFrame(testW, testH, 2), testW, testH, pixfmt.RGB8))
	assert.True(t, errors.Is(r.LastError(), ErrCancelled))
	assert.False(t, r.Interrupted())

	dev.HoldFlipsAfter(-1)
	dev.ReleaseHeld()
	require.True(t, r.Render(rgbFrame(testW, testH, 3), testW, testH, pixfmt.RGB8))
	assert.Equal(t, uint64(2), r.Frames())
}

func TestCloseAfterUnplug(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r, err := New(Config{Opener: dev.Opener(), Backend: surface.BackendDumb})
	require.NoError(t, err)
	require.True(t, r.Render(rgbFrame(testW, testH, 1), testW, testH, pixfmt.RGB8))

	dev.Unplug()
	assert.False(t, r.Render(rgbFrame(testW, testH, 2), testW, testH, pixfmt.RGB8))
	assert.NotPanics(t, func() { _ = r.Close() })
	assert.NoError(t, r.Close())
}

func TestOverlayCallback(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)

	var inits int
	var frames []uint64
	r.SetRenderCallback(
		func(w, h int) error {
			inits++
			assert.Equal(t, testW, w)
			assert.Equal(t, testH, h)
			return nil
		},
		func(c *image.RGBA, frame uint64) {
			frames = append(frames, frame)
			c.SetRGBA(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 0xFF})
		},
	)
	for i := 0; i < 3; i++ {
		require.True(t, r.Render(rgbFrame(testW, testH, 50), testW, testH, pixfmt.RGB8))
	}
	require.True(t, r.Render(nil, 0, 0, pixfmt.RGB8))

	assert.Equal(t, 1, inits)
	assert.Equal(t, []uint64{1, 2, 3}, frames)
	assert.Equal(t, []byte{1, 2, 3, 0xFF}, front(t, dev, r)[:4])
}

func TestOverlayInitFailureDropsFrame(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)
	r.SetRenderCallback(func(int, int) error { return errors.New("no font") }, func(*image.RGBA, uint64) {})

	assert.False(t, r.Render(rgbFrame(testW, testH, 1), testW, testH, pixfmt.RGB8))
	assert.ErrorContains(t, r.LastError(), "overlay init")
	assert.Zero(t, r.Frames())
}

func TestRenderDeviceBuffer(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)

	buf, err := r.Accelerator().Alloc(pixfmt.RGBA8, testW, testH)
	require.NoError(t, err)
	require.NoError(t, buf.Upload(bytes.Repeat([]byte{9, 8, 7, 6}, testW*testH)))

	for i := 0; i < 3; i++ {
		require.NoError(t, r.RenderContext(t.Context(), buf))
	}
	assert.Equal(t, []byte{9, 8, 7, 0xFF}, front(t, dev, r)[:4])
	st := r.StagingStats()
	assert.Equal(t, uint64(3), st.Transfers)
	assert.Equal(t, uint64(3), st.Pins)
}

func TestSnapshotAndStatus(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newTestRenderer(t, dev)
	require.True(t, r.Render(rgbFrame(testW, testH, 5), testW, testH, pixfmt.RGB8))

	img, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, testW, testH), img.Bounds())
	assert.Equal(t, front(t, dev, r), img.Pix)

	st := r.Status()
	assert.Equal(t, "dumb", st.Backend)
	assert.Equal(t, "64x48@60", st.Mode)
	assert.Equal(t, uint64(1), st.Frames)
	assert.Empty(t, st.LastError)
}

func newSwapchainRenderer(t *testing.T, dev *kmstest.Device) *Renderer {
	t.Helper()
	r, err := New(Config{Opener: dev.Opener(), Backend: surface.BackendSwapchain, Swapchain: kmstest.Factory(2)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.Equal(t, "swapchain", r.BackendName())
	return r
}

func TestSwapchainRecoversAfterRejectedRetry(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newSwapchainRenderer(t, dev)
	for i := 0; i < 2; i++ {
		require.True(t, r.Render(rgbFrame(testW, testH, byte(i)), testW, testH, pixfmt.RGB8))
	}
	flips := dev.Flips()

	dev.RejectFlips(2)
	assert.False(t, r.Render(rgbFrame(testW, testH, 2), testW, testH, pixfmt.RGB8))
	assert.True(t, errors.Is(r.LastError(), ErrPresentRejected))

	for i := 0; i < 3; i++ {
		src := rgbFrame(testW, testH, byte(10+i))
		require.True(t, r.Render(src, testW, testH, pixfmt.RGB8), "frame %d: %v", i, r.LastError())
		assert.Equal(t, []byte{src[0], src[1], src[2], 0xFF}, front(t, dev, r)[:4])
	}
	assert.Equal(t, uint64(5), r.Frames())
	assert.Equal(t, flips+3, dev.Flips())
}

func TestSwapchainRedrawAndSnapshot(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(testW, testH, 60))
	r := newSwapchainRenderer(t, dev)
	require.True(t, r.Render(rgbFrame(testW, testH, 4), testW, testH, pixfmt.RGB8))
	require.True(t, r.Render(rgbFrame(testW, testH, 8), testW, testH, pixfmt.RGB8))
	shown := front(t, dev, r)
	fb := dev.Scanout(r.sess.CrtcID())

	require.True(t, r.Render(nil, 0, 0, pixfmt.RGB8), "%v", r.LastError())
	assert.NotEqual(t, fb, dev.Scanout(r.sess.CrtcID()))
	assert.Equal(t, shown, front(t, dev, r))
	assert.Equal(t, uint64(1), r.StagingStats().Replications)

	img, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, shown, img.Pix)
}
