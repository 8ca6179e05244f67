// Package render is the direct-to-display entry point. A Renderer owns the
// device session, one surface backend, the staging pipeline and the present
// scheduler, and restores the display when closed.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rook-computer/scanout/internal/accel"
	"github.com/rook-computer/scanout/internal/convert"
	"github.com/rook-computer/scanout/internal/kms"
	"github.com/rook-computer/scanout/internal/logging"
	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/present"
	"github.com/rook-computer/scanout/internal/session"
	"github.com/rook-computer/scanout/internal/staging"
	"github.com/rook-computer/scanout/internal/surface"
)

type Config struct {
	// Device is a card path, a card number, or "" for the first card.
	Device    string
	Connector uint32
	Mode      string
	Refresh   uint32

	Backend        surface.Kind
	PresentMode    surface.PresentMode
	PinPolicy      staging.PinPolicy
	ReportInterval time.Duration

	// Opener and Swapchain replace the kernel device and the GBM buffer
	// queue, mainly for the simulator and tests.
	Opener    kms.Opener
	Swapchain kms.SwapchainFactory
	// Accelerator defaults to the software accelerator.
	Accelerator accel.Accelerator
	Converter   *convert.Converter

	Logger *zerolog.Logger
}

// InitFunc runs once, before the first overlay draw, with the surface size.
type InitFunc func(width, height int) error

// DrawFunc draws over a freshly staged back surface. frame is the index the
// frame will have once presented.
type DrawFunc func(canvas *image.RGBA, frame uint64)

type Status struct {
	Backend   string
	Mode      string
	State     string
	Frames    uint64
	FPS       float64
	LastError string
}

type Renderer struct {
	log      zerolog.Logger
	sess     *session.Session
	loop     *kms.EventLoop
	backend  surface.Backend
	pipeline *staging.Pipeline
	sched    *present.Scheduler
	acc      accel.Accelerator
	ownAcc   bool

	// frameMu serialises frames against snapshots and Close.
	frameMu  sync.Mutex
	initFn   InitFunc
	drawFn   DrawFunc
	initDone bool
	closed   bool
	// shown is a host copy of the frame on screen; staged becomes shown once
	// its present is confirmed. Swapchain buffers are unmapped after Queue.
	shown  *surface.Surface
	staged *surface.Surface

	interrupted atomic.Bool

	errMu   sync.Mutex
	lastErr error
}

func New(cfg Config) (*Renderer, error) {
	log := logging.Component(cfg.Logger, "render")

	sess, err := session.Open(cfg.Device, session.Config{
		Connector: cfg.Connector,
		Mode:      cfg.Mode,
		Refresh:   cfg.Refresh,
		Opener:    cfg.Opener,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	loop, err := kms.NewEventLoop(sess.Card())
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	backend, err := surface.Select(sess, loop, surface.Options{
		Kind:        cfg.Backend,
		PresentMode: cfg.PresentMode,
		Swapchain:   cfg.Swapchain,
		Logger:      cfg.Logger,
	})
	if err != nil {
		_ = loop.Close()
		_ = sess.Close()
		return nil, err
	}

	r := &Renderer{log: log, sess: sess, loop: loop, backend: backend, acc: cfg.Accelerator}
	if r.acc == nil {
		r.acc = accel.NewHost()
		r.ownAcc = true
	}
	r.pipeline = staging.New(staging.Config{
		Converter:   cfg.Converter,
		Accelerator: r.acc,
		PinPolicy:   cfg.PinPolicy,
		Logger:      cfg.Logger,
	})
	counter := present.NewFrameCounter(cfg.ReportInterval, logging.Component(cfg.Logger, "present"))
	r.sched = present.NewScheduler(backend, counter, cfg.Logger)

	log.Info().
		Str("backend", backend.Name()).
		Str("mode", sess.Mode().String()).
		Str("pin_policy", cfg.PinPolicy.String()).
		Msg("renderer ready")
	return r, nil
}

// SetRenderCallback installs overlay hooks run after each staged frame.
func (r *Renderer) SetRenderCallback(init InitFunc, draw DrawFunc) {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	r.initFn, r.drawFn, r.initDone = init, draw, false
}

// Render presents a host frame. A nil image redraws the last frame. It
// reports success; LastError has the reason for a failure.
func (r *Renderer) Render(img []byte, width, height int, format pixfmt.Format) bool {
	var src staging.Source
	if img != nil {
		src = staging.HostFrame{Data: img, Fmt: format, Width: width, Height: height}
	}
	return r.RenderContext(context.Background(), src) == nil
}

// RenderContext presents src, either a staging.HostFrame or an
// *accel.Buffer. A nil src redraws the frame on screen without staging.
func (r *Renderer) RenderContext(ctx context.Context, src staging.Source) error {
	err := r.render(ctx, src)
	r.setLastError(err)
	if err != nil {
		ev := r.log.Debug()
		if Fatal(err) {
			ev = r.log.Warn()
		}
		ev.Err(err).Msg("frame dropped")
	}
	return err
}

func (r *Renderer) render(ctx context.Context, src staging.Source) error {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.interrupted.Load() {
		return fmt.Errorf("%w: interrupted", ErrCancelled)
	}

	var stage present.StageFunc
	if src == nil {
		if r.shown == nil {
			return ErrNothingStaged
		}
		stage = func(back *surface.Surface) error {
			return r.pipeline.Replicate(r.shown, back)
		}
	} else {
		stage = func(back *surface.Surface) error {
			if err := r.pipeline.Stage(src, back); err != nil {
				return err
			}
			if err := r.overlay(back); err != nil {
				return err
			}
			r.staged = hostCopy(r.staged, back)
			return nil
		}
	}
	if err := r.sched.Frame(ctx, stage); err != nil {
		return err
	}
	if src != nil {
		r.shown, r.staged = r.staged, r.shown
	}
	return nil
}

// hostCopy copies the visible part of s into dst, reallocating dst when the
// size changed.
func hostCopy(dst, s *surface.Surface) *surface.Surface {
	n := s.Width * 4
	if dst == nil || dst.Width != s.Width || dst.Height != s.Height {
		dst = &surface.Surface{Width: s.Width, Height: s.Height, Stride: n, Pixels: make([]byte, n*s.Height)}
	}
	for y := 0; y < s.Height; y++ {
		copy(dst.Pixels[y*n:(y+1)*n], s.Pixels[y*s.Stride:y*s.Stride+n])
	}
	return dst
}

func (r *Renderer) overlay(back *surface.Surface) error {
	if r.drawFn == nil {
		return nil
	}
	if !r.initDone {
		if r.initFn != nil {
			if err := r.initFn(back.Width, back.Height); err != nil {
				return fmt.Errorf("overlay init: %w", err)
			}
		}
		r.initDone = true
	}
	r.drawFn(canvas(back), r.sched.Counter().Frames()+1)
	return nil
}

// canvas views a surface as an image.RGBA; the XBGR8888 byte order matches.
func canvas(s *surface.Surface) *image.RGBA {
	return &image.RGBA{
		Pix:    s.Pixels[:s.Stride*s.Height],
		Stride: s.Stride,
		Rect:   image.Rect(0, 0, s.Width, s.Height),
	}
}

// Interrupt aborts a frame blocked on its flip and fails every later
// frame with ErrCancelled. Safe from any goroutine.
func (r *Renderer) Interrupt() {
	if r.interrupted.Swap(true) {
		return
	}
	r.log.Info().Msg("interrupted")
	r.loop.Wake()
}

// Wake aborts a frame blocked on its flip with ErrCancelled and leaves the
// renderer usable; the next frame settles the interrupted flip first.
func (r *Renderer) Wake() { r.loop.Wake() }

func (r *Renderer) Interrupted() bool { return r.interrupted.Load() }

func (r *Renderer) LastError() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastErr
}

func (r *Renderer) setLastError(err error) {
	r.errMu.Lock()
	r.lastErr = err
	r.errMu.Unlock()
}

func (r *Renderer) Mode() session.DisplayMode      { return r.sess.Mode() }
func (r *Renderer) ConnectorID() uint32            { return r.sess.ConnectorID() }
func (r *Renderer) CrtcID() uint32                 { return r.sess.CrtcID() }
func (r *Renderer) BackendName() string            { return r.backend.Name() }
func (r *Renderer) Frames() uint64                 { return r.sched.Counter().Frames() }
func (r *Renderer) StagingStats() staging.Stats    { return r.pipeline.Stats() }
func (r *Renderer) SavedState() *session.CrtcState { return r.sess.Saved() }
func (r *Renderer) PresentState() present.State    { return r.sched.State() }
func (r *Renderer) Accelerator() accel.Accelerator { return r.acc }

func (r *Renderer) Status() Status {
	st := Status{
		Backend: r.backend.Name(),
		Mode:    r.sess.Mode().String(),
		State:   r.sched.State().String(),
		Frames:  r.sched.Counter().Frames(),
		FPS:     r.sched.Counter().FPS(),
	}
	if err := r.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Snapshot copies the frame on screen into a new image.
func (r *Renderer) Snapshot() (*image.RGBA, error) {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.shown == nil {
		return nil, errors.New("snapshot: nothing rendered yet")
	}
	img := image.NewRGBA(image.Rect(0, 0, r.shown.Width, r.shown.Height))
	copy(img.Pix, r.shown.Pixels)
	return img, nil
}

// Close unpins surfaces, restores the saved CRTC, releases the buffers and
// closes the device. Restore failures are logged only.
func (r *Renderer) Close() error {
	r.frameMu.Lock()
	defer r.frameMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	errs = append(errs, r.pipeline.Release(r.backend.Surfaces()))
	_ = r.sess.Restore()
	errs = append(errs, r.backend.Close(), r.loop.Close(), r.sess.Close())
	if r.ownAcc {
		errs = append(errs, r.acc.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		r.log.Warn().Err(err).Msg("shutdown")
	} else {
		r.log.Info().Uint64("frames", r.Frames()).Msg("display restored")
	}
	return err
}
