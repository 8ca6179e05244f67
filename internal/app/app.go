// Package app runs the render loop: it opens the display, feeds frames from a
// source, publishes status and restores the console on the way out.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rook-computer/scanout/internal/config"
	"github.com/rook-computer/scanout/internal/kms"
	"github.com/rook-computer/scanout/internal/logging"
	"github.com/rook-computer/scanout/internal/render"
	"github.com/rook-computer/scanout/internal/source"
	"github.com/rook-computer/scanout/internal/state"
	"github.com/rook-computer/scanout/internal/system"
	"github.com/rook-computer/scanout/internal/web"
)

const (
	statusEvery = 250 * time.Millisecond
	// maxDropped consecutive failed frames end the loop.
	maxDropped = 120
)

var ErrTooManyDropped = errors.New("too many consecutive dropped frames")

type App struct {
	Config *config.Config
	Store  *state.Store
	Logger *zerolog.Logger

	// Opener and Swapchain replace the kernel device, for the simulator.
	Opener    kms.Opener
	Swapchain kms.SwapchainFactory
	// Routes adds handlers to the web mux before it starts.
	Routes func(mux *http.ServeMux)
	// InputGlob defaults to system.DefaultInputGlob.
	InputGlob string

	log      zerolog.Logger
	renderer atomic.Pointer[render.Renderer]
	server   atomic.Pointer[web.HTTPServer]
	exitOnce atomic.Bool
	exitCh   chan error
	dropped  uint64
}

func New(cfg *config.Config, store *state.Store, logger *zerolog.Logger) *App {
	if store == nil {
		store = state.NewStore()
	}
	return &App{Config: cfg, Store: store, Logger: logger, exitCh: make(chan error, 1)}
}

// Exit requests the render loop to stop. The first call wins.
func (app *App) Exit(err error) {
	if app.exitCh == nil {
		return
	}
	if !app.exitOnce.CompareAndSwap(false, true) {
		return
	}
	select {
	case app.exitCh <- err:
	default:
	}
}

// Renderer is the live renderer, nil before the display is open and after it
// is closed.
func (app *App) Renderer() *render.Renderer { return app.renderer.Load() }

// ListenAddr is the bound web address while the server runs, "" otherwise.
func (app *App) ListenAddr() string {
	if s := app.server.Load(); s != nil {
		return s.ListenAddr()
	}
	return ""
}

// Start opens the display and renders until ctx ends, Exit is called, the
// frame budget is spent or a fatal error occurs. The display is restored
// before it returns.
func (app *App) Start(ctx context.Context) error {
	if app.exitCh == nil {
		app.exitCh = make(chan error, 1)
	}
	app.exitOnce.Store(false)
	app.dropped = 0
	app.log = logging.Component(app.Logger, "app")

	phase, err := app.run(ctx)
	if err != nil {
		app.Store.Fail(err)
		return err
	}
	app.Store.SetPhase(phase)
	return nil
}

// run returns the phase to finish in once everything it opened is closed.
func (app *App) run(ctx context.Context) (state.Phase, error) {
	cfg := app.Config
	parsed, err := cfg.Parse()
	if err != nil {
		return state.ERROR, err
	}

	r, err := render.New(render.Config{
		Device:         cfg.Device,
		Connector:      cfg.Connector,
		Mode:           cfg.Mode,
		Refresh:        cfg.Refresh,
		Backend:        parsed.Backend,
		PresentMode:    parsed.PresentMode,
		PinPolicy:      parsed.PinPolicy,
		ReportInterval: cfg.ReportInterval,
		Opener:         app.Opener,
		Swapchain:      app.Swapchain,
		Logger:         app.Logger,
	})
	if err != nil {
		app.log.Error().Err(err).Msg("renderer start error")
		return state.ERROR, err
	}
	app.renderer.Store(r)
	defer app.closeRenderer(r)

	m := r.Mode()
	app.Store.UpdateDisplay(state.DisplayInfo{
		Device:    cfg.Device,
		Connector: r.ConnectorID(),
		Crtc:      r.CrtcID(),
		Mode:      m.String(),
		Backend:   r.BackendName(),
		Present:   parsed.PresentMode.String(),
	})

	src, err := source.New(source.Config{
		Kind:   cfg.Source,
		Path:   cfg.SourcePath,
		Width:  m.Width,
		Height: m.Height,
		Format: parsed.Format,
	})
	if err != nil {
		return state.ERROR, err
	}
	if cfg.Overlay {
		o := render.NewOverlay(cfg.FontPath, cfg.FontSize, logging.Component(app.Logger, "overlay"))
		o.SetText(app.overlayLines)
		r.SetRenderCallback(o.Init, o.Draw)
	}

	if cfg.TTY != "" {
		console := system.NewConsole(cfg.TTY, logging.Component(app.Logger, "tty"))
		if err := console.Enter(); err != nil {
			app.log.Warn().Err(err).Str("tty", cfg.TTY).Msg("console graphics mode unavailable")
		}
		defer func() { _ = console.Restore() }()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	server, err := app.startWeb(loopCtx, r)
	if err != nil {
		return state.ERROR, err
	}
	defer func() {
		app.server.Store(nil)
		_ = server.Stop()
	}()

	if code, err := system.KeyCode(cfg.ExitKey); err != nil {
		app.log.Warn().Err(err).Msg("exit key disabled")
	} else {
		glob := app.InputGlob
		if glob == "" {
			glob = system.DefaultInputGlob
		}
		system.WatchExitKey(loopCtx, glob, code, logging.Component(app.Logger, "input"), func() { app.Exit(nil) })
	}

	app.Store.SetPhase(state.RENDERING)
	app.log.Info().Str("source", src.Name()).Str("mode", m.String()).Msg("rendering")

	g, gctx := errgroup.WithContext(loopCtx)
	var (
		exitErr   error
		requested bool
	)
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case exitErr = <-app.exitCh:
			requested = true
		}
		r.Interrupt()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return app.loop(gctx, r, src)
	})
	if err := g.Wait(); err != nil {
		return state.ERROR, err
	}
	switch {
	case exitErr != nil:
		return state.ERROR, exitErr
	case requested || ctx.Err() != nil:
		return state.CANCELLED, nil
	}
	return state.DONE, nil
}

func (app *App) startWeb(ctx context.Context, r *render.Renderer) (web.Server, error) {
	if app.Config.Listen == "" {
		return web.NoopServer{}, nil
	}
	server := web.NewHTTPServer(web.ServerConfig{ListenAddr: app.Config.Listen})
	server.Logger = logging.Component(app.Logger, "web")
	mux := web.NewMux("", web.APIV1Config{
		Handlers: web.APIV1Handlers{StopFunc: func(context.Context) error { app.Exit(nil); return nil }},
		Deps:     web.APIV1Deps{Status: app.Store, Frames: r},
	})
	if app.Routes != nil {
		app.Routes(mux)
	}
	server.Handler = mux
	if err := server.Start(ctx); err != nil {
		return nil, err
	}
	app.server.Store(server)
	return server, nil
}

// loop renders frames until the budget is spent, the context ends or a
// fatal error occurs. A cancelled frame ends the loop without error.
func (app *App) loop(ctx context.Context, r *render.Renderer, src source.Source) error {
	var tick <-chan time.Time
	if app.Config.FPS > 0 {
		t := time.NewTicker(time.Second / time.Duration(app.Config.FPS))
		defer t.Stop()
		tick = t.C
	}
	var lastStatus time.Time
	failed := 0
	for i := uint64(0); app.Config.Frames == 0 || r.Frames() < app.Config.Frames; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		frame, err := src.Next(i)
		if err != nil {
			return fmt.Errorf("source %s: %w", src.Name(), err)
		}
		err = r.RenderContext(ctx, frame)
		switch {
		case err == nil:
			failed = 0
		case errors.Is(err, render.ErrCancelled):
			app.publish(r, src, true)
			return nil
		case render.Fatal(err):
			app.publish(r, src, true)
			return err
		default:
			app.dropped++
			if failed++; failed >= maxDropped {
				app.publish(r, src, true)
				return fmt.Errorf("%w: %w", ErrTooManyDropped, err)
			}
		}
		if now := time.Now(); now.Sub(lastStatus) >= statusEvery {
			app.publish(r, src, false)
			lastStatus = now
		}
	}
	app.publish(r, src, true)
	app.log.Info().Uint64("frames", r.Frames()).Msg("frame budget reached")
	return nil
}

func (app *App) publish(r *render.Renderer, src source.Source, final bool) {
	st := r.Status()
	app.Store.UpdateRender(state.RenderInfo{
		Source:  src.Name(),
		Frames:  st.Frames,
		Dropped: app.dropped,
		FPS:     st.FPS,
		State:   st.State,
		Err:     st.LastError,
	})
	if final {
		app.log.Debug().Uint64("frames", st.Frames).Uint64("dropped", app.dropped).Msg("render loop finished")
	}
}

func (app *App) overlayLines(frame uint64) []string {
	snap := app.Store.Snapshot()
	return []string{
		fmt.Sprintf("%s %s", snap.Display.Mode, snap.Display.Backend),
		fmt.Sprintf("frame %d", frame),
		fmt.Sprintf("%.1f fps  %d dropped", snap.Render.FPS, snap.Render.Dropped),
	}
}

func (app *App) closeRenderer(r *render.Renderer) {
	app.Store.SetPhase(state.STOPPING)
	if err := r.Close(); err != nil {
		app.log.Warn().Err(err).Msg("renderer close")
	}
	app.renderer.Store(nil)
}
