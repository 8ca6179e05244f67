//go:build linux

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rook-computer/scanout/internal/app"
	"github.com/rook-computer/scanout/internal/config"
	"github.com/rook-computer/scanout/internal/kms/kmstest"
	"github.com/rook-computer/scanout/internal/state"
	"github.com/rook-computer/scanout/internal/web"
)

// Scenarios the simulated display can start in.
const (
	ScenarioConnected = "connected"
	ScenarioNoOutput  = "no-output"
	ScenarioBusy      = "busy"
	ScenarioFlakyFlip = "flaky-flip"
)

var errNotRunning = errors.New("renderer not running")

// flakyEvery is how often the flaky-flip scenario rejects a flip and its retry.
const flakyEvery = 500 * time.Millisecond

type SimStatus struct {
	Scenario    string `json:"scenario"`
	Flips       int    `json:"flips"`
	LiveBuffers int    `json:"liveBuffers"`
	Scanout     uint32 `json:"scanoutFb"`
	Canaries    bool   `json:"canariesIntact"`
}

type SimFaults struct {
	RejectFlips    *int `json:"rejectFlips"`
	HoldFlipsAfter *int `json:"holdFlipsAfter"`
	Release        bool `json:"release"`
	Unplug         bool `json:"unplug"`
}

// SimControl runs the renderer against a fake DRM device and swaps the device
// out when the scenario changes.
type SimControl struct {
	processCtx      context.Context
	cfg             config.Config
	width, height   int
	startupScenario string
	currentScenario atomic.Value // string
	logger          *zerolog.Logger

	mu     sync.Mutex
	dev    *kmstest.Device
	holder *kmstest.Card
	app    *app.App
	store  *state.Store
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSimControl(processCtx context.Context, cfg config.Config, width, height int, startupScenario string, logger *zerolog.Logger) *SimControl {
	if processCtx == nil {
		processCtx = context.Background()
	}
	// The simulator serves the API itself and has no console or keyboard.
	cfg.Listen, cfg.TTY, cfg.ExitKey = "", "", ""
	c := &SimControl{
		processCtx:      processCtx,
		cfg:             cfg,
		width:           width,
		height:          height,
		startupScenario: strings.TrimSpace(startupScenario),
		logger:          logger,
		store:           state.NewStore(),
	}
	if c.startupScenario == "" {
		c.startupScenario = ScenarioConnected
	}
	c.currentScenario.Store(c.startupScenario)
	return c
}

func (c *SimControl) Deps() web.APIV1Deps {
	return web.APIV1Deps{Status: simStatus{c}, Frames: simFrames{c}}
}

func (c *SimControl) Scenario() string { return c.currentScenario.Load().(string) }

// ApplyScenario stops the current run, builds a fresh device for name and
// starts rendering on it. A renderer that fails to start is reported through
// the status API, not as an error here.
func (c *SimControl) ApplyScenario(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		name = c.startupScenario
	}
	var dev *kmstest.Device
	switch name {
	case ScenarioConnected, ScenarioBusy, ScenarioFlakyFlip:
		dev = kmstest.NewDevice(kmstest.WithOutput(c.width, c.height, 60))
	case ScenarioNoOutput:
		dev = kmstest.NewDevice(kmstest.WithDisconnectedOutput())
	default:
		return fmt.Errorf("unknown scenario %q", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()

	if name == ScenarioBusy {
		holder, err := dev.Open()
		if err != nil {
			return err
		}
		if err := holder.SetMaster(); err != nil {
			_ = holder.Close()
			return err
		}
		c.holder = holder
	}

	cfg := c.cfg
	store := state.NewStore()
	a := app.New(&cfg, store, c.logger)
	a.Opener = dev.Opener()
	a.Swapchain = kmstest.Factory(3)

	ctx, cancel := context.WithCancel(c.processCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.Start(ctx); err != nil {
			c.log().Warn().Err(err).Str("scenario", name).Msg("renderer stopped")
		}
	}()
	if name == ScenarioFlakyFlip {
		go flake(ctx, dev)
	}

	c.dev, c.app, c.store, c.cancel, c.done = dev, a, store, cancel, done
	c.currentScenario.Store(name)
	return nil
}

func flake(ctx context.Context, dev *kmstest.Device) {
	t := time.NewTicker(flakyEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			dev.RejectFlips(2)
		}
	}
}

func (c *SimControl) Reset() error { return c.ApplyScenario(c.startupScenario) }

// Stop ends the current run and waits for the display to be restored.
func (c *SimControl) Stop(context.Context) error {
	c.mu.Lock()
	a, done := c.app, c.done
	c.mu.Unlock()
	if a == nil {
		return errNotRunning
	}
	a.Exit(nil)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		return errors.New("renderer did not stop")
	}
	return nil
}

// Close stops the current run for good.
func (c *SimControl) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *SimControl) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel, c.done = nil, nil
	}
	if c.holder != nil {
		_ = c.holder.Close()
		c.holder = nil
	}
}

func (c *SimControl) Device() *kmstest.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dev
}

func (c *SimControl) Status() SimStatus {
	c.mu.Lock()
	dev, a := c.dev, c.app
	c.mu.Unlock()
	st := SimStatus{Scenario: c.Scenario()}
	if dev == nil {
		return st
	}
	st.Flips = dev.Flips()
	st.LiveBuffers = dev.LiveBuffers()
	st.Canaries = dev.CanariesIntact()
	if a != nil {
		st.Scanout = dev.Scanout(a.Store.Snapshot().Display.Crtc)
	}
	return st
}

// ApplyFaults pokes the running device.
func (c *SimControl) ApplyFaults(f SimFaults) error {
	dev := c.Device()
	if dev == nil {
		return errNotRunning
	}
	if f.RejectFlips != nil {
		dev.RejectFlips(*f.RejectFlips)
	}
	if f.HoldFlipsAfter != nil {
		dev.HoldFlipsAfter(*f.HoldFlipsAfter)
	}
	if f.Release {
		dev.ReleaseHeld()
	}
	if f.Unplug {
		dev.Unplug()
	}
	return nil
}

func (c *SimControl) log() *zerolog.Logger {
	if c.logger == nil {
		l := zerolog.Nop()
		return &l
	}
	return c.logger
}

type simStatus struct{ c *SimControl }

func (s simStatus) Snapshot() state.State {
	s.c.mu.Lock()
	store := s.c.store
	s.c.mu.Unlock()
	return store.Snapshot()
}

type simFrames struct{ c *SimControl }

func (f simFrames) Snapshot() (*image.RGBA, error) {
	f.c.mu.Lock()
	a := f.c.app
	f.c.mu.Unlock()
	if a == nil {
		return nil, errNotRunning
	}
	r := a.Renderer()
	if r == nil {
		return nil, errNotRunning
	}
	return r.Snapshot()
}

func registerSimEndpoints(mux *http.ServeMux, control *SimControl) {
	mux.HandleFunc("/sim/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeSimError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := control.Reset(); err != nil {
			writeSimError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeSimJSON(w, http.StatusOK, map[string]any{"ok": true, "scenario": control.Scenario()})
	})

	mux.HandleFunc("/sim/scenario/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeSimError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/sim/scenario/"), "/")
		if err := control.ApplyScenario(name); err != nil {
			writeSimError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeSimJSON(w, http.StatusOK, map[string]any{"ok": true, "scenario": control.Scenario()})
	})

	mux.HandleFunc("/sim/device", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeSimError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeSimJSON(w, http.StatusOK, control.Status())
	})

	mux.HandleFunc("/sim/faults", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeSimError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var f SimFaults
		if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
			writeSimError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if err := control.ApplyFaults(f); err != nil {
			writeSimError(w, http.StatusConflict, err.Error())
			return
		}
		writeSimJSON(w, http.StatusOK, control.Status())
	})
}

func writeSimJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSimError(w http.ResponseWriter, status int, message string) {
	writeSimJSON(w, status, map[string]any{"error": message})
}
