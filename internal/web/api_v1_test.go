package web

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rook-computer/scanout/internal/state"
)

type fakeFrames struct {
	img *image.RGBA
	err error
}

func (f fakeFrames) Snapshot() (*image.RGBA, error) { return f.img, f.err }

func newMux(deps APIV1Deps, stop func(context.Context) error) *http.ServeMux {
	return NewMux("", APIV1Config{Handlers: APIV1Handlers{StopFunc: stop}, Deps: deps})
}

func TestStatus(t *testing.T) {
	store := state.NewStore()
	store.SetPhase(state.RENDERING)
	store.UpdateDisplay(state.DisplayInfo{Mode: "640x480@60", Backend: "dumb", Crtc: 10})
	store.UpdateRender(state.RenderInfo{Frames: 12, FPS: 59.9, Err: "present rejected"})

	rec := httptest.NewRecorder()
	newMux(APIV1Deps{Status: store}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rendering", resp.Phase)
	assert.Equal(t, "640x480@60", resp.Display.Mode)
	assert.Equal(t, uint32(10), resp.Display.Crtc)
	assert.Equal(t, uint64(12), resp.Render.Frames)
	assert.Equal(t, "present rejected", resp.Render.Error)

	rec = httptest.NewRecorder()
	newMux(APIV1Deps{Status: store}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestFramePNG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.SetRGBA(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	rec := httptest.NewRecorder()
	newMux(APIV1Deps{Frames: fakeFrames{img: img}}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/frame.png", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	got, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), got.Bounds())
	r, g, b, _ := got.At(1, 1).RGBA()
	assert.Equal(t, []uint32{10, 20, 30}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestFrameUnavailable(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(APIV1Deps{Frames: fakeFrames{err: errors.New("renderer closed")}}, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/frame.png", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "renderer closed")

	rec = httptest.NewRecorder()
	newMux(APIV1Deps{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/frame.png", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStop(t *testing.T) {
	stopped := 0
	stop := func(context.Context) error { stopped++; return nil }

	rec := httptest.NewRecorder()
	newMux(APIV1Deps{}, stop).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, stopped)

	rec = httptest.NewRecorder()
	newMux(APIV1Deps{}, stop).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stop", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	newMux(APIV1Deps{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestEmbeddedViewer(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(APIV1Deps{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "api/v1/frame.png")
}

func TestDevCORS(t *testing.T) {
	h := WithDevCORS(newMux(APIV1Deps{}, nil))
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHTTPServerLifecycle(t *testing.T) {
	s := NewHTTPServer(ServerConfig{ListenAddr: "127.0.0.1:0"})
	s.Handler = newMux(APIV1Deps{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	addr := s.ListenAddr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/api/v1/status")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
	assert.Error(t, s.Start(ctx))
}

func TestServerConfigFromEnv(t *testing.T) {
	t.Setenv(EnvListenAddr, "")
	t.Setenv(EnvDevMode, "")
	t.Setenv(EnvStaticDir, "")
	cfg, err := ServerConfigFromEnv(":8080")
	require.NoError(t, err)
	assert.Equal(t, ServerConfig{ListenAddr: ":8080"}, cfg)

	t.Setenv(EnvListenAddr, ":9999")
	t.Setenv(EnvDevMode, "true")
	t.Setenv(EnvStaticDir, "/srv/viewer")
	cfg, err = ServerConfigFromEnv(":8080")
	require.NoError(t, err)
	assert.Equal(t, ServerConfig{ListenAddr: ":9999", DevMode: true, StaticDir: "/srv/viewer"}, cfg)
	assert.Equal(t, "/srv/viewer", NewHTTPServer(cfg).StaticDir)

	t.Setenv(EnvDevMode, "maybe")
	_, err = ServerConfigFromEnv(":8080")
	assert.ErrorContains(t, err, EnvDevMode)
}

func TestNoopServer(t *testing.T) {
	var s Server = NoopServer{}
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.ListenAddr())
	assert.NoError(t, s.Stop())
}

func TestDevCORSPassesThroughWithoutOrigin(t *testing.T) {
	h := WithDevCORS(newMux(APIV1Deps{Status: state.NewStore()}, nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	WithDevCORS(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
