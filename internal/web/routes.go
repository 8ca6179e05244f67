package web

import (
	"context"
	"net/http"
)

const apiV1Prefix = "/api/v1"

type APIV1Handlers struct {
	// StopFunc backs POST /api/v1/stop. It asks the render loop to end; the
	// console is restored before the run returns.
	StopFunc func(ctx context.Context) error
}

type APIV1Config struct {
	Handlers APIV1Handlers
	Deps     APIV1Deps
}

// RegisterAPIV1 mounts status, frame.png and stop under /api/v1/.
func RegisterAPIV1(mux *http.ServeMux, cfg APIV1Config) {
	mux.Handle(apiV1Prefix+"/", http.StripPrefix(apiV1Prefix, apiV1RouterWithDeps(cfg.Handlers, cfg.Deps)))
}

// RegisterViewer serves the frame viewer at "/", read from dir when set.
func RegisterViewer(mux *http.ServeMux, dir string) {
	mux.Handle("/", StaticUIHandler(dir))
}

// NewMux is shared by the renderer's --listen server and the simulator,
// which adds its /sim/ routes on top.
func NewMux(viewerDir string, cfg APIV1Config) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterAPIV1(mux, cfg)
	RegisterViewer(mux, viewerDir)
	return mux
}
