package web

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"strconv"
	"time"
)

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type displayResponse struct {
	Device    string `json:"device,omitempty"`
	Connector uint32 `json:"connector"`
	Crtc      uint32 `json:"crtc"`
	Mode      string `json:"mode"`
	Backend   string `json:"backend"`
	Present   string `json:"present"`
}

type renderResponse struct {
	Source  string    `json:"source"`
	Frames  uint64    `json:"frames"`
	Dropped uint64    `json:"dropped"`
	FPS     float64   `json:"fps"`
	State   string    `json:"state"`
	Error   string    `json:"error,omitempty"`
	Updated time.Time `json:"updated"`
}

type statusResponse struct {
	Phase         string          `json:"phase"`
	UptimeSeconds float64         `json:"uptimeSeconds"`
	Display       displayResponse `json:"display"`
	Render        renderResponse  `json:"render"`
}

func apiV1RouterWithDeps(handlers APIV1Handlers, deps APIV1Deps) http.Handler {
	deps = deps.withDefaults()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) { handleStatus(w, r, deps) })
	mux.HandleFunc("/frame.png", func(w http.ResponseWriter, r *http.Request) { handleFrame(w, r, deps) })
	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) { handleStop(w, r, handlers.StopFunc) })
	return mux
}

func handleStatus(w http.ResponseWriter, r *http.Request, deps APIV1Deps) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	snap := deps.Status.Snapshot()
	resp := statusResponse{
		Phase:         snap.Phase.String(),
		UptimeSeconds: time.Since(snap.Started).Seconds(),
		Display: displayResponse{
			Device:    snap.Display.Device,
			Connector: snap.Display.Connector,
			Crtc:      snap.Display.Crtc,
			Mode:      snap.Display.Mode,
			Backend:   snap.Display.Backend,
			Present:   snap.Display.Present,
		},
		Render: renderResponse{
			Source:  snap.Render.Source,
			Frames:  snap.Render.Frames,
			Dropped: snap.Render.Dropped,
			FPS:     snap.Render.FPS,
			State:   snap.Render.State,
			Error:   snap.Render.Err,
			Updated: snap.Render.Updated,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleFrame(w http.ResponseWriter, r *http.Request, deps APIV1Deps) {
	if r.Method != http.MethodGet {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	img, err := deps.Frames.Snapshot()
	if err != nil {
		writeAPIError(w, http.StatusServiceUnavailable, "no_frame", err.Error())
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func handleStop(w http.ResponseWriter, r *http.Request, stopFunc func(ctx context.Context) error) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if stopFunc == nil {
		writeAPIError(w, http.StatusNotImplemented, "not_implemented", "stop not configured")
		return
	}
	if err := stopFunc(r.Context()); err != nil {
		writeAPIError(w, http.StatusInternalServerError, "stop_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, okResponse{OK: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiError{Error: code, Message: message})
}
