package web

import (
	"errors"
	"image"

	"github.com/rook-computer/scanout/internal/state"
)

// StatusSource is the render status read by the API, normally a *state.Store.
type StatusSource interface {
	Snapshot() state.State
}

// FrameSource returns a copy of the image on screen, normally the renderer.
type FrameSource interface {
	Snapshot() (*image.RGBA, error)
}

type APIV1Deps struct {
	Status StatusSource
	Frames FrameSource
}

func (d APIV1Deps) withDefaults() APIV1Deps {
	out := d
	if out.Status == nil {
		out.Status = state.NewStore()
	}
	if out.Frames == nil {
		out.Frames = NoopFrameSource{Err: errors.New("frame capture not configured")}
	}
	return out
}

type NoopFrameSource struct{ Err error }

func (s NoopFrameSource) Snapshot() (*image.RGBA, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return nil, errors.New("frame capture not configured")
}
