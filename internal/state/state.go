// Package state is the shared snapshot of what the render loop is doing, read
// by the status API and the overlay.
package state

import (
	"sync"
	"time"
)

type Phase int

const (
	BOOTING Phase = iota
	RENDERING
	STOPPING
	DONE
	ERROR
	CANCELLED
)

func (p Phase) String() string {
	switch p {
	case BOOTING:
		return "booting"
	case RENDERING:
		return "rendering"
	case STOPPING:
		return "stopping"
	case DONE:
		return "done"
	case ERROR:
		return "error"
	case CANCELLED:
		return "cancelled"
	}
	return "unknown"
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

type DisplayInfo struct {
	Device    string
	Connector uint32
	Crtc      uint32
	Mode      string
	Backend   string
	Present   string
}

type RenderInfo struct {
	Source  string
	Frames  uint64
	Dropped uint64
	FPS     float64
	State   string
	Err     string
	Updated time.Time
}

type State struct {
	Phase   Phase
	Started time.Time
	Display DisplayInfo
	Render  RenderInfo
}

type Store struct {
	mu    sync.RWMutex
	state State
}

func NewStore() *Store {
	return &Store{state: State{Phase: BOOTING, Started: time.Now()}}
}

func (store *Store) Snapshot() State {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.state
}

func (store *Store) SetPhase(phase Phase) {
	store.mu.Lock()
	store.state.Phase = phase
	store.mu.Unlock()
}

func (store *Store) UpdateDisplay(display DisplayInfo) {
	store.mu.Lock()
	store.state.Display = display
	store.mu.Unlock()
}

func (store *Store) UpdateRender(render RenderInfo) {
	store.mu.Lock()
	if render.Updated.IsZero() {
		render.Updated = time.Now()
	}
	store.state.Render = render
	store.mu.Unlock()
}

// Fail records err and moves to ERROR, unless the store already reached a
// terminal phase.
func (store *Store) Fail(err error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.state.Phase == DONE || store.state.Phase == CANCELLED {
		return
	}
	store.state.Phase = ERROR
	if err != nil {
		store.state.Render.Err = err.Error()
	}
}
