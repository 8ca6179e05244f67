// Package surface holds the scanout buffer backends. A Backend hands out the
// writable back surface, submits it for display and confirms the flip.
package surface

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rook-computer/scanout/internal/accel"
	"github.com/rook-computer/scanout/internal/pixfmt"
)

var (
	ErrAllocationFailure = errors.New("scanout buffer allocation failed")
	ErrPresentRejected   = errors.New("present rejected")
	ErrUnavailable       = errors.New("backend unavailable")
	ErrNotBackSurface    = errors.New("surface is not the back surface")
)

// NativeFormat is the layout of every scanout surface: DRM XBGR8888, bytes
// R, G, B, X in memory. The X byte is written as 0xFF.
const NativeFormat = pixfmt.RGBA8

// PinState records whether a surface's memory is registered with the
// accelerator.
type PinState struct {
	Pinned bool
	Device accel.DevicePtr
}

// Surface is one scanout buffer as seen by the caller.
type Surface struct {
	Index  int
	FB     uint32
	Width  int
	Height int
	Stride int
	// Pixels is CPU-writable while the surface is the back surface.
	Pixels []byte
	// Pin is nil for surfaces that cannot be registered with an accelerator.
	Pin *PinState
}

// PresentTicket identifies one submitted present.
type PresentTicket struct {
	Seq     uint64
	Surface *Surface
}

type Backend interface {
	Name() string
	Format() pixfmt.Format
	// AcquireBackSurface returns the surface that may be written. It settles
	// any present whose confirmation was interrupted.
	AcquireBackSurface(ctx context.Context) (*Surface, error)
	// Present submits s for display without waiting for the flip.
	Present(s *Surface) (PresentTicket, error)
	// WaitPresented blocks until t is on screen, then rotates buffers.
	WaitPresented(ctx context.Context, t PresentTicket) error
	// Front is the surface currently on screen, nil before the first present.
	Front() *Surface
	Surfaces() []*Surface
	Close() error
}

type PresentMode int

const (
	// PresentPageFlip queues a vsync'd flip and waits for its event.
	PresentPageFlip PresentMode = iota
	// PresentModeSet rebinds the CRTC synchronously on every frame.
	PresentModeSet
)

func (m PresentMode) String() string {
	switch m {
	case PresentPageFlip:
		return "pageflip"
	case PresentModeSet:
		return "modeset"
	}
	return fmt.Sprintf("PresentMode(%d)", int(m))
}

func ParsePresentMode(s string) (PresentMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pageflip", "flip":
		return PresentPageFlip, nil
	case "modeset", "setcrtc":
		return PresentModeSet, nil
	}
	return 0, fmt.Errorf("unknown present mode %q (want pageflip or modeset)", s)
}
