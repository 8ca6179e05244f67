// Package kms is the kernel mode-setting boundary: the Card interface covers
// every DRM request the renderer issues, and EventLoop waits for page-flip
// completions on the card's event descriptor.
package kms

import (
	"errors"

	"github.com/NeowayLabs/drm/mode"
)

var (
	// ErrBusy reports EBUSY-class refusals: another DRM master, or a flip
	// already queued on the CRTC.
	ErrBusy = errors.New("device busy")
	// ErrNoCard is returned when no DRM device node can be opened.
	ErrNoCard = errors.New("no drm device")
	// ErrCancelled is returned by a wait that was woken or whose device went away.
	ErrCancelled = errors.New("cancelled")
)

// FourCC pixel formats accepted by AddFB.
const (
	FormatXRGB8888 uint32 = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatXBGR8888 uint32 = 'X' | 'B'<<8 | '2'<<16 | '4'<<24
)

// ModeTypePreferred marks the driver's preferred mode in mode.Info.Type.
const ModeTypePreferred = 1 << 3

type Connector struct {
	ID        uint32
	Connected bool
	EncoderID uint32
	Encoders  []uint32
	// Modes holds only valid (non-zero) modes.
	Modes []mode.Info
}

type Encoder struct {
	ID            uint32
	CrtcID        uint32
	PossibleCrtcs uint32
}

type Resources struct {
	Crtcs      []uint32
	Connectors []uint32
}

type DumbBuffer struct {
	Handle        uint32
	Width, Height uint32
	Pitch         uint32
	Size          uint64
}

// Card is an open DRM device.
type Card interface {
	Name() string
	// Fd is pollable for readability when DRM events are queued.
	Fd() int

	SetMaster() error
	DropMaster() error

	Resources() (*Resources, error)
	Connector(id uint32) (*Connector, error)
	Encoder(id uint32) (*Encoder, error)

	GetCrtc(id uint32) (*mode.Crtc, error)
	// SetCrtc binds fbID to crtcID; a nil mode disables the CRTC.
	SetCrtc(crtcID, fbID, x, y, connectorID uint32, m *mode.Info) error
	// PageFlip queues an asynchronous flip; completion is reported as a flip
	// event carrying userData.
	PageFlip(crtcID, fbID uint32, userData uint64) error

	HasDumbBuffer() bool
	CreateDumb(width, height, bpp uint32) (*DumbBuffer, error)
	MapDumb(b *DumbBuffer) ([]byte, error)
	UnmapDumb(data []byte) error
	DestroyDumb(handle uint32) error

	AddFB(width, height, fourcc, handle, pitch uint32) (uint32, error)
	RmFB(id uint32) error

	// ReadEvents reads raw DRM events; it may return 0, nil when none are queued.
	ReadEvents(buf []byte) (int, error)
	Close() error
}

// Opener opens a card from a device hint.
type Opener func(hint string) (Card, error)

// ValidModes drops zeroed entries some drivers report for disconnected outputs.
func ValidModes(modes []mode.Info) []mode.Info {
	out := modes[:0:0]
	for _, m := range modes {
		if m.Hdisplay != 0 && m.Vdisplay != 0 {
			out = append(out, m)
		}
	}
	return out
}

// ModeName returns the NUL-terminated mode name as a string.
func ModeName(m mode.Info) string {
	n := 0
	for n < len(m.Name) && m.Name[n] != 0 {
		n++
	}
	return string(m.Name[:n])
}
