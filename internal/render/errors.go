package render

import (
	"errors"

	"github.com/rook-computer/scanout/internal/convert"
	"github.com/rook-computer/scanout/internal/kms"
	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/session"
	"github.com/rook-computer/scanout/internal/surface"
)

// Failures reported by New and RenderContext. Startup errors (NoDevice,
// ResourceBusy, AllocationFailure) are fatal; the rest drop one frame.
var (
	ErrNoDevice              = session.ErrNoDevice
	ErrResourceBusy          = session.ErrResourceBusy
	ErrAllocationFailure     = surface.ErrAllocationFailure
	ErrUnsupportedFormat     = pixfmt.ErrUnsupportedFormat
	ErrUnsupportedFormatPair = convert.ErrUnsupportedFormatPair
	ErrPresentRejected       = surface.ErrPresentRejected
	ErrCancelled             = kms.ErrCancelled

	ErrNothingStaged = errors.New("no previous frame to redraw")
	ErrClosed        = errors.New("renderer closed")
)

// Fatal reports whether err ends the session rather than a single frame.
func Fatal(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrNoDevice) || errors.Is(err, ErrResourceBusy) ||
		errors.Is(err, ErrAllocationFailure)
}
