package surface

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rook-computer/scanout/internal/kms"
	"github.com/rook-computer/scanout/internal/logging"
	"github.com/rook-computer/scanout/internal/session"
)

type Kind int

const (
	BackendAuto Kind = iota
	BackendSwapchain
	BackendDumb
)

func (k Kind) String() string {
	switch k {
	case BackendAuto:
		return "auto"
	case BackendSwapchain:
		return "swapchain"
	case BackendDumb:
		return "dumb"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return BackendAuto, nil
	case "swapchain", "gbm":
		return BackendSwapchain, nil
	case "dumb":
		return BackendDumb, nil
	}
	return 0, fmt.Errorf("unknown backend %q (want auto, swapchain or dumb)", s)
}

type Options struct {
	Kind        Kind
	PresentMode PresentMode
	// Swapchain defaults to kms.NewGBMSwapchain.
	Swapchain kms.SwapchainFactory
	Logger    *zerolog.Logger
}

// Select builds the backend once at startup. Auto prefers the swapchain and
// falls back to dumb buffers when it is unavailable.
func Select(sess *session.Session, loop *kms.EventLoop, opts Options) (Backend, error) {
	switch opts.Kind {
	case BackendSwapchain:
		return NewSwapchain(sess, loop, opts.Swapchain, opts.Logger)
	case BackendDumb:
		return NewDumb(sess, loop, DumbConfig{Mode: opts.PresentMode, Logger: opts.Logger})
	}

	sc, err := NewSwapchain(sess, loop, opts.Swapchain, opts.Logger)
	if err == nil {
		return sc, nil
	}
	if !errors.Is(err, ErrUnavailable) {
		return nil, err
	}
	log := logging.Component(opts.Logger, "surface")
	log.Info().Err(err).Msg("swapchain unavailable, using dumb buffers")
	return NewDumb(sess, loop, DumbConfig{Mode: opts.PresentMode, Logger: opts.Logger})
}
