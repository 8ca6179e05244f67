// Package source produces host frames for the render loop.
package source

import (
	"fmt"
	"strings"

	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/staging"
)

type Source interface {
	Name() string
	// Next returns the frame with the given index. A later call never
	// changes data handed out before; callers must not write to it.
	Next(frame uint64) (staging.HostFrame, error)
}

type Config struct {
	// Kind is "pattern" or "still".
	Kind   string
	Path   string
	Width  int
	Height int
	Format pixfmt.Format
}

func New(cfg Config) (Source, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("source size %dx%d", cfg.Width, cfg.Height)
	}
	switch strings.ToLower(cfg.Kind) {
	case "", "pattern":
		return NewPattern(cfg.Width, cfg.Height, cfg.Format)
	case "still", "image":
		if cfg.Path == "" {
			return nil, fmt.Errorf("still source needs a path")
		}
		return LoadStill(cfg.Path, cfg.Width, cfg.Height)
	}
	return nil, fmt.Errorf("unknown source %q (want pattern or still)", cfg.Kind)
}
