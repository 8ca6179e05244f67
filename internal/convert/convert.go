// Package convert implements the colour-space conversion collaborator used by
// the staging pipeline. Conversions are dispatched on the (input, output)
// format pair; pairs without a registered kernel fail with
// ErrUnsupportedFormatPair.
package convert

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rook-computer/scanout/internal/pixfmt"
)

var (
	ErrUnsupportedFormatPair = errors.New("unsupported format pair")
	ErrShortBuffer           = errors.New("buffer too small for frame")
)

// Kernel converts a tightly packed width x height frame from src into dst.
// Buffer sizes are validated by the Converter before a kernel is called.
type Kernel func(src, dst []byte, width, height int) error

type Pair struct {
	In, Out pixfmt.Format
}

func (p Pair) String() string { return p.In.String() + "->" + p.Out.String() }

type Converter struct {
	mu      sync.RWMutex
	kernels map[Pair]Kernel
}

// New returns a Converter with every built-in kernel registered.
func New() *Converter {
	c := &Converter{kernels: make(map[Pair]Kernel)}
	registerYUV(c)
	registerRGB(c)
	return c
}

// Register adds or replaces the kernel for a format pair.
func (c *Converter) Register(in, out pixfmt.Format, k Kernel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kernels[Pair{In: in, Out: out}] = k
}

func (c *Converter) Supports(in, out pixfmt.Format) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.kernels[Pair{In: in, Out: out}]
	return ok
}

// Pairs returns the registered pairs sorted by input then output format.
func (c *Converter) Pairs() []Pair {
	c.mu.RLock()
	out := make([]Pair, 0, len(c.kernels))
	for p := range c.kernels {
		out = append(out, p)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].In != out[j].In {
			return out[i].In < out[j].In
		}
		return out[i].Out < out[j].Out
	})
	return out
}

// Convert runs the kernel registered for (in, out).
func (c *Converter) Convert(src []byte, in pixfmt.Format, dst []byte, out pixfmt.Format, width, height int) error {
	c.mu.RLock()
	k, ok := c.kernels[Pair{In: in, Out: out}]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrUnsupportedFormatPair, in, out)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("convert %s -> %s: invalid size %dx%d", in, out, width, height)
	}
	if need := pixfmt.FrameSize(in, width, height); len(src) < need {
		return fmt.Errorf("%w: source %s %dx%d needs %d bytes, got %d", ErrShortBuffer, in, width, height, need, len(src))
	}
	if need := pixfmt.FrameSize(out, width, height); len(dst) < need {
		return fmt.Errorf("%w: destination %s %dx%d needs %d bytes, got %d", ErrShortBuffer, out, width, height, need, len(dst))
	}
	return k(src, dst, width, height)
}

// rows splits [0, height) into bands and runs fn on each band concurrently.
func rows(height int, fn func(y0, y1 int)) error {
	bands := runtime.GOMAXPROCS(0)
	if bands > height {
		bands = height
	}
	if bands <= 1 {
		fn(0, height)
		return nil
	}
	step := (height + bands - 1) / bands
	var g errgroup.Group
	for y := 0; y < height; y += step {
		y0, y1 := y, min(y+step, height)
		g.Go(func() error {
			fn(y0, y1)
			return nil
		})
	}
	return g.Wait()
}
