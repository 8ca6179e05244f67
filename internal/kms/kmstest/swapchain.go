//go:build linux

package kmstest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rook-computer/scanout/internal/kms"
)

// Swapchain is a kms.Swapchain over dumb buffers of a Card, standing in for
// a GBM surface. Like a GBM buffer object, a buffer is only mapped between
// Dequeue and Queue.
type Swapchain struct {
	card *Card

	mu     sync.Mutex
	bufs   []*kms.SwapBuffer
	maps   map[uint64][]byte
	free   chan *kms.SwapBuffer
	queued []*kms.SwapBuffer
	locked map[uint64]bool
	closed bool
}

var _ kms.Swapchain = (*Swapchain)(nil)

// NewSwapchain allocates n buffers of w x h.
func NewSwapchain(card *Card, w, h, n int) (*Swapchain, error) {
	s := &Swapchain{
		card:   card,
		maps:   make(map[uint64][]byte),
		free:   make(chan *kms.SwapBuffer, n),
		locked: make(map[uint64]bool),
	}
	for i := 0; i < n; i++ {
		db, err := card.CreateDumb(uint32(w), uint32(h), 32)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		pix, err := card.MapDumb(db)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		b := &kms.SwapBuffer{
			ID: uint64(i + 1), Handle: db.Handle,
			Width: db.Width, Height: db.Height, Pitch: db.Pitch,
		}
		s.maps[b.ID] = pix
		s.bufs = append(s.bufs, b)
		s.free <- b
	}
	return s, nil
}

// Factory returns a kms.SwapchainFactory producing n-buffer swapchains. It
// accepts only Cards from this package.
func Factory(n int) kms.SwapchainFactory {
	return func(card kms.Card, w, h int) (kms.Swapchain, error) {
		c, ok := card.(*Card)
		if !ok {
			return nil, fmt.Errorf("%w: not a kmstest card", kms.ErrNoSwapchain)
		}
		return NewSwapchain(c, w, h, n)
	}
}

func (s *Swapchain) Format() uint32 { return kms.FormatXBGR8888 }

func (s *Swapchain) Dequeue(ctx context.Context) (*kms.SwapBuffer, error) {
	select {
	case b, ok := <-s.free:
		if !ok {
			return nil, errors.New("swapchain closed")
		}
		s.mu.Lock()
		b.Pixels = s.maps[b.ID]
		s.mu.Unlock()
		return b, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", kms.ErrCancelled, ctx.Err())
	}
}

func (s *Swapchain) Queue(b *kms.SwapBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.Pixels = nil
	s.queued = append(s.queued, b)
	return nil
}

func (s *Swapchain) LockFront() (*kms.SwapBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) == 0 {
		return nil, errors.New("lock front: nothing queued")
	}
	b := s.queued[len(s.queued)-1]
	// Older queued buffers were superseded without being shown.
	for _, old := range s.queued[:len(s.queued)-1] {
		s.free <- old
	}
	s.queued = s.queued[:0]
	s.locked[b.ID] = true
	return b, nil
}

func (s *Swapchain) Release(b *kms.SwapBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked[b.ID] && !s.unqueue(b) {
		return fmt.Errorf("release: buffer %d not locked", b.ID)
	}
	delete(s.locked, b.ID)
	if !s.closed {
		s.free <- b
	}
	return nil
}

func (s *Swapchain) unqueue(b *kms.SwapBuffer) bool {
	for i, q := range s.queued {
		if q.ID == b.ID {
			s.queued = append(s.queued[:i], s.queued[i+1:]...)
			return true
		}
	}
	return false
}

// Free is the number of buffers ready to dequeue.
func (s *Swapchain) Free() int { return len(s.free) }

// Locked is the number of buffers currently held for scanout.
func (s *Swapchain) Locked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locked)
}

func (s *Swapchain) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.free)
	var errs []error
	for _, b := range s.bufs {
		errs = append(errs, s.card.DestroyDumb(b.Handle))
	}
	return errors.Join(errs...)
}
