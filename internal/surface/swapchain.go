package surface

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rook-computer/scanout/internal/kms"
	"github.com/rook-computer/scanout/internal/logging"
	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/session"
)

// Swapchain is the backend over a driver-managed buffer queue. The first
// present is a modeset; later presents are page flips.
type Swapchain struct {
	sess  *session.Session
	card  kms.Card
	loop  *kms.EventLoop
	chain kms.Swapchain
	log   zerolog.Logger

	fbs   map[uint64]uint32
	surfs map[uint64]*Surface
	order []*Surface

	back   *kms.SwapBuffer // dequeued, writable
	locked *kms.SwapBuffer // locked for scanout, not yet flipped
	next   *kms.SwapBuffer // flip submitted
	front  *kms.SwapBuffer // on screen

	seq       uint64
	pending   *PresentTicket
	confirmed uint64
	closed    bool
}

var _ Backend = (*Swapchain)(nil)

func NewSwapchain(sess *session.Session, loop *kms.EventLoop, factory kms.SwapchainFactory, logger *zerolog.Logger) (*Swapchain, error) {
	if factory == nil {
		factory = kms.NewGBMSwapchain
	}
	m := sess.Mode()
	chain, err := factory(sess.Card(), m.Width, m.Height)
	if err != nil {
		if errors.Is(err, kms.ErrNoSwapchain) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrAllocationFailure, err)
	}
	s := &Swapchain{
		sess:  sess,
		card:  sess.Card(),
		loop:  loop,
		chain: chain,
		log:   logging.Component(logger, "surface"),
		fbs:   make(map[uint64]uint32),
		surfs: make(map[uint64]*Surface),
	}
	s.log.Info().Str("backend", s.Name()).Msg("swapchain ready")
	return s, nil
}

func (s *Swapchain) Name() string          { return "swapchain" }
func (s *Swapchain) Format() pixfmt.Format { return NativeFormat }

func (s *Swapchain) Front() *Surface {
	if s.front == nil {
		return nil
	}
	return s.surfs[s.front.ID]
}

func (s *Swapchain) Surfaces() []*Surface { return s.order }

// AcquireBackSurface may block in the driver until a buffer is free. A
// buffer still locked from a rejected present is unmapped, so it goes back
// to the chain and the new frame gets a freshly dequeued one.
func (s *Swapchain) AcquireBackSurface(ctx context.Context) (*Surface, error) {
	if s.pending != nil {
		if err := s.WaitPresented(ctx, *s.pending); err != nil {
			return nil, err
		}
	}
	if s.locked != nil {
		if err := s.chain.Release(s.locked); err != nil {
			return nil, fmt.Errorf("release rejected buffer: %w", err)
		}
		s.log.Debug().Uint64("buffer", s.locked.ID).Msg("dropped rejected buffer")
		s.locked = nil
	}
	if s.back == nil {
		b, err := s.chain.Dequeue(ctx)
		if err != nil {
			return nil, err
		}
		s.back = b
	}
	return s.surfaceFor(s.back), nil
}

func (s *Swapchain) surfaceFor(b *kms.SwapBuffer) *Surface {
	surf, ok := s.surfs[b.ID]
	if !ok {
		surf = &Surface{Index: len(s.order)}
		s.surfs[b.ID] = surf
		s.order = append(s.order, surf)
	}
	surf.Width, surf.Height = int(b.Width), int(b.Height)
	surf.Stride = int(b.Pitch)
	surf.Pixels = b.Pixels
	return surf
}

// fbFor returns the framebuffer id of b, creating it on first use.
func (s *Swapchain) fbFor(b *kms.SwapBuffer) (uint32, error) {
	if fb, ok := s.fbs[b.ID]; ok {
		return fb, nil
	}
	fb, err := s.card.AddFB(b.Width, b.Height, s.chain.Format(), b.Handle, b.Pitch)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAllocationFailure, err)
	}
	s.fbs[b.ID] = fb
	s.surfs[b.ID].FB = fb
	return fb, nil
}

// Present queues and locks the back buffer and shows it. After a rejected
// present the same surface can be presented again without restaging.
func (s *Swapchain) Present(surf *Surface) (PresentTicket, error) {
	if s.pending != nil {
		return PresentTicket{}, errors.New("present: previous frame not confirmed")
	}
	if s.locked == nil {
		if s.back == nil || s.surfs[s.back.ID] != surf {
			return PresentTicket{}, ErrNotBackSurface
		}
		b := s.back
		if err := s.chain.Queue(b); err != nil {
			return PresentTicket{}, fmt.Errorf("queue buffer: %w", err)
		}
		s.back = nil
		locked, err := s.chain.LockFront()
		if err != nil {
			if rerr := s.chain.Release(b); rerr != nil {
				s.log.Warn().Err(rerr).Uint64("buffer", b.ID).Msg("release unlocked buffer")
			}
			return PresentTicket{}, fmt.Errorf("lock front buffer: %w", err)
		}
		s.locked = locked
		s.surfaceFor(locked)
	} else if s.surfs[s.locked.ID] != surf {
		return PresentTicket{}, ErrNotBackSurface
	}

	fb, err := s.fbFor(s.locked)
	if err != nil {
		return PresentTicket{}, err
	}
	s.seq++
	t := PresentTicket{Seq: s.seq, Surface: surf}
	if s.front == nil {
		err = s.sess.SetMode(fb)
	} else {
		err = s.card.PageFlip(s.sess.CrtcID(), fb, t.Seq)
	}
	if err != nil {
		if errors.Is(err, kms.ErrBusy) {
			return PresentTicket{}, fmt.Errorf("%w: %v", ErrPresentRejected, err)
		}
		return PresentTicket{}, fmt.Errorf("present fb %d: %w", fb, err)
	}
	s.next = s.locked
	s.locked = nil
	s.pending = &t
	return t, nil
}

func (s *Swapchain) WaitPresented(ctx context.Context, t PresentTicket) error {
	if t.Seq <= s.confirmed {
		return nil
	}
	if s.pending == nil || s.pending.Seq != t.Seq {
		return fmt.Errorf("wait: unknown ticket %d", t.Seq)
	}
	// The first present was a synchronous modeset with no event to wait for.
	if s.front != nil {
		if _, err := s.loop.Wait(ctx, t.Seq); err != nil {
			return err
		}
	}
	if s.front != nil {
		if err := s.chain.Release(s.front); err != nil {
			s.log.Warn().Err(err).Uint64("buffer", s.front.ID).Msg("release front buffer")
		}
	}
	s.front = s.next
	s.next = nil
	s.confirmed = t.Seq
	s.pending = nil
	return nil
}

func (s *Swapchain) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, fb := range s.fbs {
		errs = append(errs, s.card.RmFB(fb))
	}
	errs = append(errs, s.chain.Close())
	if err := errors.Join(errs...); err != nil {
		s.log.Warn().Err(err).Msg("releasing swapchain")
		return err
	}
	return nil
}
