// Package present drives one frame through acquire, stage, submit and
// confirm, and keeps the frame counter.
package present

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rook-computer/scanout/internal/logging"
	"github.com/rook-computer/scanout/internal/surface"
)

type State int32

const (
	Idle State = iota
	Staged
	Submitted
	Presented
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Staged:
		return "staged"
	case Submitted:
		return "submitted"
	case Presented:
		return "presented"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// StageFunc fills the back surface.
type StageFunc func(back *surface.Surface) error

type Scheduler struct {
	backend surface.Backend
	counter *FrameCounter
	log     zerolog.Logger
	state   atomic.Int32
}

func NewScheduler(backend surface.Backend, counter *FrameCounter, logger *zerolog.Logger) *Scheduler {
	log := logging.Component(logger, "present")
	if counter == nil {
		counter = NewFrameCounter(0, log)
	}
	return &Scheduler{backend: backend, counter: counter, log: log}
}

func (s *Scheduler) State() State           { return State(s.state.Load()) }
func (s *Scheduler) Counter() *FrameCounter { return s.counter }

func (s *Scheduler) set(st State) { s.state.Store(int32(st)) }

// Frame stages and presents one frame. A rejected present is retried once
// with the same surface; the counter only advances on a confirmed flip.
func (s *Scheduler) Frame(ctx context.Context, stage StageFunc) error {
	s.set(Idle)
	back, err := s.backend.AcquireBackSurface(ctx)
	if err != nil {
		return err
	}
	if err := stage(back); err != nil {
		return err
	}
	s.set(Staged)

	t, err := s.backend.Present(back)
	if errors.Is(err, surface.ErrPresentRejected) {
		s.log.Debug().Err(err).Int("surface", back.Index).Msg("present rejected, retrying")
		t, err = s.backend.Present(back)
	}
	if err != nil {
		s.set(Idle)
		return err
	}
	s.set(Submitted)

	if err := s.backend.WaitPresented(ctx, t); err != nil {
		s.set(Idle)
		return err
	}
	s.set(Presented)
	s.counter.Frame()
	s.set(Idle)
	return nil
}
