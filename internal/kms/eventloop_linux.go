//go:build linux

package kms

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// EventLoop waits for flip completions on a card. Besides the card fd the
// poll set holds only an eventfd, so a wait can be aborted by Wake without a
// timeout.
type EventLoop struct {
	card Card
	wake int
	buf  []byte
	done map[uint64]FlipEvent
}

func NewEventLoop(card Card) (*EventLoop, error) {
	wake, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	return &EventLoop{card: card, wake: wake, buf: make([]byte, 4096), done: make(map[uint64]FlipEvent)}, nil
}

// Wake aborts the current or next Wait. Safe to call from any goroutine.
func (l *EventLoop) Wake() {
	var one [8]byte
	one[0] = 1
	_, _ = unix.Write(l.wake, one[:])
}

// Poll reports, without blocking, whether the flip tagged seq has completed.
func (l *EventLoop) Poll(seq uint64) (FlipEvent, bool, error) {
	if ev, ok := l.take(seq); ok {
		return ev, true, nil
	}
	fds := []unix.PollFd{{Fd: int32(l.card.Fd()), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil && !errors.Is(err, unix.EINTR) {
		return FlipEvent{}, false, fmt.Errorf("poll: %w", err)
	}
	if n > 0 && fds[0].Revents&unix.POLLIN != 0 {
		if err := l.drainCard(); err != nil {
			return FlipEvent{}, false, err
		}
	}
	ev, ok := l.take(seq)
	return ev, ok, nil
}

// Wait blocks until the flip tagged seq completes. It returns ErrCancelled
// when woken, when ctx ends, or when the device hangs up.
func (l *EventLoop) Wait(ctx context.Context, seq uint64) (FlipEvent, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	woke := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		l.Wake()
		close(woke)
	})
	defer func() {
		// A context wake that lost the race must not abort the next Wait.
		if !stop() {
			<-woke
			l.clearWake()
		}
	}()

	for {
		if ev, ok := l.take(seq); ok {
			return ev, nil
		}
		fds := []unix.PollFd{
			{Fd: int32(l.card.Fd()), Events: unix.POLLIN},
			{Fd: int32(l.wake), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return FlipEvent{}, fmt.Errorf("poll: %w", err)
		}
		if fds[1].Revents&unix.POLLIN != 0 {
			l.clearWake()
			if err := ctx.Err(); err != nil {
				return FlipEvent{}, fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			return FlipEvent{}, ErrCancelled
		}
		if fds[0].Revents&unix.POLLIN != 0 {
			if err := l.drainCard(); err != nil {
				return FlipEvent{}, err
			}
			if ev, ok := l.take(seq); ok {
				return ev, nil
			}
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return FlipEvent{}, fmt.Errorf("%w: device hung up", ErrCancelled)
		}
	}
}

// Forget drops a remembered completion that nobody will wait for.
func (l *EventLoop) Forget(seq uint64) { delete(l.done, seq) }

func (l *EventLoop) Close() error { return unix.Close(l.wake) }

func (l *EventLoop) take(seq uint64) (FlipEvent, bool) {
	ev, ok := l.done[seq]
	if ok {
		delete(l.done, seq)
	}
	return ev, ok
}

func (l *EventLoop) drainCard() error {
	n, err := l.card.ReadEvents(l.buf)
	if err != nil {
		return fmt.Errorf("read drm events: %w", err)
	}
	events, err := ParseEvents(l.buf[:n])
	for _, ev := range events {
		l.done[ev.UserData] = ev
	}
	return err
}

func (l *EventLoop) clearWake() {
	var b [8]byte
	_, _ = unix.Read(l.wake, b[:])
}
