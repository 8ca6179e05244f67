//go:build !linux

package kms

import (
	"context"
	"errors"
)

var errUnsupported = errors.New("kms: only supported on linux")

func OpenDevice(hint string) (Card, error) { return nil, errUnsupported }

type EventLoop struct{}

func NewEventLoop(card Card) (*EventLoop, error) { return nil, errUnsupported }

func (l *EventLoop) Wake() {}

func (l *EventLoop) Poll(seq uint64) (FlipEvent, bool, error) {
	return FlipEvent{}, false, errUnsupported
}

func (l *EventLoop) Wait(ctx context.Context, seq uint64) (FlipEvent, error) {
	return FlipEvent{}, errUnsupported
}

func (l *EventLoop) Forget(seq uint64) {}

func (l *EventLoop) Close() error { return nil }
