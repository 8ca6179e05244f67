package kms

import (
	"context"
	"errors"
)

// ErrNoSwapchain is returned by a SwapchainFactory when the accelerated
// buffer path is not available on this card or build.
var ErrNoSwapchain = errors.New("swapchain unavailable")

// SwapBuffer is one driver-owned buffer of a Swapchain.
type SwapBuffer struct {
	// ID is stable for the buffer's lifetime and keys derived framebuffer ids.
	ID            uint64
	Handle        uint32
	Width, Height uint32
	Pitch         uint32
	// Pixels is CPU-writable between Dequeue and Queue.
	Pixels []byte
}

// Swapchain is a driver-managed rotating pool of scanout buffers. The
// number of buffers is up to the driver.
type Swapchain interface {
	// Format is the fourcc of every buffer.
	Format() uint32
	// Dequeue blocks until a buffer is free to render into.
	Dequeue(ctx context.Context) (*SwapBuffer, error)
	// Queue hands a rendered buffer back to the driver.
	Queue(b *SwapBuffer) error
	// LockFront locks the most recently queued buffer for scanout.
	LockFront() (*SwapBuffer, error)
	// Release returns a buffer to the free pool once it left the screen. A
	// queued buffer that could not be locked is released the same way.
	Release(b *SwapBuffer) error
	Close() error
}

type SwapchainFactory func(card Card, width, height int) (Swapchain, error)
