// Package accel models accelerator memory: device-resident frames, host
// memory registration (pinning) and the channel-expanding copy kernel used to
// move a frame into a pinned scanout buffer.
package accel

import (
	"errors"

	"github.com/rook-computer/scanout/internal/pixfmt"
)

var (
	ErrNotRegistered = errors.New("host memory not registered")
	ErrForeignBuffer = errors.New("buffer belongs to another accelerator")
	ErrClosed        = errors.New("accelerator closed")
)

// DevicePtr is an accelerator-visible address of registered host memory.
type DevicePtr uintptr

// Accelerator is the subset of an accelerator driver the staging pipeline uses.
type Accelerator interface {
	Name() string
	// Register pins host memory and returns its device address.
	Register(host []byte) (DevicePtr, error)
	Unregister(ptr DevicePtr) error
	// Transfer writes src into registered memory at dst as RGBA8 rows of
	// dstStride bytes, clipped to dstWidth x dstHeight. RGB8 sources get an
	// alpha of 0xFF.
	Transfer(dst DevicePtr, dstWidth, dstHeight, dstStride int, src *Buffer) error
	// Alloc creates a device-resident frame.
	Alloc(format pixfmt.Format, width, height int) (*Buffer, error)
	Close() error
}

// Buffer is a frame resident in accelerator memory. Only RGB8 and RGBA8
// layouts are supported by Transfer.
type Buffer struct {
	owner  Accelerator
	format pixfmt.Format
	width  int
	height int
	stride int
	data   []byte
}

func (b *Buffer) Format() pixfmt.Format { return b.format }
func (b *Buffer) Size() (int, int)      { return b.width, b.height }
func (b *Buffer) Stride() int           { return b.stride }

// Owner is the accelerator the buffer was allocated on.
func (b *Buffer) Owner() Accelerator { return b.owner }

// Upload copies tightly packed host pixels into the buffer.
func (b *Buffer) Upload(src []byte) error {
	if err := b.checkLen(src); err != nil {
		return err
	}
	copy(b.data, src)
	return nil
}

// Download copies the buffer into tightly packed host memory.
func (b *Buffer) Download(dst []byte) error {
	if err := b.checkLen(dst); err != nil {
		return err
	}
	copy(dst, b.data)
	return nil
}

func (b *Buffer) checkLen(p []byte) error {
	if len(p) < len(b.data) {
		return errors.New("accel: host slice shorter than buffer")
	}
	return nil
}
