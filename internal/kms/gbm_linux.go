//go:build linux && cgo && gbm

package kms

/*
#cgo pkg-config: gbm
#include <stdlib.h>
#include <gbm.h>
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

const gbmBuffers = 3

type gbmBuffer struct {
	SwapBuffer
	bo      *C.struct_gbm_bo
	mapData unsafe.Pointer
}

type gbmSwapchain struct {
	dev *C.struct_gbm_device

	mu     sync.Mutex
	bufs   []*gbmBuffer
	free   chan *gbmBuffer
	queued *gbmBuffer
	closed bool
}

// NewGBMSwapchain allocates linear scanout buffer objects through libgbm.
func NewGBMSwapchain(card Card, width, height int) (Swapchain, error) {
	dev := C.gbm_create_device(C.int(card.Fd()))
	if dev == nil {
		return nil, fmt.Errorf("%w: gbm_create_device failed", ErrNoSwapchain)
	}
	s := &gbmSwapchain{dev: dev, free: make(chan *gbmBuffer, gbmBuffers)}
	if C.gbm_device_is_format_supported(dev, C.GBM_FORMAT_XBGR8888, C.GBM_BO_USE_SCANOUT|C.GBM_BO_USE_LINEAR) == 0 {
		_ = s.Close()
		return nil, fmt.Errorf("%w: XBGR8888 scanout not supported", ErrNoSwapchain)
	}
	for i := 0; i < gbmBuffers; i++ {
		bo := C.gbm_bo_create(dev, C.uint32_t(width), C.uint32_t(height), C.GBM_FORMAT_XBGR8888,
			C.GBM_BO_USE_SCANOUT|C.GBM_BO_USE_LINEAR)
		if bo == nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: gbm_bo_create %dx%d", ErrNoSwapchain, width, height)
		}
		b := &gbmBuffer{bo: bo}
		b.ID = uint64(i + 1)
		b.Handle = uint32(C.gbm_bo_get_handle(bo).u32)
		b.Width, b.Height = uint32(width), uint32(height)
		b.Pitch = uint32(C.gbm_bo_get_stride(bo))
		s.bufs = append(s.bufs, b)
		s.free <- b
	}
	return s, nil
}

func (s *gbmSwapchain) Format() uint32 { return FormatXBGR8888 }

func (s *gbmSwapchain) Dequeue(ctx context.Context) (*SwapBuffer, error) {
	var b *gbmBuffer
	select {
	case b = <-s.free:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	var stride C.uint32_t
	var mapData unsafe.Pointer
	ptr := C.gbm_bo_map(b.bo, 0, 0, C.uint32_t(b.Width), C.uint32_t(b.Height),
		C.GBM_BO_TRANSFER_WRITE, &stride, &mapData)
	if ptr == nil {
		s.free <- b
		return nil, errors.New("gbm_bo_map failed")
	}
	b.Pitch = uint32(stride)
	b.mapData = mapData
	b.Pixels = unsafe.Slice((*byte)(ptr), int(b.Pitch)*int(b.Height))
	return &b.SwapBuffer, nil
}

func (s *gbmSwapchain) Queue(sb *SwapBuffer) error {
	b, err := s.lookup(sb)
	if err != nil {
		return err
	}
	if b.mapData != nil {
		C.gbm_bo_unmap(b.bo, b.mapData)
		b.mapData = nil
		b.Pixels = nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued != nil {
		s.free <- s.queued
	}
	s.queued = b
	return nil
}

func (s *gbmSwapchain) LockFront() (*SwapBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued == nil {
		return nil, errors.New("lock front: nothing queued")
	}
	b := s.queued
	s.queued = nil
	return &b.SwapBuffer, nil
}

func (s *gbmSwapchain) Release(sb *SwapBuffer) error {
	b, err := s.lookup(sb)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queued == b {
		s.queued = nil
	}
	if !s.closed {
		s.free <- b
	}
	return nil
}

func (s *gbmSwapchain) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, b := range s.bufs {
		if b.mapData != nil {
			C.gbm_bo_unmap(b.bo, b.mapData)
		}
		C.gbm_bo_destroy(b.bo)
	}
	s.bufs = nil
	C.gbm_device_destroy(s.dev)
	return nil
}

func (s *gbmSwapchain) lookup(sb *SwapBuffer) (*gbmBuffer, error) {
	for _, b := range s.bufs {
		if b.ID == sb.ID {
			return b, nil
		}
	}
	return nil, fmt.Errorf("unknown swap buffer %d", sb.ID)
}
