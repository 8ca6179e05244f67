//go:build linux

package kmstest

import (
	"errors"
	"fmt"

	"github.com/NeowayLabs/drm/mode"
	"golang.org/x/sys/unix"

	"github.com/rook-computer/scanout/internal/kms"
)

// Card is one open file on a Device. Its Fd is the read end of a pipe that
// receives encoded flip events.
type Card struct {
	dev    *Device
	r, w   int
	closed bool
}

var _ kms.Card = (*Card)(nil)

func (c *Card) Name() string { return "kmstest" }
func (c *Card) Fd() int      { return c.r }

func (c *Card) SetMaster() error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return err
	}
	if d.master != nil && d.master != c {
		return fmt.Errorf("set master: %w: %v", kms.ErrBusy, unix.EBUSY)
	}
	d.master = c
	return nil
}

func (c *Card) DropMaster() error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.master == c {
		d.master = nil
	}
	return nil
}

func (c *Card) Resources() (*kms.Resources, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	res := &kms.Resources{}
	for _, cr := range d.crtcs {
		res.Crtcs = append(res.Crtcs, cr.id)
	}
	for _, conn := range d.connectors {
		res.Connectors = append(res.Connectors, conn.ID)
	}
	return res, nil
}

func (c *Card) Connector(id uint32) (*kms.Connector, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conn := range d.connectors {
		if conn.ID == id {
			out := conn
			out.Encoders = append([]uint32(nil), conn.Encoders...)
			out.Modes = append([]mode.Info(nil), conn.Modes...)
			return &out, nil
		}
	}
	return nil, fmt.Errorf("get connector %d: %w", id, unix.ENOENT)
}

func (c *Card) Encoder(id uint32) (*kms.Encoder, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	enc, ok := d.encoders[id]
	if !ok {
		return nil, fmt.Errorf("get encoder %d: %w", id, unix.ENOENT)
	}
	return &enc, nil
}

func (c *Card) GetCrtc(id uint32) (*mode.Crtc, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	cr := d.crtcLocked(id)
	if cr == nil {
		return nil, fmt.Errorf("get crtc %d: %w", id, unix.ENOENT)
	}
	snap := cr.snapshot()
	return &snap, nil
}

func (c *Card) SetCrtc(crtcID, fbID, x, y, connectorID uint32, m *mode.Info) error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := c.masterLocked(); err != nil {
		return fmt.Errorf("set crtc: %w", err)
	}
	if d.rejectModesets > 0 {
		d.rejectModesets--
		return fmt.Errorf("set crtc: %w: %v", kms.ErrBusy, unix.EBUSY)
	}
	cr := d.crtcLocked(crtcID)
	if cr == nil {
		return fmt.Errorf("set crtc %d: %w", crtcID, unix.ENOENT)
	}
	if m == nil {
		cr.fb, cr.modeValid, cr.mode = 0, false, mode.Info{}
		return nil
	}
	if _, ok := d.fbs[fbID]; !ok {
		return fmt.Errorf("set crtc: fb %d: %w", fbID, unix.ENOENT)
	}
	cr.fb, cr.x, cr.y, cr.mode, cr.modeValid = fbID, x, y, *m, true
	d.bindings = append(d.bindings, fbID)
	return nil
}

func (c *Card) PageFlip(crtcID, fbID uint32, userData uint64) error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := c.masterLocked(); err != nil {
		return fmt.Errorf("page flip: %w", err)
	}
	cr := d.crtcLocked(crtcID)
	if cr == nil {
		return fmt.Errorf("page flip: crtc %d: %w", crtcID, unix.ENOENT)
	}
	if d.rejectFlips > 0 {
		d.rejectFlips--
		return fmt.Errorf("page flip: %w: %v", kms.ErrBusy, unix.EBUSY)
	}
	if cr.pending {
		return fmt.Errorf("page flip: %w: flip already pending", kms.ErrBusy)
	}
	if _, ok := d.fbs[fbID]; !ok {
		return fmt.Errorf("page flip: fb %d: %w", fbID, unix.ENOENT)
	}
	d.flips++
	cr.pending = true
	h := heldFlip{card: c, crtc: cr, fb: fbID, userData: userData}
	if d.holdAfter >= 0 && d.flips > d.holdAfter {
		d.held = append(d.held, h)
		return nil
	}
	d.completeLocked(h)
	return nil
}

func (c *Card) HasDumbBuffer() bool {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	return c.dev.dumbCap
}

func (c *Card) CreateDumb(width, height, bpp uint32) (*kms.DumbBuffer, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return nil, err
	}
	if !d.dumbCap {
		return nil, fmt.Errorf("create dumb: %w", unix.EOPNOTSUPP)
	}
	if width == 0 || height == 0 || bpp == 0 {
		return nil, fmt.Errorf("create dumb %dx%d: %w", width, height, unix.EINVAL)
	}
	pitch := (width*bpp/8 + 63) &^ 63
	b := &dumb{buf: kms.DumbBuffer{
		Handle: d.nextHandle,
		Width:  width,
		Height: height,
		Pitch:  pitch,
		Size:   uint64(pitch) * uint64(height),
	}}
	d.nextHandle++
	b.backing = make([]byte, int(b.buf.Size)+2*canarySize)
	for i := 0; i < canarySize; i++ {
		b.backing[i] = canaryByte
		b.backing[len(b.backing)-1-i] = canaryByte
	}
	d.dumbs[b.buf.Handle] = b
	out := b.buf
	return &out, nil
}

// MapDumb returns the buffer's bytes with cap equal to its size. The guard
// bytes either side are only reachable through unsafe writes.
func (c *Card) MapDumb(buf *kms.DumbBuffer) ([]byte, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.dumbs[buf.Handle]
	if !ok {
		return nil, fmt.Errorf("map dumb %d: %w", buf.Handle, unix.ENOENT)
	}
	end := canarySize + int(b.buf.Size)
	return b.backing[canarySize:end:end], nil
}

func (c *Card) UnmapDumb([]byte) error { return nil }

func (c *Card) DestroyDumb(handle uint32) error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.dumbs[handle]; !ok {
		return fmt.Errorf("destroy dumb %d: %w", handle, unix.ENOENT)
	}
	delete(d.dumbs, handle)
	return nil
}

func (c *Card) AddFB(width, height, fourcc, handle, pitch uint32) (uint32, error) {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := c.usableLocked(); err != nil {
		return 0, err
	}
	if _, ok := d.dumbs[handle]; !ok {
		return 0, fmt.Errorf("addfb2: handle %d: %w", handle, unix.ENOENT)
	}
	if fourcc != kms.FormatXBGR8888 && fourcc != kms.FormatXRGB8888 {
		return 0, fmt.Errorf("addfb2: fourcc %#x: %w", fourcc, unix.EINVAL)
	}
	id := d.nextFB
	d.nextFB++
	d.fbs[id] = fbInfo{handle: handle, width: width, height: height, fourcc: fourcc, pitch: pitch}
	return id, nil
}

func (c *Card) RmFB(id uint32) error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fbs[id]; !ok {
		return fmt.Errorf("rmfb %d: %w", id, unix.ENOENT)
	}
	delete(d.fbs, id)
	return nil
}

func (c *Card) ReadEvents(buf []byte) (int, error) {
	n, err := unix.Read(c.r, buf)
	if errors.Is(err, unix.EAGAIN) {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func (c *Card) Close() error {
	d := c.dev
	d.mu.Lock()
	defer d.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if d.master == c {
		d.master = nil
	}
	c.closeWriterLocked()
	return unix.Close(c.r)
}

func (c *Card) usableLocked() error {
	if c.closed {
		return unix.EBADF
	}
	if c.dev.unplugged {
		return unix.ENODEV
	}
	return nil
}

func (c *Card) masterLocked() error {
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.dev.master != c {
		return fmt.Errorf("%w: %v", kms.ErrBusy, unix.EACCES)
	}
	return nil
}

func (c *Card) sendLocked(ev []byte) {
	if c.w < 0 {
		return
	}
	_, _ = unix.Write(c.w, ev)
}

func (c *Card) closeWriterLocked() {
	if c.w >= 0 {
		_ = unix.Close(c.w)
		c.w = -1
	}
}
