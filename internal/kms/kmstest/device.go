//go:build linux

// Package kmstest is an in-memory DRM device. Cards opened from a Device have
// a real pipe as their event descriptor, so kms.EventLoop runs unmodified.
package kmstest

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/NeowayLabs/drm/mode"
	"golang.org/x/sys/unix"

	"github.com/rook-computer/scanout/internal/kms"
)

const (
	canarySize = 64
	canaryByte = 0xA5

	// ConsoleFB is the framebuffer bound to every CRTC before any client
	// takes over, like fbcon.
	ConsoleFB uint32 = 1
)

type Option func(*Device)

// WithOutput adds a connected output whose preferred mode is w x h @ refresh.
// A 640x480@60 fallback mode is listed after it.
func WithOutput(w, h int, refresh uint32) Option {
	return func(d *Device) {
		d.addOutput(true, []mode.Info{NewMode(w, h, refresh, true), NewMode(640, 480, 60, false)})
	}
}

// WithModes adds a connected output offering exactly modes.
func WithModes(modes ...mode.Info) Option {
	return func(d *Device) { d.addOutput(true, modes) }
}

// WithDisconnectedOutput adds a connector with nothing plugged in.
func WithDisconnectedOutput() Option {
	return func(d *Device) { d.addOutput(false, nil) }
}

// WithoutDumbBuffers makes the device report no dumb-buffer capability.
func WithoutDumbBuffers() Option {
	return func(d *Device) { d.dumbCap = false }
}

// NewMode builds a mode.Info with a CVT-like pixel clock.
func NewMode(w, h int, refresh uint32, preferred bool) mode.Info {
	m := mode.Info{
		Hdisplay: uint16(w), HsyncStart: uint16(w + 48), HsyncEnd: uint16(w + 80), Htotal: uint16(w + 160),
		Vdisplay: uint16(h), VsyncStart: uint16(h + 3), VsyncEnd: uint16(h + 8), Vtotal: uint16(h + 40),
		Vrefresh: refresh,
	}
	m.Clock = uint32(int(m.Htotal) * int(m.Vtotal) * int(refresh) / 1000)
	if preferred {
		m.Type = kms.ModeTypePreferred
	}
	copy(m.Name[:], fmt.Sprintf("%dx%d", w, h))
	return m
}

type crtc struct {
	id        uint32
	fb        uint32
	x, y      uint32
	mode      mode.Info
	modeValid bool
	pending   bool
}

type dumb struct {
	buf     kms.DumbBuffer
	backing []byte
}

type fbInfo struct {
	handle, width, height, fourcc, pitch uint32
}

type heldFlip struct {
	card     *Card
	crtc     *crtc
	fb       uint32
	userData uint64
}

// Device is the shared kernel-side state: connectors, CRTCs, buffers and
// the single DRM master.
type Device struct {
	mu sync.Mutex

	connectors []kms.Connector
	encoders   map[uint32]kms.Encoder
	crtcs      []*crtc

	dumbCap    bool
	master     *Card
	cards      []*Card
	nextHandle uint32
	nextFB     uint32
	dumbs      map[uint32]*dumb
	fbs        map[uint32]fbInfo

	rejectFlips    int
	rejectModesets int
	holdAfter      int
	flips          int
	held           []heldFlip
	bindings       []uint32
	unplugged      bool
}

func NewDevice(opts ...Option) *Device {
	d := &Device{
		encoders:   make(map[uint32]kms.Encoder),
		dumbCap:    true,
		holdAfter:  -1,
		nextHandle: 1,
		nextFB:     ConsoleFB + 1,
		dumbs:      make(map[uint32]*dumb),
		fbs:        map[uint32]fbInfo{ConsoleFB: {}},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) addOutput(connected bool, modes []mode.Info) {
	n := uint32(len(d.connectors))
	c := &crtc{id: 10 + n}
	enc := kms.Encoder{ID: 20 + n, PossibleCrtcs: 1 << n}
	conn := kms.Connector{ID: 30 + n, Connected: connected, Encoders: []uint32{enc.ID}, Modes: modes}
	if connected && len(modes) > 0 {
		c.fb, c.mode, c.modeValid = ConsoleFB, modes[0], true
		enc.CrtcID = c.id
		conn.EncoderID = enc.ID
	}
	d.crtcs = append(d.crtcs, c)
	d.encoders[enc.ID] = enc
	d.connectors = append(d.connectors, conn)
}

// Opener adapts Open to kms.Opener; the hint is ignored.
func (d *Device) Opener() kms.Opener {
	return func(string) (kms.Card, error) { return d.Open() }
}

// Open returns a new file handle on the device.
func (d *Device) Open() (*Card, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unplugged {
		return nil, fmt.Errorf("%w: device unplugged", kms.ErrNoCard)
	}
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	c := &Card{dev: d, r: p[0], w: p[1]}
	d.cards = append(d.cards, c)
	return c, nil
}

// RejectFlips makes the next n page flips fail with kms.ErrBusy.
func (d *Device) RejectFlips(n int) {
	d.mu.Lock()
	d.rejectFlips = n
	d.mu.Unlock()
}

// RejectModesets makes the next n SetCrtc calls fail with kms.ErrBusy.
func (d *Device) RejectModesets(n int) {
	d.mu.Lock()
	d.rejectModesets = n
	d.mu.Unlock()
}

// HoldFlipsAfter queues, without completing, every accepted flip after the
// n-th. A negative n disables holding.
func (d *Device) HoldFlipsAfter(n int) {
	d.mu.Lock()
	d.holdAfter = n
	d.mu.Unlock()
}

// ReleaseHeld completes every held flip.
func (d *Device) ReleaseHeld() {
	d.mu.Lock()
	defer d.mu.Unlock()
	held := d.held
	d.held = nil
	for _, h := range held {
		d.completeLocked(h)
	}
}

// Unplug removes the device: pending waits see a hang-up and further
// requests fail with ENODEV.
func (d *Device) Unplug() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unplugged = true
	for _, c := range d.cards {
		c.closeWriterLocked()
	}
}

// Flips is the number of accepted page flips.
func (d *Device) Flips() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flips
}

// Bindings is the history of framebuffer ids bound by SetCrtc or a completed flip.
func (d *Device) Bindings() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.bindings...)
}

// Scanout returns the framebuffer the given CRTC is scanning out.
func (d *Device) Scanout(crtcID uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.crtcLocked(crtcID); c != nil {
		return c.fb
	}
	return 0
}

// Crtc returns the current state of a CRTC.
func (d *Device) Crtc(crtcID uint32) mode.Crtc {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.crtcLocked(crtcID)
	if c == nil {
		return mode.Crtc{}
	}
	return c.snapshot()
}

// Pixels returns the mapped bytes behind a framebuffer, nil when it is not
// backed by a buffer of this device.
func (d *Device) Pixels(fbID uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	fb, ok := d.fbs[fbID]
	if !ok {
		return nil
	}
	b, ok := d.dumbs[fb.handle]
	if !ok {
		return nil
	}
	return b.backing[canarySize : canarySize+int(b.buf.Size)]
}

// LiveBuffers is the number of buffers not yet destroyed.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dumbs)
}

// CanariesIntact reports whether the guard bytes around every live buffer
// are untouched.
func (d *Device) CanariesIntact() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	guard := bytes.Repeat([]byte{canaryByte}, canarySize)
	for _, b := range d.dumbs {
		n := len(b.backing)
		if !bytes.Equal(b.backing[:canarySize], guard) || !bytes.Equal(b.backing[n-canarySize:], guard) {
			return false
		}
	}
	return true
}

func (d *Device) crtcLocked(id uint32) *crtc {
	for _, c := range d.crtcs {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (d *Device) completeLocked(h heldFlip) {
	h.crtc.pending = false
	h.crtc.fb = h.fb
	d.bindings = append(d.bindings, h.fb)
	h.card.sendLocked(kms.EncodeFlipEvent(kms.FlipEvent{
		UserData: h.userData,
		Sequence: uint32(d.flips),
		CrtcID:   h.crtc.id,
	}))
}

func (c *crtc) snapshot() mode.Crtc {
	out := mode.Crtc{ID: c.id, BufferID: c.fb, X: c.x, Y: c.y, Mode: c.mode}
	if c.modeValid {
		out.ModeValid = 1
		out.Width, out.Height = uint32(c.mode.Hdisplay), uint32(c.mode.Vdisplay)
	}
	return out
}
