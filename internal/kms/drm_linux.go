//go:build linux

package kms

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/mode"
	"golang.org/x/sys/unix"
)

const maxCards = 16

type drmCard struct {
	file *os.File
	fd   int
	name string
}

// OpenDevice opens a DRM card. An empty hint or "auto" picks the first card
// node that opens, a number selects /dev/dri/cardN, anything else is a path.
func OpenDevice(hint string) (Card, error) {
	hint = strings.TrimSpace(hint)
	switch {
	case hint == "" || hint == "auto":
		var lastErr error
		for n := 0; n < maxCards; n++ {
			f, err := drm.OpenCard(n)
			if err != nil {
				lastErr = err
				continue
			}
			return newDRMCard(f), nil
		}
		return nil, fmt.Errorf("%w: %v", ErrNoCard, lastErr)
	default:
		if n, err := strconv.Atoi(hint); err == nil {
			f, err := drm.OpenCard(n)
			if err != nil {
				return nil, fmt.Errorf("%w: card%d: %v", ErrNoCard, n, err)
			}
			return newDRMCard(f), nil
		}
		f, err := os.OpenFile(hint, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoCard, err)
		}
		return newDRMCard(f), nil
	}
}

func newDRMCard(f *os.File) *drmCard {
	return &drmCard{file: f, fd: int(f.Fd()), name: f.Name()}
}

func (c *drmCard) Name() string { return c.name }
func (c *drmCard) Fd() int      { return c.fd }

func (c *drmCard) SetMaster() error {
	if err := ioctl(c.fd, ioctlSetMaster, nil); err != nil {
		return busyErr("set master", err)
	}
	return nil
}

func (c *drmCard) DropMaster() error {
	return ioctl(c.fd, ioctlDropMaster, nil)
}

func (c *drmCard) Resources() (*Resources, error) {
	res, err := mode.GetResources(c.file)
	if err != nil {
		return nil, fmt.Errorf("get resources: %w", err)
	}
	return &Resources{Crtcs: res.Crtcs, Connectors: res.Connectors}, nil
}

func (c *drmCard) Connector(id uint32) (*Connector, error) {
	conn, err := mode.GetConnector(c.file, id)
	if err != nil {
		return nil, fmt.Errorf("get connector %d: %w", id, err)
	}
	return &Connector{
		ID:        conn.ID,
		Connected: conn.Connection == mode.Connected,
		EncoderID: conn.EncoderID,
		Encoders:  conn.Encoders,
		Modes:     ValidModes(conn.Modes),
	}, nil
}

func (c *drmCard) Encoder(id uint32) (*Encoder, error) {
	enc, err := mode.GetEncoder(c.file, id)
	if err != nil {
		return nil, fmt.Errorf("get encoder %d: %w", id, err)
	}
	return &Encoder{ID: enc.ID, CrtcID: enc.CrtcID, PossibleCrtcs: enc.PossibleCrtcs}, nil
}

func (c *drmCard) GetCrtc(id uint32) (*mode.Crtc, error) {
	return mode.GetCrtc(c.file, id)
}

func (c *drmCard) SetCrtc(crtcID, fbID, x, y, connectorID uint32, m *mode.Info) error {
	var err error
	if m == nil {
		err = mode.SetCrtc(c.file, crtcID, 0, 0, 0, nil, 0, nil)
	} else {
		conn := connectorID
		err = mode.SetCrtc(c.file, crtcID, fbID, x, y, &conn, 1, m)
	}
	if err != nil {
		return busyErr("set crtc", err)
	}
	return nil
}

func (c *drmCard) PageFlip(crtcID, fbID uint32, userData uint64) error {
	req := sysPageFlip{crtcID: crtcID, fbID: fbID, flags: pageFlipEvent, userData: userData}
	if err := ioctl(c.fd, ioctlPageFlip, unsafe.Pointer(&req)); err != nil {
		return busyErr("page flip", err)
	}
	return nil
}

func (c *drmCard) HasDumbBuffer() bool { return drm.HasDumbBuffer(c.file) }

func (c *drmCard) CreateDumb(width, height, bpp uint32) (*DumbBuffer, error) {
	fb, err := mode.CreateFB(c.file, uint16(width), uint16(height), bpp)
	if err != nil {
		return nil, fmt.Errorf("create dumb %dx%d: %w", width, height, err)
	}
	return &DumbBuffer{Handle: fb.Handle, Width: fb.Width, Height: fb.Height, Pitch: fb.Pitch, Size: fb.Size}, nil
}

func (c *drmCard) MapDumb(b *DumbBuffer) ([]byte, error) {
	offset, err := mode.MapDumb(c.file, b.Handle)
	if err != nil {
		return nil, fmt.Errorf("map dumb %d: %w", b.Handle, err)
	}
	data, err := unix.Mmap(c.fd, int64(offset), int(b.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap dumb %d: %w", b.Handle, err)
	}
	return data, nil
}

func (c *drmCard) UnmapDumb(data []byte) error { return unix.Munmap(data) }

func (c *drmCard) DestroyDumb(handle uint32) error { return mode.DestroyDumb(c.file, handle) }

func (c *drmCard) AddFB(width, height, fourcc, handle, pitch uint32) (uint32, error) {
	req := sysFBCmd2{width: width, height: height, pixelFormat: fourcc}
	req.handles[0] = handle
	req.pitches[0] = pitch
	if err := ioctl(c.fd, ioctlAddFB2, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("addfb2 %dx%d: %w", width, height, err)
	}
	return req.fbID, nil
}

func (c *drmCard) RmFB(id uint32) error { return mode.RmFB(c.file, id) }

func (c *drmCard) ReadEvents(buf []byte) (int, error) {
	n, err := unix.Read(c.fd, buf)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if n < 0 {
		n = 0
	}
	return n, err
}

func (c *drmCard) Close() error { return c.file.Close() }

func busyErr(op string, err error) error {
	if errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		return fmt.Errorf("%s: %w: %v", op, ErrBusy, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
