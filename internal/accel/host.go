package accel

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rook-computer/scanout/internal/pixfmt"
)

const hostBase DevicePtr = 0x10000

// Host is a software accelerator. Registered memory is addressed through
// opaque device pointers and kernels run as parallel row bands.
type Host struct {
	mu      sync.Mutex
	next    DevicePtr
	regions map[DevicePtr][]byte
	workers int
	closed  bool

	registrations int
}

var _ Accelerator = (*Host)(nil)

func NewHost() *Host {
	return &Host{next: hostBase, regions: make(map[DevicePtr][]byte), workers: runtime.GOMAXPROCS(0)}
}

func (h *Host) Name() string { return "host" }

func (h *Host) Register(host []byte) (DevicePtr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	if len(host) == 0 {
		return 0, fmt.Errorf("register: empty region")
	}
	ptr := h.next
	h.next += DevicePtr((len(host) + 0xfff) &^ 0xfff)
	h.regions[ptr] = host
	h.registrations++
	return ptr, nil
}

func (h *Host) Unregister(ptr DevicePtr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.regions[ptr]; !ok {
		return fmt.Errorf("unregister %#x: %w", uintptr(ptr), ErrNotRegistered)
	}
	delete(h.regions, ptr)
	return nil
}

// Registered is the number of live registrations.
func (h *Host) Registered() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.regions)
}

// Registrations counts every successful Register call.
func (h *Host) Registrations() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registrations
}

func (h *Host) Alloc(format pixfmt.Format, width, height int) (*Buffer, error) {
	if format != pixfmt.RGB8 && format != pixfmt.RGBA8 {
		return nil, fmt.Errorf("alloc %s: %w", format, pixfmt.ErrUnsupportedFormat)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("alloc %dx%d: bad size", width, height)
	}
	stride := width * format.Channels()
	return &Buffer{
		owner:  h,
		format: format,
		width:  width,
		height: height,
		stride: stride,
		data:   make([]byte, stride*height),
	}, nil
}

func (h *Host) Transfer(dst DevicePtr, dstWidth, dstHeight, dstStride int, src *Buffer) error {
	if src.owner != Accelerator(h) {
		return ErrForeignBuffer
	}
	h.mu.Lock()
	region, ok := h.regions[dst]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("transfer to %#x: %w", uintptr(dst), ErrNotRegistered)
	}

	cols := min(src.width, dstWidth)
	rows := min(src.height, dstHeight)
	if rows <= 0 || cols <= 0 {
		return nil
	}
	if need := (rows-1)*dstStride + cols*4; need > len(region) {
		return fmt.Errorf("transfer: destination region too small (%d < %d)", len(region), need)
	}
	ch := src.format.Channels()

	var g errgroup.Group
	band := (rows + h.workers - 1) / h.workers
	for y0 := 0; y0 < rows; y0 += band {
		y1 := min(y0+band, rows)
		g.Go(func() error {
			for y := y0; y < y1; y++ {
				s := src.data[y*src.stride : y*src.stride+cols*ch]
				d := region[y*dstStride : y*dstStride+cols*4]
				if ch == 4 {
					copy(d, s)
					for x := 3; x < len(d); x += 4 {
						d[x] = 0xFF
					}
					continue
				}
				for x := 0; x < cols; x++ {
					d[x*4] = s[x*3]
					d[x*4+1] = s[x*3+1]
					d[x*4+2] = s[x*3+2]
					d[x*4+3] = 0xFF
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	clear(h.regions)
	return nil
}
