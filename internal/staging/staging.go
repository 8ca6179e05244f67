// Package staging moves an incoming frame into the writable back surface:
// direct row copies for host RGB/RGBA, accelerator transfers into pinned
// scanout memory, and the conversion collaborator for everything else.
package staging

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rook-computer/scanout/internal/accel"
	"github.com/rook-computer/scanout/internal/convert"
	"github.com/rook-computer/scanout/internal/logging"
	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/surface"
)

// Alpha is the value written to the padding byte of every staged pixel.
const Alpha = 0xFF

var ErrNoAccelerator = errors.New("device-resident frame but no accelerator configured")

type PinPolicy int

const (
	// PinPerFrame registers a surface for each transfer and unregisters it after.
	PinPerFrame PinPolicy = iota
	// PinPersistent keeps a surface registered from first use until Release.
	PinPersistent
)

func (p PinPolicy) String() string {
	if p == PinPersistent {
		return "persistent"
	}
	return "per-frame"
}

func ParsePinPolicy(s string) (PinPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "per-frame", "perframe", "frame":
		return PinPerFrame, nil
	case "persistent":
		return PinPersistent, nil
	}
	return 0, fmt.Errorf("unknown pin policy %q (want per-frame or persistent)", s)
}

// Source is a frame to stage: a HostFrame or an *accel.Buffer.
type Source interface {
	Format() pixfmt.Format
	Size() (width, height int)
}

// HostFrame is a frame in host memory.
type HostFrame struct {
	Data   []byte
	Fmt    pixfmt.Format
	Width  int
	Height int
	// Stride of RGB8/RGBA8 rows; 0 means tightly packed.
	Stride int
}

func (f HostFrame) Format() pixfmt.Format { return f.Fmt }
func (f HostFrame) Size() (int, int)      { return f.Width, f.Height }

type Stats struct {
	DirectCopies uint64
	Conversions  uint64
	Transfers    uint64
	Replications uint64
	Pins         uint64
	Unpins       uint64
}

type Config struct {
	Converter   *convert.Converter
	Accelerator accel.Accelerator
	PinPolicy   PinPolicy
	Logger      *zerolog.Logger
}

type Pipeline struct {
	conv    *convert.Converter
	acc     accel.Accelerator
	policy  PinPolicy
	log     zerolog.Logger
	scratch []byte
	stats   Stats
}

func New(cfg Config) *Pipeline {
	conv := cfg.Converter
	if conv == nil {
		conv = convert.New()
	}
	return &Pipeline{
		conv:   conv,
		acc:    cfg.Accelerator,
		policy: cfg.PinPolicy,
		log:    logging.Component(cfg.Logger, "staging"),
	}
}

func (p *Pipeline) Stats() Stats                  { return p.stats }
func (p *Pipeline) Policy() PinPolicy             { return p.policy }
func (p *Pipeline) Converter() *convert.Converter { return p.conv }

// Stage writes src into dst. Sizes that differ from the surface are clipped,
// never scaled.
func (p *Pipeline) Stage(src Source, dst *surface.Surface) error {
	if err := pixfmt.CheckInput(src.Format()); err != nil {
		return err
	}
	w, h := src.Size()
	if w <= 0 || h <= 0 {
		return fmt.Errorf("stage: invalid frame size %dx%d", w, h)
	}
	if dst.Pixels == nil {
		return errors.New("stage: back surface is not CPU-mapped")
	}
	switch s := src.(type) {
	case *accel.Buffer:
		return p.stageDevice(s, dst)
	case HostFrame:
		return p.stageHost(s, dst)
	case *HostFrame:
		return p.stageHost(*s, dst)
	}
	return fmt.Errorf("stage: unsupported source %T", src)
}

func (p *Pipeline) stageHost(f HostFrame, dst *surface.Surface) error {
	switch f.Fmt {
	case pixfmt.RGBA8, pixfmt.RGB8:
		ch := f.Fmt.Channels()
		stride := f.Stride
		if stride == 0 {
			stride = f.Width * ch
		}
		if stride < f.Width*ch || len(f.Data) < (f.Height-1)*stride+f.Width*ch {
			return fmt.Errorf("%w: %s %dx%d stride %d, got %d bytes",
				convert.ErrShortBuffer, f.Fmt, f.Width, f.Height, stride, len(f.Data))
		}
		copyRows(dst, f.Data, stride, ch, f.Width, f.Height)
		p.stats.DirectCopies++
		return nil
	}

	native := surface.NativeFormat
	if !p.conv.Supports(f.Fmt, native) {
		return fmt.Errorf("%w: %s -> %s", convert.ErrUnsupportedFormatPair, f.Fmt, native)
	}
	need := pixfmt.FrameSize(native, f.Width, f.Height)
	if cap(p.scratch) < need {
		p.scratch = make([]byte, need)
	}
	p.scratch = p.scratch[:need]
	if err := p.conv.Convert(f.Data, f.Fmt, p.scratch, native, f.Width, f.Height); err != nil {
		return err
	}
	copyRows(dst, p.scratch, f.Width*4, 4, f.Width, f.Height)
	p.stats.Conversions++
	return nil
}

// copyRows copies clipped rows into the surface and sets every padding byte
// to Alpha. A 3-channel source loses its last column: min(srcW, dstW)-1
// pixels are written per row and the trailing visible column keeps its
// previous contents.
func copyRows(dst *surface.Surface, src []byte, srcStride, ch, w, h int) {
	rows := min(h, dst.Height)
	cols := min(w, dst.Width)
	if ch == 4 {
		for y := 0; y < rows; y++ {
			d := dst.Pixels[y*dst.Stride : y*dst.Stride+cols*4]
			copy(d, src[y*srcStride:y*srcStride+cols*4])
			for x := 3; x < len(d); x += 4 {
				d[x] = Alpha
			}
		}
		return
	}
	cols--
	if cols <= 0 {
		return
	}
	for y := 0; y < rows; y++ {
		s := src[y*srcStride : y*srcStride+cols*3]
		d := dst.Pixels[y*dst.Stride : y*dst.Stride+cols*4]
		for x := 0; x < cols; x++ {
			d[x*4] = s[x*3]
			d[x*4+1] = s[x*3+1]
			d[x*4+2] = s[x*3+2]
			d[x*4+3] = Alpha
		}
	}
}

func (p *Pipeline) stageDevice(b *accel.Buffer, dst *surface.Surface) error {
	if p.acc == nil {
		return ErrNoAccelerator
	}
	if b.Format() != pixfmt.RGB8 && b.Format() != pixfmt.RGBA8 {
		return fmt.Errorf("%w: %s -> %s on %s", convert.ErrUnsupportedFormatPair, b.Format(), surface.NativeFormat, p.acc.Name())
	}
	if dst.Pin == nil {
		// Driver-owned memory cannot be registered: bring the frame to the host.
		w, h := b.Size()
		host := make([]byte, w*h*b.Format().Channels())
		if err := b.Download(host); err != nil {
			return err
		}
		return p.stageHost(HostFrame{Data: host, Fmt: b.Format(), Width: w, Height: h}, dst)
	}

	if !dst.Pin.Pinned {
		ptr, err := p.acc.Register(dst.Pixels)
		if err != nil {
			return fmt.Errorf("%w: register surface %d: %v", surface.ErrAllocationFailure, dst.Index, err)
		}
		dst.Pin.Pinned, dst.Pin.Device = true, ptr
		p.stats.Pins++
		p.log.Debug().Int("surface", dst.Index).Msg("pinned surface")
	}
	err := p.acc.Transfer(dst.Pin.Device, dst.Width, dst.Height, dst.Stride, b)
	if p.policy == PinPerFrame {
		if uerr := p.unpin(dst); uerr != nil && err == nil {
			err = uerr
		}
	}
	if err != nil {
		return fmt.Errorf("accelerator transfer: %w", err)
	}
	p.stats.Transfers++
	return nil
}

func (p *Pipeline) unpin(s *surface.Surface) error {
	if s.Pin == nil || !s.Pin.Pinned {
		return nil
	}
	err := p.acc.Unregister(s.Pin.Device)
	s.Pin.Pinned, s.Pin.Device = false, 0
	p.stats.Unpins++
	return err
}

// Replicate copies the on-screen surface into the back surface for a redraw.
// It is not counted as a conversion.
func (p *Pipeline) Replicate(front, back *surface.Surface) error {
	if front == nil {
		return errors.New("replicate: nothing on screen")
	}
	if front == back {
		return nil
	}
	if front.Pixels == nil || back.Pixels == nil {
		return errors.New("replicate: surface is not CPU-mapped")
	}
	rows := min(front.Height, back.Height)
	n := min(front.Width, back.Width) * 4
	for y := 0; y < rows; y++ {
		copy(back.Pixels[y*back.Stride:y*back.Stride+n], front.Pixels[y*front.Stride:y*front.Stride+n])
	}
	p.stats.Replications++
	return nil
}

// Release unregisters every pinned surface.
func (p *Pipeline) Release(surfs []*surface.Surface) error {
	if p.acc == nil {
		return nil
	}
	var errs []error
	for _, s := range surfs {
		errs = append(errs, p.unpin(s))
	}
	return errors.Join(errs...)
}
