package surface

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rook-computer/scanout/internal/kms"
	"github.com/rook-computer/scanout/internal/logging"
	"github.com/rook-computer/scanout/internal/pixfmt"
	"github.com/rook-computer/scanout/internal/session"
)

const dumbCount = 2

type DumbConfig struct {
	Mode   PresentMode
	Logger *zerolog.Logger
}

type dumbBuffer struct {
	db  *kms.DumbBuffer
	fb  uint32
	pix []byte
}

// Dumb is the double-buffered backend over CPU-mapped dumb buffers. Buffer
// cur is on screen and cur^1 is the back surface.
type Dumb struct {
	sess *session.Session
	card kms.Card
	loop *kms.EventLoop
	log  zerolog.Logger
	mode PresentMode

	bufs  [dumbCount]dumbBuffer
	surfs [dumbCount]*Surface
	cur   int

	seq       uint64
	pending   *PresentTicket
	confirmed uint64
	closed    bool
}

var _ Backend = (*Dumb)(nil)

// NewDumb allocates both buffers at the session mode size and binds buffer 0
// to the CRTC.
func NewDumb(sess *session.Session, loop *kms.EventLoop, cfg DumbConfig) (*Dumb, error) {
	card := sess.Card()
	if !card.HasDumbBuffer() {
		return nil, fmt.Errorf("%w: device has no dumb buffer support", ErrUnavailable)
	}
	d := &Dumb{
		sess: sess,
		card: card,
		loop: loop,
		log:  logging.Component(cfg.Logger, "surface"),
		mode: cfg.Mode,
	}
	m := sess.Mode()
	for i := range d.bufs {
		if err := d.alloc(i, m.Width, m.Height); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	if err := sess.SetMode(d.bufs[0].fb); err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("initial modeset: %w", err)
	}
	d.log.Info().
		Str("backend", d.Name()).
		Str("present", d.mode.String()).
		Uint32("pitch", d.bufs[0].db.Pitch).
		Msg("dumb buffers ready")
	return d, nil
}

func (d *Dumb) alloc(i, w, h int) error {
	db, err := d.card.CreateDumb(uint32(w), uint32(h), 32)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllocationFailure, err)
	}
	d.bufs[i].db = db
	pix, err := d.card.MapDumb(db)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllocationFailure, err)
	}
	d.bufs[i].pix = pix
	fb, err := d.card.AddFB(db.Width, db.Height, kms.FormatXBGR8888, db.Handle, db.Pitch)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAllocationFailure, err)
	}
	d.bufs[i].fb = fb
	clear(pix)
	d.surfs[i] = &Surface{
		Index:  i,
		FB:     fb,
		Width:  int(db.Width),
		Height: int(db.Height),
		Stride: int(db.Pitch),
		Pixels: pix,
		Pin:    &PinState{},
	}
	return nil
}

func (d *Dumb) Name() string          { return "dumb" }
func (d *Dumb) Format() pixfmt.Format { return NativeFormat }
func (d *Dumb) Front() *Surface       { return d.surfs[d.cur] }
func (d *Dumb) Surfaces() []*Surface  { return d.surfs[:] }

func (d *Dumb) AcquireBackSurface(ctx context.Context) (*Surface, error) {
	if d.pending != nil {
		if err := d.WaitPresented(ctx, *d.pending); err != nil {
			return nil, err
		}
	}
	return d.surfs[d.cur^1], nil
}

func (d *Dumb) Present(s *Surface) (PresentTicket, error) {
	if d.pending != nil {
		return PresentTicket{}, errors.New("present: previous frame not confirmed")
	}
	back := d.cur ^ 1
	if s != d.surfs[back] {
		return PresentTicket{}, ErrNotBackSurface
	}
	d.seq++
	t := PresentTicket{Seq: d.seq, Surface: s}

	var err error
	switch d.mode {
	case PresentModeSet:
		m := d.sess.Mode().Info
		err = d.card.SetCrtc(d.sess.CrtcID(), s.FB, 0, 0, d.sess.ConnectorID(), &m)
	default:
		err = d.card.PageFlip(d.sess.CrtcID(), s.FB, t.Seq)
	}
	if err != nil {
		if errors.Is(err, kms.ErrBusy) {
			return PresentTicket{}, fmt.Errorf("%w: %v", ErrPresentRejected, err)
		}
		return PresentTicket{}, fmt.Errorf("present fb %d: %w", s.FB, err)
	}
	d.pending = &t
	return t, nil
}

// WaitPresented confirms t and swaps cur. A cancelled wait leaves t pending;
// the next AcquireBackSurface finishes it.
func (d *Dumb) WaitPresented(ctx context.Context, t PresentTicket) error {
	if t.Seq <= d.confirmed {
		return nil
	}
	if d.pending == nil || d.pending.Seq != t.Seq {
		return fmt.Errorf("wait: unknown ticket %d", t.Seq)
	}
	if d.mode == PresentModeSet {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", kms.ErrCancelled, err)
		}
	} else if _, err := d.loop.Wait(ctx, t.Seq); err != nil {
		return err
	}
	d.cur ^= 1
	d.confirmed = t.Seq
	d.pending = nil
	return nil
}

// Close releases both buffers. The CRTC must already be restored.
func (d *Dumb) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	for i := range d.bufs {
		b := &d.bufs[i]
		if b.fb != 0 {
			errs = append(errs, d.card.RmFB(b.fb))
		}
		if b.pix != nil {
			errs = append(errs, d.card.UnmapDumb(b.pix))
		}
		if b.db != nil {
			errs = append(errs, d.card.DestroyDumb(b.db.Handle))
		}
	}
	if err := errors.Join(errs...); err != nil {
		d.log.Warn().Err(err).Msg("releasing dumb buffers")
		return err
	}
	return nil
}
