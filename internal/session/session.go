// Package session owns the display device: output discovery, the saved CRTC
// configuration and its restoration at shutdown.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/NeowayLabs/drm/mode"
	"github.com/rs/zerolog"

	"github.com/rook-computer/scanout/internal/kms"
	"github.com/rook-computer/scanout/internal/logging"
)

var (
	ErrNoDevice     = errors.New("no connected display output")
	ErrResourceBusy = errors.New("display resource busy")
)

// DisplayMode is the output mode chosen at Open. It does not change for the
// session's lifetime.
type DisplayMode struct {
	Width, Height int
	Refresh       uint32
	Clock         uint32
	Name          string
	Info          mode.Info
}

func (m DisplayMode) String() string {
	return fmt.Sprintf("%dx%d@%d", m.Width, m.Height, m.Refresh)
}

// CrtcState is the configuration found on the CRTC before this process
// touched it.
type CrtcState struct {
	CrtcID    uint32
	BufferID  uint32
	X, Y      uint32
	Mode      mode.Info
	ModeValid bool
}

type Config struct {
	// Connector selects a connector id; 0 takes the first connected one.
	Connector uint32
	// Mode is "WIDTHxHEIGHT" or a driver mode name; empty takes the preferred mode.
	Mode string
	// Refresh narrows Mode to a refresh rate; 0 accepts any.
	Refresh uint32
	// Opener defaults to kms.OpenDevice.
	Opener kms.Opener
	// Logger is tagged with the component name; nil disables logging.
	Logger *zerolog.Logger
}

type Session struct {
	card      kms.Card
	log       zerolog.Logger
	connector uint32
	crtc      uint32
	mode      DisplayMode

	saved    *CrtcState
	restored bool
	closed   bool
}

// Open opens the device named by hint, picks the first usable
// connector/CRTC/mode triple, takes DRM master and saves the CRTC state.
func Open(hint string, cfg Config) (*Session, error) {
	opener := cfg.Opener
	if opener == nil {
		opener = kms.OpenDevice
	}
	log := logging.Component(cfg.Logger, "session")

	card, err := opener(hint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	s := &Session{card: card, log: log}
	if err := s.discover(cfg); err != nil {
		_ = card.Close()
		return nil, err
	}
	if err := card.SetMaster(); err != nil {
		_ = card.Close()
		if errors.Is(err, kms.ErrBusy) {
			return nil, fmt.Errorf("%w: %v", ErrResourceBusy, err)
		}
		return nil, fmt.Errorf("set master: %w", err)
	}
	if err := s.SaveState(); err != nil {
		_ = card.DropMaster()
		_ = card.Close()
		return nil, err
	}

	log.Info().
		Str("device", card.Name()).
		Uint32("connector", s.connector).
		Uint32("crtc", s.crtc).
		Str("mode", s.mode.String()).
		Msg("display session opened")
	return s, nil
}

func (s *Session) discover(cfg Config) error {
	res, err := s.card.Resources()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	var conn *kms.Connector
	for _, id := range res.Connectors {
		if cfg.Connector != 0 && id != cfg.Connector {
			continue
		}
		c, err := s.card.Connector(id)
		if err != nil {
			s.log.Debug().Err(err).Uint32("connector", id).Msg("skipping connector")
			continue
		}
		if c.Connected && len(c.Modes) > 0 {
			conn = c
			break
		}
	}
	if conn == nil {
		if cfg.Connector != 0 {
			return fmt.Errorf("%w: connector %d not connected", ErrNoDevice, cfg.Connector)
		}
		return ErrNoDevice
	}

	m, matched := ChooseMode(conn.Modes, cfg.Mode, cfg.Refresh)
	if !matched && cfg.Mode != "" {
		s.log.Warn().Str("requested", cfg.Mode).Str("using", kms.ModeName(m)).Msg("requested mode not offered")
	}

	crtc, err := s.findCrtc(res, conn)
	if err != nil {
		return err
	}
	s.connector = conn.ID
	s.crtc = crtc
	s.mode = DisplayMode{
		Width:   int(m.Hdisplay),
		Height:  int(m.Vdisplay),
		Refresh: m.Vrefresh,
		Clock:   m.Clock,
		Name:    kms.ModeName(m),
		Info:    m,
	}
	return nil
}

// findCrtc prefers the CRTC the connector's encoder already drives, then the
// first CRTC any of its encoders can reach.
func (s *Session) findCrtc(res *kms.Resources, conn *kms.Connector) (uint32, error) {
	if conn.EncoderID != 0 {
		if enc, err := s.card.Encoder(conn.EncoderID); err == nil && enc.CrtcID != 0 {
			return enc.CrtcID, nil
		}
	}
	for _, id := range conn.Encoders {
		enc, err := s.card.Encoder(id)
		if err != nil {
			continue
		}
		for i, crtc := range res.Crtcs {
			if enc.PossibleCrtcs&(1<<uint(i)) != 0 {
				return crtc, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: no crtc for connector %d", ErrNoDevice, conn.ID)
}

// ChooseMode picks the mode matching want ("WxH" or a mode name) and refresh,
// else the driver-preferred mode, else the largest. matched reports whether
// want was satisfied.
func ChooseMode(modes []mode.Info, want string, refresh uint32) (m mode.Info, matched bool) {
	if want != "" {
		w, h, sized := parseSize(want)
		for _, cand := range modes {
			if refresh != 0 && cand.Vrefresh != refresh {
				continue
			}
			if kms.ModeName(cand) == want || (sized && int(cand.Hdisplay) == w && int(cand.Vdisplay) == h) {
				return cand, true
			}
		}
	}
	for _, cand := range modes {
		if cand.Type&kms.ModeTypePreferred != 0 {
			return cand, want == ""
		}
	}
	best := modes[0]
	for _, cand := range modes[1:] {
		if int(cand.Hdisplay)*int(cand.Vdisplay) > int(best.Hdisplay)*int(best.Vdisplay) {
			best = cand
		}
	}
	return best, want == ""
}

func parseSize(s string) (w, h int, ok bool) {
	ws, hs, found := strings.Cut(strings.ToLower(s), "x")
	if !found {
		return 0, 0, false
	}
	if i := strings.IndexAny(hs, "@i"); i >= 0 {
		hs = hs[:i]
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	return w, h, err1 == nil && err2 == nil && w > 0 && h > 0
}

func (s *Session) Card() kms.Card         { return s.card }
func (s *Session) CrtcID() uint32         { return s.crtc }
func (s *Session) ConnectorID() uint32    { return s.connector }
func (s *Session) Mode() DisplayMode      { return s.mode }
func (s *Session) Logger() zerolog.Logger { return s.log }

// Saved returns the captured CRTC configuration, nil before SaveState.
func (s *Session) Saved() *CrtcState { return s.saved }

// SaveState captures the current CRTC configuration. Only the first call
// reads the hardware.
func (s *Session) SaveState() error {
	if s.saved != nil {
		return nil
	}
	c, err := s.card.GetCrtc(s.crtc)
	if err != nil {
		return fmt.Errorf("save crtc %d: %w", s.crtc, err)
	}
	s.saved = &CrtcState{
		CrtcID:    c.ID,
		BufferID:  c.BufferID,
		X:         c.X,
		Y:         c.Y,
		Mode:      c.Mode,
		ModeValid: c.ModeValid != 0,
	}
	s.log.Debug().Uint32("crtc", c.ID).Uint32("fb", c.BufferID).Msg("saved crtc state")
	return nil
}

// SetMode binds fb to the session's CRTC in the session mode. The previous
// configuration is saved first if it has not been.
func (s *Session) SetMode(fb uint32) error {
	if err := s.SaveState(); err != nil {
		return err
	}
	m := s.mode.Info
	if err := s.card.SetCrtc(s.crtc, fb, 0, 0, s.connector, &m); err != nil {
		return fmt.Errorf("modeset fb %d: %w", fb, err)
	}
	return nil
}

// Restore puts the saved CRTC configuration back. Failures are logged and
// returned but leave the session closable. Later calls are no-ops.
func (s *Session) Restore() error {
	if s.restored || s.saved == nil {
		return nil
	}
	s.restored = true
	st := s.saved
	var err error
	if st.ModeValid && st.BufferID != 0 {
		m := st.Mode
		err = s.card.SetCrtc(st.CrtcID, st.BufferID, st.X, st.Y, s.connector, &m)
	} else {
		err = s.card.SetCrtc(st.CrtcID, 0, 0, 0, 0, nil)
	}
	if err != nil {
		s.log.Warn().Err(err).Uint32("crtc", st.CrtcID).Msg("failed to restore crtc")
		return fmt.Errorf("restore crtc %d: %w", st.CrtcID, err)
	}
	s.log.Debug().Uint32("crtc", st.CrtcID).Uint32("fb", st.BufferID).Msg("restored crtc")
	return nil
}

// Close restores the CRTC if needed, drops master and closes the device.
// Only device-close failures are returned.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.Restore()
	if err := s.card.DropMaster(); err != nil {
		s.log.Debug().Err(err).Msg("drop master")
	}
	return s.card.Close()
}
