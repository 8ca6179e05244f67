//go:build linux

// Package system holds the console and input plumbing around the renderer.
package system

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// KD console modes from linux/kd.h
const (
	kdText     = 0x00
	kdGraphics = 0x01
	kdGetMode  = 0x4B3B // KDGETMODE ioctl
	kdSetMode  = 0x4B3A // KDSETMODE ioctl
)

const (
	hideCursor = "\x1b[?25l"
	showCursor = "\x1b[?25h"
)

// Console switches a virtual terminal to KD_GRAPHICS for the lifetime of a
// render session, so the text console does not draw over the scanout.
type Console struct {
	path    string
	log     zerolog.Logger
	f       *os.File
	prev    int
	changed bool
}

func NewConsole(path string, log zerolog.Logger) *Console {
	return &Console{path: path, log: log, prev: kdText}
}

// Enter hides the cursor and sets graphics mode. Both steps are best effort:
// a console that is not a VT only gets the cursor escape.
func (c *Console) Enter() error {
	if c.f != nil {
		return nil
	}
	f, err := os.OpenFile(c.path, os.O_WRONLY, 0)
	if err != nil {
		c.log.Warn().Err(err).Str("tty", c.path).Msg("console unavailable")
		return fmt.Errorf("open %s: %w", c.path, err)
	}
	c.f = f

	if _, err := f.WriteString(hideCursor); err != nil {
		c.log.Warn().Err(err).Msg("hide cursor failed")
	}
	fd := int(f.Fd())
	if mode, err := unix.IoctlGetInt(fd, kdGetMode); err == nil {
		c.prev = mode
	}
	if err := unix.IoctlSetInt(fd, kdSetMode, kdGraphics); err != nil {
		c.log.Warn().Err(err).Str("tty", c.path).Msg("KD_GRAPHICS failed")
		return nil
	}
	c.changed = true
	c.log.Info().Str("tty", c.path).Msg("KD_GRAPHICS set")
	return nil
}

// Restore puts back the previous console mode and shows the cursor.
func (c *Console) Restore() error {
	if c.f == nil {
		return nil
	}
	defer func() {
		_ = c.f.Close()
		c.f = nil
	}()
	var err error
	if c.changed {
		if err = unix.IoctlSetInt(int(c.f.Fd()), kdSetMode, c.prev); err != nil {
			c.log.Warn().Err(err).Msg("console mode restore failed")
		} else {
			c.log.Info().Str("tty", c.path).Msg("console mode restored")
		}
		c.changed = false
	}
	if _, werr := c.f.WriteString(showCursor); werr != nil && err == nil {
		err = werr
	}
	return err
}
