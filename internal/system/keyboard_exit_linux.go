//go:build linux

package system

import (
	"context"
	"encoding/binary"
	"errors"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// DefaultInputGlob matches the evdev nodes watched for the exit key.
const DefaultInputGlob = "/dev/input/event*"

// WatchExitKey watches every evdev device matching glob and calls onExit once
// when key is pressed. It returns immediately; the watchers stop with ctx.
// Devices that cannot be opened are skipped.
func WatchExitKey(ctx context.Context, glob string, key uint16, log zerolog.Logger, onExit func()) int {
	if onExit == nil || key == 0 {
		return 0
	}
	paths, err := filepath.Glob(glob)
	if err != nil || len(paths) == 0 {
		log.Info().Str("glob", glob).Msg("no evdev devices found for exit key")
		return 0
	}

	var once sync.Once
	trigger := func() {
		once.Do(func() {
			log.Info().Uint16("key", key).Msg("exit key pressed")
			onExit()
		})
	}

	tvSize := binary.Size(unix.Timeval{})
	watched := 0
	for _, p := range paths {
		fd, err := unix.Open(p, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			log.Debug().Err(err).Str("device", p).Msg("skipping input device")
			continue
		}
		watched++
		go func() {
			defer unix.Close(fd)
			buf := make([]byte, 4096)
			for ctx.Err() == nil {
				fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
				if _, err := unix.Poll(fds, 250); err != nil {
					if errors.Is(err, unix.EINTR) {
						continue
					}
					return
				}
				if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
					return
				}
				if fds[0].Revents&unix.POLLIN == 0 {
					continue
				}
				n, err := unix.Read(fd, buf)
				if err != nil {
					if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
						continue
					}
					return
				}
				if n == 0 {
					return
				}
				if keyPressed(buf[:n], tvSize, key) {
					trigger()
					return
				}
			}
		}()
	}
	return watched
}
