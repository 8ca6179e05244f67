//go:build linux

package session

import (
	"errors"
	"testing"

	"github.com/NeowayLabs/drm/mode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rook-computer/scanout/internal/kms"
	"github.com/rook-computer/scanout/internal/kms/kmstest"
)

func TestOpenWithoutConnectedOutput(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithDisconnectedOutput())

	_, err := Open("", Config{Mode: "1920x1080", Opener: dev.Opener()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoDevice))
}

func TestOpenWhenDeviceMissing(t *testing.T) {
	opener := func(string) (kms.Card, error) { return nil, kms.ErrNoCard }

	_, err := Open("/dev/dri/card9", Config{Opener: opener})
	assert.True(t, errors.Is(err, ErrNoDevice))
}

func TestSecondSessionIsBusy(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(1920, 1080, 60))

	first, err := Open("", Config{Opener: dev.Opener()})
	require.NoError(t, err)
	defer first.Close()

	_, err = Open("", Config{Opener: dev.Opener()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceBusy))
}

func TestOpenPicksPreferredMode(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithDisconnectedOutput(), kmstest.WithOutput(1280, 720, 60))

	s, err := Open("", Config{Opener: dev.Opener()})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint32(31), s.ConnectorID())
	assert.Equal(t, uint32(11), s.CrtcID())
	assert.Equal(t, 1280, s.Mode().Width)
	assert.Equal(t, 720, s.Mode().Height)
	assert.Equal(t, "1280x720@60", s.Mode().String())
}

func TestSaveStateOnceAndRestore(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(640, 480, 60))
	card, err := dev.Open()
	require.NoError(t, err)
	db, err := card.CreateDumb(640, 480, 32)
	require.NoError(t, err)
	fb, err := card.AddFB(640, 480, kms.FormatXBGR8888, db.Handle, db.Pitch)
	require.NoError(t, err)

	s, err := Open("", Config{Mode: "640x480", Opener: func(string) (kms.Card, error) { return card, nil }})
	require.NoError(t, err)
	require.NotNil(t, s.Saved())
	assert.Equal(t, kmstest.ConsoleFB, s.Saved().BufferID)

	require.NoError(t, s.SetMode(fb))
	assert.Equal(t, fb, dev.Scanout(s.CrtcID()))

	// A second save must not capture our own framebuffer.
	require.NoError(t, s.SaveState())
	assert.Equal(t, kmstest.ConsoleFB, s.Saved().BufferID)

	require.NoError(t, s.Close())
	assert.Equal(t, kmstest.ConsoleFB, dev.Scanout(10))
	assert.NoError(t, s.Close())
}

func TestCloseSwallowsRestoreFailure(t *testing.T) {
	dev := kmstest.NewDevice(kmstest.WithOutput(640, 480, 60))
	s, err := Open("", Config{Opener: dev.Opener()})
	require.NoError(t, err)

	dev.Unplug()
	assert.Error(t, s.Restore())
	assert.NoError(t, s.Close())
}

func TestChooseMode(t *testing.T) {
	a := kmstest.NewMode(1920, 1080, 60, false)
	b := kmstest.NewMode(1920, 1080, 30, false)
	c := kmstest.NewMode(1280, 720, 60, true)
	modes := []mode.Info{a, b, c}

	m, ok := ChooseMode(modes, "1920x1080", 30)
	assert.True(t, ok)
	assert.Equal(t, uint32(30), m.Vrefresh)

	m, ok = ChooseMode(modes, "", 0)
	assert.True(t, ok)
	assert.Equal(t, uint16(1280), m.Hdisplay)

	m, ok = ChooseMode(modes, "800x600", 0)
	assert.False(t, ok)
	assert.Equal(t, uint16(1280), m.Hdisplay)

	m, _ = ChooseMode([]mode.Info{kmstest.NewMode(1280, 720, 60, false), a}, "", 0)
	assert.Equal(t, uint16(1920), m.Hdisplay)
}
