package kms

import (
	"encoding/binary"
	"testing"

	"github.com/NeowayLabs/drm/mode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlipEventRoundTrip(t *testing.T) {
	ev := FlipEvent{UserData: 42, Sec: 7, Usec: 500, Sequence: 3, CrtcID: 10}
	b := EncodeFlipEvent(ev)
	require.Len(t, b, vblankEventSize)

	got, err := ParseEvents(b)
	require.NoError(t, err)
	assert.Equal(t, []FlipEvent{ev}, got)
}

func TestParseEventsSkipsVblank(t *testing.T) {
	vblank := EncodeFlipEvent(FlipEvent{UserData: 1})
	binary.NativeEndian.PutUint32(vblank[0:4], EventVblank)
	flip := EncodeFlipEvent(FlipEvent{UserData: 2})

	got, err := ParseEvents(append(vblank, flip...))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].UserData)
}

func TestParseEventsTruncated(t *testing.T) {
	b := EncodeFlipEvent(FlipEvent{UserData: 9})
	_, err := ParseEvents(b[:20])
	assert.Error(t, err)

	_, err = ParseEvents(b[:4])
	assert.Error(t, err)
}

func TestValidModesAndName(t *testing.T) {
	m := mode.Info{Hdisplay: 1280, Vdisplay: 720, Vrefresh: 60}
	copy(m.Name[:], "1280x720")
	modes := ValidModes([]mode.Info{{}, m})
	require.Len(t, modes, 1)
	assert.Equal(t, "1280x720", ModeName(modes[0]))
}
