package system

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTV = 16

func event(typ, code uint16, value int32) []byte {
	rec := make([]byte, testTV+8)
	binary.NativeEndian.PutUint16(rec[testTV:], typ)
	binary.NativeEndian.PutUint16(rec[testTV+2:], code)
	binary.NativeEndian.PutUint32(rec[testTV+4:], uint32(value))
	return rec
}

func TestKeyCode(t *testing.T) {
	code, err := KeyCode("ESC")
	require.NoError(t, err)
	assert.Equal(t, uint16(1), code)

	code, err = KeyCode("")
	require.NoError(t, err)
	assert.Zero(t, code)

	_, err = KeyCode("hyper")
	assert.Error(t, err)
}

func TestKeyPressed(t *testing.T) {
	var buf []byte
	buf = append(buf, event(0x04, 4, 1)...)  // EV_MSC scan code
	buf = append(buf, event(evKey, 1, 0)...) // release
	assert.False(t, keyPressed(buf, testTV, 1))

	buf = append(buf, event(evKey, 16, 1)...)
	assert.False(t, keyPressed(buf, testTV, 1))
	assert.True(t, keyPressed(buf, testTV, 16))

	// a partial trailing record is ignored
	assert.False(t, keyPressed(event(evKey, 1, 1)[:testTV+4], testTV, 1))
}
