package system

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const evKey = 0x01

// Key codes from linux input-event-codes.h.
var keyCodes = map[string]uint16{
	"esc":   1,
	"q":     16,
	"enter": 28,
	"space": 57,
	"f4":    62,
	"f10":   68,
	"f12":   88,
}

// KeyCode resolves a key name; "" disables the exit key and returns 0.
func KeyCode(name string) (uint16, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return 0, nil
	}
	code, ok := keyCodes[name]
	if !ok {
		return 0, fmt.Errorf("unknown exit key %q", name)
	}
	return code, nil
}

// keyPressed reports whether buf, a run of input_event records whose
// timeval takes tvSize bytes, contains a press of code.
func keyPressed(buf []byte, tvSize int, code uint16) bool {
	size := tvSize + 8
	for off := 0; off+size <= len(buf); off += size {
		rec := buf[off : off+size]
		typ := binary.NativeEndian.Uint16(rec[tvSize:])
		c := binary.NativeEndian.Uint16(rec[tvSize+2:])
		value := int32(binary.NativeEndian.Uint32(rec[tvSize+4:]))
		if typ == evKey && c == code && value == 1 {
			return true
		}
	}
	return false
}
