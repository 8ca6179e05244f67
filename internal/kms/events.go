package kms

import (
	"encoding/binary"
	"fmt"
)

// DRM event types (drm.h).
const (
	EventVblank       = 0x01
	EventFlipComplete = 0x02
)

const (
	eventHeaderSize = 8
	vblankEventSize = 32
)

// FlipEvent is a decoded drm_event_vblank of type EventFlipComplete.
type FlipEvent struct {
	UserData uint64
	Sec      uint32
	Usec     uint32
	Sequence uint32
	CrtcID   uint32
}

// ParseEvents decodes a buffer read from the card. Events of other types are
// skipped; a truncated record is an error.
func ParseEvents(b []byte) ([]FlipEvent, error) {
	var out []FlipEvent
	for len(b) > 0 {
		if len(b) < eventHeaderSize {
			return out, fmt.Errorf("drm event: truncated header (%d bytes)", len(b))
		}
		typ := binary.NativeEndian.Uint32(b[0:4])
		length := int(binary.NativeEndian.Uint32(b[4:8]))
		if length < eventHeaderSize || length > len(b) {
			return out, fmt.Errorf("drm event: bad length %d (have %d)", length, len(b))
		}
		if typ == EventFlipComplete && length >= vblankEventSize {
			out = append(out, FlipEvent{
				UserData: binary.NativeEndian.Uint64(b[8:16]),
				Sec:      binary.NativeEndian.Uint32(b[16:20]),
				Usec:     binary.NativeEndian.Uint32(b[20:24]),
				Sequence: binary.NativeEndian.Uint32(b[24:28]),
				CrtcID:   binary.NativeEndian.Uint32(b[28:32]),
			})
		}
		b = b[length:]
	}
	return out, nil
}

// EncodeFlipEvent produces the kernel wire form of a flip-complete event.
func EncodeFlipEvent(ev FlipEvent) []byte {
	b := make([]byte, vblankEventSize)
	binary.NativeEndian.PutUint32(b[0:4], EventFlipComplete)
	binary.NativeEndian.PutUint32(b[4:8], vblankEventSize)
	binary.NativeEndian.PutUint64(b[8:16], ev.UserData)
	binary.NativeEndian.PutUint32(b[16:20], ev.Sec)
	binary.NativeEndian.PutUint32(b[20:24], ev.Usec)
	binary.NativeEndian.PutUint32(b[24:28], ev.Sequence)
	binary.NativeEndian.PutUint32(b[28:32], ev.CrtcID)
	return b
}
