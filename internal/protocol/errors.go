package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrShortPayload is returned when a payload ends before a record is complete.
	ErrShortPayload = errors.New("payload too short")
	// ErrBadMarker is returned when a header does not start with a known marker.
	ErrBadMarker = errors.New("unknown packet marker")
)

// CRCError reports a checksum mismatch on a received packet.
type CRCError struct {
	Part string // "header" or "payload"
	Want uint32
	Got  uint32
}

func (e *CRCError) Error() string {
	return fmt.Sprintf("bad %s crc: expected 0x%08X, computed 0x%08X", e.Part, e.Want, e.Got)
}
