package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed size of a packet header on the wire.
	HeaderSize = 32
	// MarkerSize is the length of the marker that opens every header.
	MarkerSize = 8

	crcHeaderOffset = 8
)

var (
	// MarkerDebugger opens packets exchanged while the debugger is attached.
	MarkerDebugger = [MarkerSize]byte{'N', 'F', 'D', 'B', 'G', 'V', '1', 0}
	// MarkerPacket opens regular protocol packets.
	MarkerPacket = [MarkerSize]byte{'N', 'F', 'P', 'K', 'T', 'V', '1', 0}
)

// Header is the fixed 32-byte packet header. It is always little-endian on the
// wire regardless of the target's payload byte order.
type Header struct {
	Marker    [MarkerSize]byte
	CRCHeader uint32
	CRCData   uint32
	Cmd       uint32
	Seq       uint16
	SeqReply  uint16
	Flags     Flags
	Size      uint32
}

// MarshalBinary encodes the header into its 32-byte wire form.
func (h *Header) MarshalBinary() ([]byte, error) {
	return h.appendTo(make([]byte, 0, HeaderSize)), nil
}

func (h *Header) appendTo(b []byte) []byte {
	le := binary.LittleEndian
	b = append(b, h.Marker[:]...)
	b = le.AppendUint32(b, h.CRCHeader)
	b = le.AppendUint32(b, h.CRCData)
	b = le.AppendUint32(b, h.Cmd)
	b = le.AppendUint16(b, h.Seq)
	b = le.AppendUint16(b, h.SeqReply)
	b = le.AppendUint32(b, uint32(h.Flags))
	b = le.AppendUint32(b, h.Size)
	return b
}

// UnmarshalBinary decodes a header. It does not verify the CRC.
func (h *Header) UnmarshalBinary(b []byte) error {
	if len(b) < HeaderSize {
		return fmt.Errorf("%w: header needs %d bytes, have %d", ErrShortPayload, HeaderSize, len(b))
	}
	le := binary.LittleEndian
	copy(h.Marker[:], b[:MarkerSize])
	h.CRCHeader = le.Uint32(b[8:])
	h.CRCData = le.Uint32(b[12:])
	h.Cmd = le.Uint32(b[16:])
	h.Seq = le.Uint16(b[20:])
	h.SeqReply = le.Uint16(b[22:])
	h.Flags = Flags(le.Uint32(b[24:]))
	h.Size = le.Uint32(b[28:])
	if !IsMarker(h.Marker[:]) {
		return ErrBadMarker
	}
	return nil
}

// ComputeHeaderCRC returns the header checksum, computed over the encoded
// header with the CRC field itself zeroed.
func (h Header) ComputeHeaderCRC() uint32 {
	h.CRCHeader = 0
	var buf [HeaderSize]byte
	return CRC32(h.appendTo(buf[:0]), 0)
}

// Seal fills in size and both checksums for payload. When dataCRC is false the
// payload checksum is left at zero, as expected by targets without CRC32
// support.
func (h *Header) Seal(payload []byte, dataCRC bool) {
	h.Size = uint32(len(payload))
	h.CRCData = 0
	if dataCRC {
		h.CRCData = CRC32(payload, 0)
	}
	h.CRCHeader = h.ComputeHeaderCRC()
}

// VerifyHeader checks the transmitted header CRC.
func (h Header) VerifyHeader() error {
	if got := h.ComputeHeaderCRC(); got != h.CRCHeader {
		return &CRCError{Part: "header", Want: h.CRCHeader, Got: got}
	}
	return nil
}

// VerifyPayload checks the transmitted payload CRC.
func (h Header) VerifyPayload(payload []byte) error {
	if got := CRC32(payload, 0); got != h.CRCData {
		return &CRCError{Part: "payload", Want: h.CRCData, Got: got}
	}
	return nil
}

// IsReply reports whether the packet answers an earlier request.
func (h Header) IsReply() bool {
	return h.Flags.Has(FlagReply)
}

func (h Header) String() string {
	return fmt.Sprintf("%s seq=%d reply-to=%d flags=%s size=%d", CommandName(h.Cmd), h.Seq, h.SeqReply, h.Flags, h.Size)
}

// IsMarker reports whether b starts with one of the known markers.
func IsMarker(b []byte) bool {
	return bytes.HasPrefix(b, MarkerDebugger[:]) || bytes.HasPrefix(b, MarkerPacket[:])
}

// IsMarkerPrefix reports whether b could still grow into a marker. A buffer
// at least as long as a marker only qualifies if it actually starts with one.
func IsMarkerPrefix(b []byte) bool {
	if len(b) >= MarkerSize {
		return IsMarker(b)
	}
	return bytes.HasPrefix(MarkerDebugger[:], b) || bytes.HasPrefix(MarkerPacket[:], b)
}

// Message is one packet header together with its raw payload and, when the
// command is known, the decoded payload record.
type Message struct {
	Header  Header
	Payload []byte
	Record  Record
}

// Encode builds the wire bytes for a header and payload.
func Encode(h Header, payload []byte, dataCRC bool) []byte {
	h.Seal(payload, dataCRC)
	b := h.appendTo(make([]byte, 0, HeaderSize+len(payload)))
	return append(b, payload...)
}
