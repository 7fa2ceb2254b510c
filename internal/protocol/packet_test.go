package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestCRC32(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"empty", nil, 0},
		{"check string", []byte("123456789"), 0x89A1897F},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CRC32(tt.data, 0); got != tt.want {
				t.Errorf("CRC32() = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

func TestCRC32Incremental(t *testing.T) {
	data := []byte("nanoFramework debugger")
	whole := CRC32(data, 0)
	split := CRC32(data[7:], CRC32(data[:7], 0))
	if whole != split {
		t.Errorf("incremental CRC = 0x%08X, want 0x%08X", split, whole)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	for size := 0; size <= 300; size += 7 {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i * 31)
		}
		h := Header{Marker: MarkerPacket, Cmd: CmdReadMemory, Seq: uint16(size), SeqReply: 3, Flags: FlagReply}
		wire := Encode(h, payload, true)
		if len(wire) != HeaderSize+size {
			t.Fatalf("size %d: encoded %d bytes", size, len(wire))
		}

		var got Header
		if err := got.UnmarshalBinary(wire); err != nil {
			t.Fatalf("size %d: UnmarshalBinary: %v", size, err)
		}
		if err := got.VerifyHeader(); err != nil {
			t.Errorf("size %d: VerifyHeader: %v", size, err)
		}
		if err := got.VerifyPayload(wire[HeaderSize:]); err != nil {
			t.Errorf("size %d: VerifyPayload: %v", size, err)
		}
		if got.Size != uint32(size) || got.Cmd != h.Cmd || got.Seq != h.Seq || got.SeqReply != 3 || got.Flags != FlagReply {
			t.Errorf("size %d: decoded header %+v", size, got)
		}
	}
}

func TestHeaderLayout(t *testing.T) {
	h := Header{Marker: MarkerDebugger, Cmd: 0x00020001, Seq: 0x1234, SeqReply: 0x5678, Flags: FlagACK | FlagReply}
	wire := Encode(h, []byte{1, 2, 3, 4}, true)

	if !bytes.Equal(wire[:8], []byte("NFDBGV1\x00")) {
		t.Errorf("marker = %q", wire[:8])
	}
	le := binary.LittleEndian
	checks := []struct {
		name   string
		offset int
		want   uint32
	}{
		{"cmd", 16, 0x00020001},
		{"flags", 24, 0x8002},
		{"size", 28, 4},
	}
	for _, c := range checks {
		if got := le.Uint32(wire[c.offset:]); got != c.want {
			t.Errorf("%s at %d = 0x%X, want 0x%X", c.name, c.offset, got, c.want)
		}
	}
	if got := le.Uint16(wire[20:]); got != 0x1234 {
		t.Errorf("seq = 0x%X", got)
	}
	if got := le.Uint16(wire[22:]); got != 0x5678 {
		t.Errorf("seqReply = 0x%X", got)
	}
}

func TestHeaderCorruptionDetected(t *testing.T) {
	h := Header{Marker: MarkerPacket, Cmd: CmdPing, Seq: 42, Flags: FlagReply}
	wire := Encode(h, []byte{9, 9, 9, 9, 9, 9, 9, 9}, true)[:HeaderSize]

	for i := MarkerSize; i < HeaderSize; i++ {
		if i >= crcHeaderOffset && i < crcHeaderOffset+4 {
			continue
		}
		for _, flip := range []byte{0x01, 0x80, 0xFF} {
			corrupt := bytes.Clone(wire)
			corrupt[i] ^= flip

			var got Header
			if err := got.UnmarshalBinary(corrupt); err != nil {
				t.Fatalf("byte %d: UnmarshalBinary: %v", i, err)
			}
			var crcErr *CRCError
			if err := got.VerifyHeader(); !errors.As(err, &crcErr) {
				t.Errorf("byte %d flip 0x%02X: VerifyHeader() = %v, want CRCError", i, flip, err)
			}
		}
	}
}

func TestHeaderUnmarshalRejectsBadMarker(t *testing.T) {
	wire := Encode(Header{Marker: MarkerPacket}, nil, true)
	wire[2] = 'X'
	var h Header
	if err := h.UnmarshalBinary(wire); !errors.Is(err, ErrBadMarker) {
		t.Errorf("UnmarshalBinary() = %v, want ErrBadMarker", err)
	}
}

func TestIsMarkerPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"N", true},
		{"NF", true},
		{"NFD", true},
		{"NFP", true},
		{"NFX", false},
		{"X", false},
		{"NFDBGV1\x00", true},
		{"NFPKTV1\x00more", true},
		{"NFPKTV1\x01", false},
	}
	for _, tt := range tests {
		if got := IsMarkerPrefix([]byte(tt.in)); got != tt.want {
			t.Errorf("IsMarkerPrefix(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFlagsString(t *testing.T) {
	tests := []struct {
		f    Flags
		want string
	}{
		{0, "none"},
		{FlagReply, "Reply"},
		{FlagACK | FlagReply, "ACK|Reply"},
		{FlagNACK | FlagBadHeader, "NACK|BadHeader"},
	}
	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("Flags(0x%X).String() = %q, want %q", uint32(tt.f), got, tt.want)
		}
	}
}

func TestSeqCounterIncrements(t *testing.T) {
	c := NewSeqCounter()
	prev := c.Next()
	for i := 0; i < 1000; i++ {
		n := c.Next()
		if n != prev+1 {
			t.Fatalf("Next() = %d after %d", n, prev)
		}
		prev = n
	}
}
