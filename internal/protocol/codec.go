package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ByteOrder is what the payload codecs need from an encoding/binary order.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// Writer appends payload fields in the session byte order.
type Writer struct {
	order ByteOrder
	buf   []byte
}

// NewWriter returns a Writer using order.
func NewWriter(order ByteOrder) *Writer {
	return &Writer{order: order}
}

func (w *Writer) U8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) U16(v uint16) { w.buf = w.order.AppendUint16(w.buf, v) }
func (w *Writer) U32(v uint32) { w.buf = w.order.AppendUint32(w.buf, v) }
func (w *Writer) U64(v uint64) { w.buf = w.order.AppendUint64(w.buf, v) }

// Raw appends b as-is.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// String writes s into a fixed n-byte field, NUL padded and truncated if needed.
func (w *Writer) String(s string, n int) {
	field := make([]byte, n)
	copy(field, s)
	w.buf = append(w.buf, field...)
}

// Bytes returns the encoded payload.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes payload fields. The first short read is sticky: every later
// call returns zero values and Err reports the failure.
type Reader struct {
	order ByteOrder
	b     []byte
	off   int
	err   error
}

// NewReader returns a Reader over b using order.
func NewReader(b []byte, order ByteOrder) *Reader {
	return &Reader{order: order, b: b}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.b) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortPayload, n, r.off, len(r.b))
		return nil
	}
	p := r.b[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) U8() uint8 {
	if p := r.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (r *Reader) U16() uint16 {
	if p := r.take(2); p != nil {
		return r.order.Uint16(p)
	}
	return 0
}

func (r *Reader) U32() uint32 {
	if p := r.take(4); p != nil {
		return r.order.Uint32(p)
	}
	return 0
}

func (r *Reader) U64() uint64 {
	if p := r.take(8); p != nil {
		return r.order.Uint64(p)
	}
	return 0
}

// Raw returns a copy of the next n bytes.
func (r *Reader) Raw(n int) []byte {
	p := r.take(n)
	if p == nil {
		return nil
	}
	return bytes.Clone(p)
}

// Rest returns a copy of all unread bytes.
func (r *Reader) Rest() []byte {
	return r.Raw(r.Remaining())
}

// String reads a fixed n-byte NUL padded field.
func (r *Reader) String(n int) string {
	p := r.take(n)
	if i := bytes.IndexByte(p, 0); i >= 0 {
		p = p[:i]
	}
	return string(p)
}

// Remaining is the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.err != nil {
		return 0
	}
	return len(r.b) - r.off
}

func (r *Reader) Err() error { return r.err }
