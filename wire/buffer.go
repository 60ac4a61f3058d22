package wire

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// encBuf is a small append-only byte builder used to assemble one message
// payload before handing it to WriteFrame. Reused across messages by the
// Encoder so a sync of many small files doesn't allocate one buffer apiece.
type encBuf struct {
	b []byte
}

func (e *encBuf) reset() { e.b = e.b[:0] }

func (e *encBuf) bytes() []byte { return e.b }

func (e *encBuf) u8(v uint8) { e.b = append(e.b, v) }

func (e *encBuf) u16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encBuf) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encBuf) u64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
}

func (e *encBuf) i64(v int64) { e.u64(uint64(v)) }

// str appends a 16-bit length-prefixed UTF-8 string.
func (e *encBuf) str(s string) {
	e.u16(uint16(len(s)))
	e.b = append(e.b, s...)
}

// raw appends a 32-bit length-prefixed byte slice.
func (e *encBuf) raw(p []byte) {
	e.u32(uint32(len(p)))
	e.b = append(e.b, p...)
}

// decBuf is a cursor over a received payload, used to pull fields back out
// in the same order encBuf wrote them. All decode helpers return
// ErrTruncatedFrame on underrun so a malformed payload is always reported
// through the same fatal-error path as a short frame header.
type decBuf struct {
	b   []byte
	pos int
}

func newDecBuf(b []byte) *decBuf { return &decBuf{b: b} }

func (d *decBuf) remaining() []byte { return d.b[d.pos:] }

func (d *decBuf) need(n int) error {
	if len(d.b)-d.pos < n {
		return ErrTruncatedFrame
	}
	return nil
}

func (d *decBuf) u8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.b[d.pos]
	d.pos++
	return v, nil
}

func (d *decBuf) u16() (uint16, error) {
	if err := d.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(d.b[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *decBuf) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.b[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decBuf) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.b[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decBuf) i64() (int64, error) {
	v, err := d.u64()
	return int64(v), err
}

func (d *decBuf) str() (string, error) {
	n, err := d.u16()
	if err != nil {
		return "", err
	}
	if err := d.need(int(n)); err != nil {
		return "", err
	}
	s := d.b[d.pos : d.pos+int(n)]
	d.pos += int(n)
	if !utf8.Valid(s) {
		return "", ErrInvalidString
	}
	return string(s), nil
}

func (d *decBuf) raw() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if n > MaxFrameSize {
		return nil, errors.Wrapf(ErrInvalidLength, "raw field of %d bytes", n)
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.b[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

// done reports whether every byte of the payload was consumed. A decoder
// that leaves bytes unread almost always means the message definitions on
// each end of the wire have drifted; callers treat it as a protocol error.
func (d *decBuf) done() bool { return d.pos == len(d.b) }
