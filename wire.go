package branchscript

import (
	"encoding/binary"
	"fmt"
	"math"
)

// binWriter is a minimal bounds-free byte-buffer builder used by the
// story and save-state emitters, in place of a schema-compiler
// dependency: the wire format here is small and entirely internal to
// this module.
type binWriter struct {
	buf []byte
}

func (w *binWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *binWriter) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *binWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *binWriter) i32(v int32) { w.u32(uint32(v)) }

func (w *binWriter) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *binWriter) bytes(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *binWriter) str(s string) { w.bytes([]byte(s)) }

// binReader is the bounds-checked counterpart: every read validates
// there's enough buffer left and returns ErrInvalidStory-flavored
// errors otherwise, so the loader rejects a buffer unless every offset,
// vector bound, and union discriminant is internally consistent.
type binReader struct {
	buf []byte
	pos int
}

func newBinReader(buf []byte) *binReader { return &binReader{buf: buf} }

func (r *binReader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("unexpected end of buffer at offset %d wanting %d bytes", r.pos, n)
	}
	return nil
}

func (r *binReader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *binReader) boolean() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *binReader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *binReader) i32() (int32, error) {
	v, err := r.u32()
	return int32(v), err
}

func (r *binReader) f32() (float32, error) {
	v, err := r.u32()
	return math.Float32frombits(v), err
}

// maxVectorLen guards against a corrupted or malicious length prefix
// driving an unbounded allocation during verification.
const maxVectorLen = 1 << 24

func (r *binReader) count() (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if n > maxVectorLen {
		return 0, fmt.Errorf("vector length %d exceeds sanity bound", n)
	}
	return int(n), nil
}

func (r *binReader) bytesN() ([]byte, error) {
	n, err := r.count()
	if err != nil {
		return nil, err
	}
	if err := r.need(n); err != nil {
		return nil, err
	}
	v := r.buf[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *binReader) str() (string, error) {
	b, err := r.bytesN()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *binReader) atEnd() bool { return r.pos >= len(r.buf) }
