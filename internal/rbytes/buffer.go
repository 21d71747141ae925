package rbytes

import (
	"encoding/binary"
	"math"
)

// Buffer is a cursor over an in-memory ROOT object payload. All multi-byte
// integers on disk are big-endian; Buffer never does partial reads — a read
// either fully succeeds or returns ErrTruncated, leaving pos unspecified.
type Buffer struct {
	data []byte
	pos  int64
	base int64

	tags *tagTable
}

// NewBuffer wraps b for reading. base is the absolute file offset that
// corresponds to data[0]; it lets Pos() double as an object-reference key
// that is stable across nested sub-slices of the same key payload.
func NewBuffer(b []byte, base int64) *Buffer {
	return &Buffer{data: b, tags: newTagTable(), pos: 0, base: base}
}

func (r *Buffer) remaining() int64 { return int64(len(r.data)) - r.pos }

// Pos returns the buffer's current absolute position (base + cursor).
func (r *Buffer) Pos() int64 { return r.base + r.pos }

// Len returns the total number of bytes in the buffer.
func (r *Buffer) Len() int64 { return int64(len(r.data)) }

// Skip advances the cursor by n bytes without interpreting them.
func (r *Buffer) Skip(n int64) error {
	if r.remaining() < n {
		return ErrTruncated
	}
	r.pos += n
	return nil
}

// SetPos moves the cursor to an absolute position relative to base.
// ReadHeader does not call it: back-references are resolved from the tag
// table without moving the cursor.
func (r *Buffer) SetPos(p int64) { r.pos = p - r.base }

func (r *Buffer) bytes(n int64) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Buffer) ReadU8() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Buffer) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Buffer) ReadBool() (bool, error) {
	v, err := r.ReadU8()
	return v != 0, err
}

func (r *Buffer) ReadU16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *Buffer) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Buffer) ReadU32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *Buffer) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Buffer) ReadU64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (r *Buffer) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Buffer) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

func (r *Buffer) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

// ReadString reads a length-prefixed byte string: a single length byte,
// escaping to a 4-byte big-endian length when that byte is 255.
func (r *Buffer) ReadString() (string, error) {
	n, err := r.ReadU8()
	if err != nil {
		return "", err
	}
	size := int64(n)
	if n == 255 {
		u32, err := r.ReadU32()
		if err != nil {
			return "", err
		}
		size = int64(u32)
	}
	if size == 0 {
		return "", nil
	}
	b, err := r.bytes(size)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadFastArrayI32 fills dst with len(dst) big-endian i32 values.
func (r *Buffer) ReadFastArrayI32(dst []int32) error {
	for i := range dst {
		v, err := r.ReadI32()
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// ReadFastArrayI64 fills dst with len(dst) big-endian i64 values.
func (r *Buffer) ReadFastArrayI64(dst []int64) error {
	for i := range dst {
		v, err := r.ReadI64()
		if err != nil {
			return err
		}
		dst[i] = v
	}
	return nil
}

// ReadBytes returns the next n raw bytes without interpretation.
func (r *Buffer) ReadBytes(n int64) ([]byte, error) {
	return r.bytes(n)
}
