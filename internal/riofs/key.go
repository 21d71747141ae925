package riofs

import (
	"github.com/go-rootio/rootio/internal/rbytes"
)

// Key is a decoded TKey record: the directory-entry envelope around every
// object persisted in a ROOT file (§4.5).
type Key struct {
	NbytesKey int32 // total size of the key record, header + payload, on disk
	Version   int16
	ObjLen    int // uncompressed payload size
	KeyLen    int16
	Cycle     int16
	SeekKey   int64
	SeekPdir  int64
	ClassName string
	Name      string
	Title     string
}

// NbytesObj returns the total number of bytes occupied by the key on disk
// (header + compressed payload), the span a caller must pread starting at
// SeekKey to retrieve objectBytes' raw input.
func (k Key) NbytesObj() int { return int(k.NbytesKey) }

// readKeyAt reads and decodes the TKey record beginning at the absolute
// offset seek.
func (f *File) readKeyAt(seek int64) (Key, error) {
	// A key's own header never exceeds a few hundred bytes; read generously
	// and let decodeKey stop at the true boundary.
	raw := make([]byte, 1024)
	n, err := f.h.ReadAt(raw, seek)
	if n == 0 {
		return Key{}, err
	}
	raw = raw[:n]

	r := rbytes.NewBuffer(raw, seek)
	return decodeKey(r)
}

// DecodeKey exposes decodeKey to other components (the basket engine reads a
// TBasket's embedded Key fields directly off its own buffer, since TBasket is
// a TKey subclass on disk).
func DecodeKey(r *rbytes.Buffer) (Key, error) { return decodeKey(r) }

// decodeKey parses a TKey starting at r's current position. Unlike
// versioned objects elsewhere in the format, TKey is not wrapped in the
// byte-count/version Header scheme (§4.2) — it has always had a fixed
// leading layout of its own, present since the format's earliest versions.
func decodeKey(r *rbytes.Buffer) (Key, error) {
	start := r.Pos()

	nbytes, err := r.ReadI32()
	if err != nil {
		return Key{}, err
	}
	vers, err := r.ReadI16()
	if err != nil {
		return Key{}, err
	}
	objLen, err := r.ReadI32()
	if err != nil {
		return Key{}, err
	}
	if err := r.Skip(4); err != nil { // fDatime
		return Key{}, err
	}
	keyLen, err := r.ReadI16()
	if err != nil {
		return Key{}, err
	}
	cycle, err := r.ReadI16()
	if err != nil {
		return Key{}, err
	}

	large := vers > 1000
	readSeek := func() (int64, error) {
		if large {
			return r.ReadI64()
		}
		v, err := r.ReadI32()
		return int64(v), err
	}
	seekKey, err := readSeek()
	if err != nil {
		return Key{}, err
	}
	seekPdir, err := readSeek()
	if err != nil {
		return Key{}, err
	}

	className, err := r.ReadString()
	if err != nil {
		return Key{}, err
	}
	name, err := r.ReadString()
	if err != nil {
		return Key{}, err
	}
	title, err := r.ReadString()
	if err != nil {
		return Key{}, err
	}

	if seekKey == 0 {
		seekKey = start
	}

	return Key{
		NbytesKey: nbytes,
		Version:   vers % 1000,
		ObjLen:    int(objLen),
		KeyLen:    keyLen,
		Cycle:     cycle,
		SeekKey:   seekKey,
		SeekPdir:  seekPdir,
		ClassName: className,
		Name:      name,
		Title:     title,
	}, nil
}
