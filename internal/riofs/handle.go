package riofs

import (
	"io"
	"os"
)

// Handle is a cheap, cloneable, position-less reader over the underlying
// file. All reads are absolute (pread-style); Handle never exposes a
// seek-stateful view across component boundaries (design note §9). The
// zero value is not usable; construct with openHandle.
type Handle struct {
	ra   io.ReaderAt
	size int64
	// closer is nil for clones — only the original owns the OS resource.
	closer io.Closer
}

// openHandle opens path and, where possible, backs it with a memory-mapped
// ReaderAt (see mmap_unix.go); portable platforms fall back to *os.File,
// whose ReadAt is already safe for concurrent use.
func openHandle(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()

	if ra, closer, ok := tryMmap(f, size); ok {
		return &Handle{ra: ra, size: size, closer: closer}, nil
	}
	return &Handle{ra: f, size: size, closer: f}, nil
}

// wrapHandle adapts a caller-supplied io.ReaderAt (e.g. an in-memory buffer
// or a network-backed range reader) without taking ownership of a file
// descriptor. Used by OpenReaderAt.
func wrapHandle(ra io.ReaderAt, size int64) *Handle {
	return &Handle{ra: ra, size: size}
}

// Clone returns an independent handle sharing the same underlying storage.
// The clone does not own the close lifecycle: only the File that opened the
// original Handle may close it.
func (h *Handle) Clone() *Handle {
	return &Handle{ra: h.ra, size: h.size}
}

func (h *Handle) Size() int64 { return h.size }

func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.ra.ReadAt(p, off)
}

func (h *Handle) Close() error {
	if h.closer == nil {
		return nil
	}
	return h.closer.Close()
}
