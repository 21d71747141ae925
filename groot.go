// Package groot is the public surface of a ROOT TTree/TBranch decoding
// library: opening files, locating trees, and iterating branch data without
// depending on the C++ ROOT runtime.
package groot

import (
	"fmt"
	"io"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/go-rootio/rootio/internal/riofs"
	"github.com/go-rootio/rootio/internal/rmeta"
	"github.com/go-rootio/rootio/internal/rtree"
)

// Slice is the variable-length record type requested from Iterate for a
// non-fixed-width column.
type Slice[T any] = rtree.Slice[T]

// Iter is a lazy, single-pass, forward-only sequence of decoded branch
// values. Construct with Iterate.
type Iter[T any] = rtree.Iter[T]

// Branch is a decoded TBranch/TBranchElement: its entry count, leaf layout
// and basket tables.
type Branch = rtree.Branch

// Error wraps every error returned by this package's functions and methods,
// recording in Op which operation failed. Errors from the underlying
// io.ReaderAt are wrapped the same way; Unwrap exposes the original error.
type Error struct {
	Op  string
	err error
}

func (e *Error) Error() string { return fmt.Sprintf("groot: %s: %v", e.Op, e.err) }
func (e *Error) Unwrap() error { return e.err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, err: err}
}

// File is an open ROOT file plus its streamer-info catalog, decoded when the
// file is opened.
type File struct {
	f       *riofs.File
	catalog *rmeta.Catalog
}

// Open opens the file at path for random-access reading.
func Open(path string) (*File, error) {
	f, err := riofs.Open(path)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	return newFile(f)
}

// OpenReaderAt opens a file whose bytes are served by an arbitrary
// io.ReaderAt (a network range reader, an in-memory buffer, anything)
// rather than a local path.
func OpenReaderAt(ra io.ReaderAt, size int64) (*File, error) {
	f, err := riofs.OpenReaderAt(ra, size)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	return newFile(f)
}

func newFile(f *riofs.File) (*File, error) {
	payload, err := f.StreamerInfoBytes()
	if err != nil {
		f.Close()
		return nil, wrapErr("streamer info", err)
	}
	catalog, err := rmeta.NewCatalog(payload)
	if err != nil {
		f.Close()
		return nil, wrapErr("streamer info", err)
	}
	return &File{f: f, catalog: catalog}, nil
}

// Close releases the file's underlying handle.
func (file *File) Close() error { return file.f.Close() }

// Tree decodes and returns the TTree named name (optionally ";cycle"
// suffixed).
func (file *File) Tree(name string) (*Tree, error) {
	t, err := rtree.Open(file.f, name, file.catalog)
	if err != nil {
		return nil, wrapErr("tree", err)
	}
	return &Tree{t: t}, nil
}

// Tree is a decoded TTree: its entry count and the flattened set of
// branches reachable from it.
type Tree struct {
	t *rtree.Tree
}

// Entries returns the tree's total entry count.
func (t *Tree) Entries() int64 { return t.t.Entries() }

// Branches returns every branch in the tree, top-level and nested, in the
// order they were decoded.
func (t *Tree) Branches() []*Branch {
	var out []*Branch
	var walk func(bs []*Branch)
	walk = func(bs []*Branch) {
		for _, b := range bs {
			out = append(out, b)
			walk(b.SubBranches)
		}
	}
	walk(t.t.Branches)
	return out
}

// Branch looks up a branch by dotted name (e.g. "Muon.pt") or by its bare
// name; when several branches share a bare name, a top-level branch of that
// name wins, otherwise the first one decoded.
func (t *Tree) Branch(name string) (*Branch, error) {
	b, ok := t.t.Branch(name)
	if !ok {
		return nil, wrapErr("branch", fmt.Errorf("no such branch: %q", name))
	}
	return b, nil
}

// BranchesMatching returns every branch (top-level and nested) whose dotted
// name matches the doublestar glob pattern.
func (t *Tree) BranchesMatching(pattern string) ([]*Branch, error) {
	var out []*Branch
	for _, b := range t.t.Branches {
		if err := collectMatching(pattern, "", b, &out); err != nil {
			return nil, wrapErr("branches matching", err)
		}
	}
	return out, nil
}

func collectMatching(pattern, prefix string, b *Branch, out *[]*Branch) error {
	dotted := b.Name
	if prefix != "" {
		dotted = prefix + "." + b.Name
	}
	ok, err := doublestar.Match(pattern, dotted)
	if err != nil {
		return err
	}
	if ok {
		*out = append(*out, b)
	}
	for _, sub := range b.SubBranches {
		if err := collectMatching(pattern, dotted, sub, out); err != nil {
			return err
		}
	}
	return nil
}

// Iterate constructs a typed iterator over b's decoded records. T must be a
// scalar numeric/bool type, a fixed-size array of one, Slice[E] of one, or
// string; any other shape (or one incompatible with the branch's actual
// layout) returns an error.
func Iterate[T any](b *Branch) (*Iter[T], error) {
	it, err := rtree.NewIter[T](b)
	if err != nil {
		return nil, wrapErr("iterate", err)
	}
	return it, nil
}
