// Package riofs implements the File Reader component: parsing the on-disk
// file header, the top directory, and the key index, and serving decoded
// object payloads by name (spec §4.5).
package riofs

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-rootio/rootio/internal/rbasketcache"
	"github.com/go-rootio/rootio/internal/rbytes"
	"github.com/go-rootio/rootio/internal/rcompress"
)

// largeFileVersion is the threshold at which seek fields on disk widen from
// 4 bytes to 8 bytes (§4.5).
const largeFileVersion = 1_000_000

var magic = [4]byte{'r', 'o', 'o', 't'}

// ErrFormat is returned when the leading magic bytes do not read "root".
var ErrFormat = errors.New("riofs: not a ROOT file")

// ErrKeyNotFound is wrapped into KeyNotFoundError and returned by GetObject
// when no key matches the requested name/cycle.
var ErrKeyNotFound = errors.New("riofs: key not found")

// KeyNotFoundError names the object that could not be located.
type KeyNotFoundError struct {
	Name  string
	Cycle int16
}

func (e *KeyNotFoundError) Error() string {
	if e.Cycle >= 0 {
		return fmt.Sprintf("riofs: key %q;%d not found", e.Name, e.Cycle)
	}
	return fmt.Sprintf("riofs: key %q not found", e.Name)
}

func (e *KeyNotFoundError) Unwrap() error { return ErrKeyNotFound }

// header holds the fixed-offset fields of the 64-byte (or wider, for
// version >= largeFileVersion) file header.
type header struct {
	version     int32
	begin       int64
	end         int64
	seekFree    int64
	nbytesFree  int32
	nfree       int32
	nbytesName  int32
	units       int8
	compress    int32
	seekInfo    int64
	nbytesInfo  int32
	seekDir     int64 // seek to the top TDirectory, always fBEGIN
	uuid        [18]byte
}

// File is an open ROOT file: the decoded header plus an index of every key
// in the top directory, keyed by (name, cycle).
type File struct {
	h       *Handle
	hdr     header
	keys    []Key
	byName  map[string][]int // name -> indices into keys, in key-list order
	compAlg rcompress.Algo
	cache   *rbasketcache.Cache
}

// Open opens the file at path for random-access reading, attaching a basket
// cache of default capacity.
func Open(path string) (*File, error) {
	return OpenWithCache(path, rbasketcache.New(0))
}

// OpenWithCache opens the file at path, attaching cache as its decompressed
// basket cache. A nil cache disables basket caching entirely (§4.11).
func OpenWithCache(path string, cache *rbasketcache.Cache) (*File, error) {
	h, err := openHandle(path)
	if err != nil {
		return nil, err
	}
	f, err := newFile(h, cache)
	if err != nil {
		h.Close()
		return nil, err
	}
	return f, nil
}

// OpenReaderAt opens a file whose bytes are already available through an
// arbitrary io.ReaderAt (an in-memory buffer, a network range reader, or
// anything else satisfying the interface) rather than a local path,
// attaching a basket cache of default capacity.
func OpenReaderAt(ra io.ReaderAt, size int64) (*File, error) {
	h := wrapHandle(ra, size)
	return newFile(h, rbasketcache.New(0))
}

func newFile(h *Handle, cache *rbasketcache.Cache) (f *File, err error) {
	defer func() {
		if p := recover(); p != nil {
			f, err = nil, fmt.Errorf("riofs: malformed file: %v", p)
		}
	}()
	f = &File{h: h, byName: make(map[string][]int), cache: cache}
	if err := f.readHeader(); err != nil {
		return nil, fmt.Errorf("riofs: reading file header: %w", err)
	}
	if err := f.readKeys(); err != nil {
		return nil, fmt.Errorf("riofs: reading top directory: %w", err)
	}
	return f, nil
}

// Close releases the underlying file handle.
func (f *File) Close() error { return f.h.Close() }

func (f *File) readHeader() error {
	raw := make([]byte, 4)
	if _, err := f.h.ReadAt(raw, 0); err != nil {
		return err
	}
	if [4]byte(raw[:4]) != magic {
		return ErrFormat
	}

	// The header is small enough to read in one shot; 300 bytes comfortably
	// covers the widest (version >= largeFileVersion, 8-byte seek fields)
	// layout including the trailing UUID.
	buf := make([]byte, 300)
	n, err := f.h.ReadAt(buf, 0)
	if n == 0 {
		return err
	}
	buf = buf[:n]

	r := rbytes.NewBuffer(buf, 0)
	if err := r.Skip(4); err != nil { // magic
		return err
	}
	version, err := r.ReadI32()
	if err != nil {
		return err
	}
	large := version >= largeFileVersion

	begin, err := r.ReadI32()
	if err != nil {
		return err
	}

	readSeek := func() (int64, error) {
		if large {
			v, err := r.ReadI64()
			return v, err
		}
		v, err := r.ReadI32()
		return int64(v), err
	}

	end, err := readSeek()
	if err != nil {
		return err
	}
	seekFree, err := readSeek()
	if err != nil {
		return err
	}
	nbytesFree, err := r.ReadI32()
	if err != nil {
		return err
	}
	nfree, err := r.ReadI32()
	if err != nil {
		return err
	}
	nbytesName, err := r.ReadI32()
	if err != nil {
		return err
	}
	units, err := r.ReadI8()
	if err != nil {
		return err
	}
	compress, err := r.ReadI32()
	if err != nil {
		return err
	}
	seekInfo, err := readSeek()
	if err != nil {
		return err
	}
	nbytesInfo, err := r.ReadI32()
	if err != nil {
		return err
	}

	var uuid [18]byte
	if b, err := r.ReadBytes(18); err == nil {
		copy(uuid[:], b)
	}

	f.hdr = header{
		version:    version,
		begin:      int64(begin),
		end:        end,
		seekFree:   seekFree,
		nbytesFree: nbytesFree,
		nfree:      nfree,
		nbytesName: nbytesName,
		units:      units,
		compress:   compress,
		seekInfo:   seekInfo,
		nbytesInfo: nbytesInfo,
		seekDir:    int64(begin),
		uuid:       uuid,
	}
	f.compAlg = compressAlgoFromSetting(compress)
	return nil
}

// compressAlgoFromSetting decodes fCompress's algorithm digit (hundreds
// place, ROOT convention: 0 zlib-legacy/1 zlib/2 lzma-as-xz/4 lz4/5 zstd).
// Baskets still carry their own per-block algorithm tag (§4.4); the result is
// stored on File as the file's declared codec and is not used for decoding.
func compressAlgoFromSetting(compress int32) rcompress.Algo {
	switch compress / 100 {
	case 1:
		return rcompress.AlgoZlib
	case 2:
		return rcompress.AlgoXZ
	case 4:
		return rcompress.AlgoLZ4
	case 5:
		return rcompress.AlgoZstd
	default:
		return rcompress.AlgoZlib
	}
}

// readKeys reads the key at fBEGIN (the top TDirectory's own key, whose
// payload is the TDirectory record naming the key-list seek), then decodes
// the count-prefixed key list that makes up the directory contents.
func (f *File) readKeys() error {
	dirKey, err := f.readKeyAt(f.hdr.begin)
	if err != nil {
		return err
	}
	payload, err := f.objectBytes(dirKey)
	if err != nil {
		return fmt.Errorf("reading top directory payload: %w", err)
	}

	seekKeys, err := decodeDirectoryRecord(payload, f.hdr.version >= largeFileVersion)
	if err != nil {
		return err
	}
	if seekKeys == 0 {
		return nil
	}

	// fSeekKeys points to a TKey whose own payload is the key list: a
	// 4-byte count followed by that many back-to-back TKey entries (each in
	// the same framing decodeKey already understands).
	keysKey, err := f.readKeyAt(seekKeys)
	if err != nil {
		return err
	}
	listBuf, err := f.objectBytes(keysKey)
	if err != nil {
		return fmt.Errorf("reading key list payload: %w", err)
	}

	r := rbytes.NewBuffer(listBuf, 0)
	nkeys, err := r.ReadI32()
	if err != nil {
		return err
	}

	for i := int32(0); i < nkeys; i++ {
		k, err := decodeKey(r)
		if err != nil {
			return fmt.Errorf("reading key %d/%d: %w", i+1, nkeys, err)
		}
		idx := len(f.keys)
		f.keys = append(f.keys, k)
		f.byName[k.Name] = append(f.byName[k.Name], idx)
	}
	return nil
}

// decodeDirectoryRecord extracts fSeekKeys from a decoded
// TDirectory/TDirectoryFile payload. The record begins with a versioned
// header, a modification-date pair, fNbytesKeys/fNbytesName, then the seek
// fields whose width follows the same large-file rule as the outer file
// header.
func decodeDirectoryRecord(payload []byte, large bool) (seekKeys int64, err error) {
	r := rbytes.NewBuffer(payload, 0)
	hdr, err := r.ReadHeader("TDirectory")
	if err != nil {
		return 0, err
	}
	if err := rbytes.EnsureMaximumSupportedVersion("TDirectory", hdr.Vers, 5); err != nil {
		return 0, err
	}
	if err := r.Skip(2 * 4); err != nil { // fDatimeC, fDatimeM (TDatime, 4 bytes each)
		return 0, err
	}
	if _, err := r.ReadI32(); err != nil { // fNbytesKeys
		return 0, err
	}
	if _, err := r.ReadI32(); err != nil { // fNbytesName
		return 0, err
	}
	readSeek := func() (int64, error) {
		if large {
			return r.ReadI64()
		}
		v, err := r.ReadI32()
		return int64(v), err
	}
	if _, err := readSeek(); err != nil { // fSeekDir
		return 0, err
	}
	if _, err := readSeek(); err != nil { // fSeekParent
		return 0, err
	}
	seek, err := readSeek() // fSeekKeys
	if err != nil {
		return 0, err
	}
	return seek, nil
}

// objectBytes reads and, if needed, decompresses a key's payload.
func (f *File) objectBytes(k Key) ([]byte, error) {
	raw := make([]byte, k.NbytesObj())
	if _, err := f.h.ReadAt(raw, k.SeekKey); err != nil {
		return nil, err
	}
	body := raw[k.KeyLen:]
	if k.ObjLen == len(body) {
		return body, nil
	}
	return rcompress.Decompress(body, k.ObjLen)
}

// GetObject looks up name (optionally suffixed with ";cycle") and returns
// its decompressed payload (§4.5).
func (f *File) GetObject(name string) ([]byte, error) {
	k, err := f.lookupKey(name)
	if err != nil {
		return nil, err
	}
	return f.objectBytes(k)
}

func (f *File) lookupKey(name string) (Key, error) {
	base, cycle := splitCycle(name)
	indices, ok := f.byName[base]
	if !ok || len(indices) == 0 {
		return Key{}, &KeyNotFoundError{Name: base, Cycle: cycle}
	}
	if cycle < 0 {
		newest := indices[0]
		for _, idx := range indices[1:] {
			if f.keys[idx].Cycle > f.keys[newest].Cycle {
				newest = idx
			}
		}
		return f.keys[newest], nil
	}
	for _, idx := range indices {
		if f.keys[idx].Cycle == cycle {
			return f.keys[idx], nil
		}
	}
	return Key{}, &KeyNotFoundError{Name: base, Cycle: cycle}
}

func splitCycle(name string) (base string, cycle int16) {
	if i := strings.LastIndexByte(name, ';'); i >= 0 {
		if n, err := strconv.ParseInt(name[i+1:], 10, 16); err == nil {
			return name[:i], int16(n)
		}
	}
	return name, -1
}

// StreamerInfoBytes returns the raw (decompressed) payload of the
// streamer-info key, for consumption by internal/rmeta.
func (f *File) StreamerInfoBytes() ([]byte, error) {
	if f.hdr.seekInfo == 0 {
		return nil, nil
	}
	k, err := f.readKeyAt(f.hdr.seekInfo)
	if err != nil {
		return nil, err
	}
	return f.objectBytes(k)
}

// Get retrieves an object by name and hands the caller a positioned Buffer
// ready for a type-specific decoder.
func (f *File) Get(name string) (*rbytes.Buffer, error) {
	b, err := f.GetObject(name)
	if err != nil {
		return nil, err
	}
	return rbytes.NewBuffer(b, 0), nil
}

// Handle exposes the underlying cloneable reader, so rtree can issue its own
// pread calls for basket payloads without routing through File.
func (f *File) Handle() *Handle { return f.h }

// BasketCache exposes the file's decompressed-basket cache (possibly nil, if
// opened via OpenWithCache(path, nil)) to internal/rtree's basket engine.
func (f *File) BasketCache() *rbasketcache.Cache { return f.cache }
