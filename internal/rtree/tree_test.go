package rtree

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-rootio/rootio/internal/riofs"
	"github.com/go-rootio/rootio/internal/rmeta"
)

// The helpers below hand-assemble a minimal ROOT file byte layout (file
// header, top directory, one TTree with one TBranch/TLeafF and one on-disk
// basket) exercising riofs and rtree together end to end, the way
// internal/riofs/file_test.go's synthFile drives riofs alone. The TTree and
// TBranch records are built at realistic, currently-written version numbers
// (19 and 13 respectively) so the fixture exercises the same field sequence
// a modern ROOT file actually carries: TAttLine/Fill/Marker, the
// fEntries/fFirstEntry split, and the TIOFeatures byte pair.
const byteCountMask = uint32(0x40000000)

func frame(vers int16, body []byte) []byte {
	out := make([]byte, 6+len(body))
	cnt := byteCountMask | uint32(2+len(body))
	binary.BigEndian.PutUint32(out[0:4], cnt)
	binary.BigEndian.PutUint16(out[4:6], uint16(vers))
	copy(out[6:], body)
	return out
}

func str(s string) []byte {
	if len(s) < 255 {
		return append([]byte{byte(len(s))}, s...)
	}
	out := []byte{255, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(out[1:5], uint32(len(s)))
	return append(out, s...)
}

func classTag(class string, framed []byte) []byte {
	return append(str(class), framed...)
}

func tObjectPreamble() []byte {
	b := make([]byte, 10)
	binary.BigEndian.PutUint16(b[0:2], 1) // TObject version
	return b
}

func tNamed(name, title string) []byte {
	body := append(tObjectPreamble(), str(name)...)
	body = append(body, str(title)...)
	return frame(1, body)
}

func i32(v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return b
}

func i16(v int16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

func i64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func f64(v float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(v))
	return b
}

func boolByte(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func emptyClassTag() []byte { return []byte{0} } // zero-length class name string

func objArrayHeader(n int32) []byte {
	body := append(tObjectPreamble(), str("")...) // TObject + fName
	body = append(body, i32(n)...)
	body = append(body, i32(0)...) // fLowerBound
	return body
}

func buildLeafF(name string) []byte {
	body := tNamed(name, "")
	body = append(body, i32(1)...) // fLen
	body = append(body, i32(4)...) // fLenType
	body = append(body, i32(0)...) // fOffset
	body = append(body, boolByte(false)...)
	body = append(body, boolByte(false)...)
	body = append(body, boolByte(false)...) // no fLeafCount
	return classTag("TLeafF", frame(1, body))
}

func buildLeafArray(leaves ...[]byte) []byte {
	body := objArrayHeader(int32(len(leaves)))
	for _, l := range leaves {
		body = append(body, l...)
	}
	return classTag("TObjArray", frame(3, body))
}

// buildBranch assembles one TBranch record (classTag + framed body) at the
// real currently-written version (13: TAttFill, the fEntries/fFirstEntry
// split, and TIOFeatures all present) referencing a single on-disk basket at
// basketSeek spanning basketNbytes bytes, with entries total entries and
// leaf leafBytes.
func buildBranch(name string, entries int64, basketSeek int64, basketNbytes int32, leafBytes []byte) []byte {
	body := tNamed(name, "")
	body = append(body, frame(1, nil)...) // TAttFill base class, empty body
	body = append(body, i32(0)...)        // fCompress
	body = append(body, i32(0)...)        // fBasketSize
	body = append(body, i32(0)...)        // fEntryOffsetLen
	body = append(body, i32(1)...)        // fWriteBasket
	body = append(body, i64(0)...)        // fEntryNumber
	body = append(body, byte(1), byte(0)) // TIOFeatures framing byte + fIOBits
	body = append(body, i32(0)...)        // fOffset
	body = append(body, i32(1)...)        // fMaxBaskets
	body = append(body, i32(0)...)        // fSplitLevel
	body = append(body, i64(entries)...)  // fEntries
	body = append(body, i64(0)...)        // fFirstEntry
	body = append(body, i64(0)...)        // fTotBytes
	body = append(body, i64(0)...)        // fZipBytes
	body = append(body, emptyClassTag()...)  // fBranches: none
	body = append(body, buildLeafArray(leafBytes)...)
	body = append(body, emptyClassTag()...) // fBaskets: no embedded basket

	body = append(body, byte(1)) // fBasketBytes framing
	body = append(body, i32(basketNbytes)...)
	body = append(body, byte(1)) // fBasketEntry framing
	body = append(body, i64(0)...)
	body = append(body, byte(1)) // fBasketSeek framing (not 2: 32-bit table)
	body = append(body, i32(int32(basketSeek))...)

	return classTag("TBranch", frame(maxBranchVersion, body))
}

func buildBranchArray(branches ...[]byte) []byte {
	body := objArrayHeader(int32(len(branches)))
	for _, b := range branches {
		body = append(body, b...)
	}
	return classTag("TObjArray", frame(3, body))
}

// buildTreePayload returns a TTree key payload (the bytes riofs.GetObject
// would hand back for the key holding this tree), at the real
// currently-written version 19: TAttLine/Fill/Marker, the full
// entries/totBytes/zipBytes/savedBytes group, flushedBytes, weight, and the
// timer/scan/update/defaultEntryOffsetLen/nclus fields all present, with
// nclus left at 0 so no cluster-range arrays follow.
func buildTreePayload(entries int64, branchArray []byte) []byte {
	body := tNamed("tree", "")
	body = append(body, frame(1, nil)...) // TAttLine
	body = append(body, frame(1, nil)...) // TAttFill
	body = append(body, frame(1, nil)...) // TAttMarker
	body = append(body, i64(entries)...)  // fEntries
	body = append(body, i64(0)...)        // fTotBytes
	body = append(body, i64(0)...)        // fZipBytes
	body = append(body, i64(0)...)        // fSavedBytes
	body = append(body, i64(0)...)        // fFlushedBytes (vers>=18)
	body = append(body, f64(0)...)        // fWeight (vers>=16)
	body = append(body, i32(0)...)        // fTimerInterval
	body = append(body, i32(0)...)        // fScanField
	body = append(body, i32(0)...)        // fUpdate
	body = append(body, i32(0)...)        // fDefaultEntryOffsetLen (vers>=17)
	body = append(body, i32(0)...)        // fNClusterRange (vers>=19), kept 0
	body = append(body, i64(0)...)        // fMaxEntries
	body = append(body, i64(0)...)        // fMaxEntryLoop
	body = append(body, i64(0)...)        // fMaxVirtualSize
	body = append(body, i64(0)...)        // fAutoSave
	body = append(body, i64(0)...)        // fAutoFlush (vers>=18)
	body = append(body, i64(0)...)        // fEstimate
	body = append(body, branchArray...)
	body = append(body, emptyClassTag()...) // tree-level fLeaves: discarded

	return classTag("TTree", frame(19, body))
}

// buildBasketRecord lays out one on-disk TBasket record (header framing,
// the embedded Key envelope, and the nevBuf/last/reserved/hasOffsets
// fields) immediately followed by nEntries*4 bytes of raw float32 data, and
// returns the full record bytes.
func buildBasketRecord(branchName string, values []float32) []byte {
	keyFixed := make([]byte, 0, 26)
	keyFixed = append(keyFixed, i32(0)...)  // NbytesKey, unused by rtree
	keyFixed = append(keyFixed, i16(4)...)  // version, small-file
	objLenPos := len(keyFixed)
	keyFixed = append(keyFixed, i32(0)...) // placeholder fObjLen
	keyFixed = append(keyFixed, make([]byte, 4)...) // fDatime
	keyLenPos := len(keyFixed)
	keyFixed = append(keyFixed, i16(0)...) // placeholder fKeyLen
	keyFixed = append(keyFixed, i16(1)...) // cycle
	keyFixed = append(keyFixed, i32(0)...) // fSeekKey
	keyFixed = append(keyFixed, i32(0)...) // fSeekPdir

	keyEnv := append(keyFixed, str("TBasket")...)
	keyEnv = append(keyEnv, str(branchName)...)
	keyEnv = append(keyEnv, str("")...)

	keyLen := len(keyEnv)
	binary.BigEndian.PutUint16(keyEnv[keyLenPos:keyLenPos+2], uint16(keyLen))

	dataPayload := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(dataPayload[i*4:], math.Float32bits(v))
	}

	// headerLen (as computed by decodeBasketRecord) is the 6-byte TBasket
	// frame header plus nevBuf/last/reserved/hasOffsets, with the Key
	// envelope's own length cancelling out against key.KeyLen.
	objLen := int32(6 + len(keyEnv) + 4 + 4 + 8 + 1 - keyLen + len(dataPayload))
	binary.BigEndian.PutUint32(keyEnv[objLenPos:objLenPos+4], uint32(objLen))

	basketBody := append([]byte{}, keyEnv...)
	basketBody = append(basketBody, i32(int32(len(values)))...) // nevBuf
	basketBody = append(basketBody, i32(0)...)                  // last
	basketBody = append(basketBody, make([]byte, 8)...)         // fBufferSize, fNevBufSize
	basketBody = append(basketBody, boolByte(false)...)         // no byte-offsets table

	out := frame(1, basketBody)
	out = append(out, dataPayload...)
	return out
}

// buildFile assembles a full in-memory ROOT file byte image: header, top
// directory, key list, the TTree's own key, and the basket's raw bytes at a
// fixed absolute offset.
func buildFile(t *testing.T, treeName string, branchName string, values []float32) []byte {
	t.Helper()

	const begin = int64(100)
	const basketSeek = int64(1000)
	const treeSeek = int64(2000)
	const keysListSeek = int64(3000)

	basket := buildBasketRecord(branchName, values)
	branchBytes := buildBranch(branchName, int64(len(values)), basketSeek, int32(len(basket)), buildLeafF(branchName))
	branchArray := buildBranchArray(branchBytes)
	treePayload := buildTreePayload(int64(len(values)), branchArray)

	buf := make([]byte, 0, 8192)
	grow := func(off int64, b []byte) {
		need := int(off) + len(b)
		if need > len(buf) {
			grown := make([]byte, need)
			copy(grown, buf)
			buf = grown
		}
		copy(buf[off:], b)
	}

	// --- file header ---
	grow(0, []byte("root"))
	grow(4, i32(62200))
	grow(8, i32(int32(begin)))
	grow(12, i32(0)) // fEND
	grow(16, i32(0)) // fSeekFree
	grow(20, i32(0)) // fNbytesFree
	grow(24, i32(1)) // nfree
	grow(28, i32(0)) // fNbytesName
	grow(32, []byte{4})
	grow(33, i32(0)) // fCompress
	grow(37, i32(0)) // fSeekInfo
	grow(41, i32(0)) // fNbytesInfo

	writeKeyHeader := func(off int64, cycle int16, seekKey, seekPdir int32, class, name, title string) int64 {
		grow(off+4, i16(4))
		grow(off+10, make([]byte, 4))
		grow(off+16, i16(cycle))
		grow(off+18, i32(seekKey))
		grow(off+22, i32(seekPdir))
		p := off + 26
		for _, s := range []string{class, name, title} {
			b := str(s)
			grow(p, b)
			p += int64(len(b))
		}
		return p
	}
	writeKey := func(off int64, cycle int16, seekKey, seekPdir int32, class, name, title string, payload []byte) int64 {
		payloadOff := writeKeyHeader(off, cycle, seekKey, seekPdir, class, name, title)
		keyLen := payloadOff - off
		grow(off+14, i16(int16(keyLen)))
		grow(off+6, i32(int32(len(payload))))
		grow(payloadOff, payload)
		end := payloadOff + int64(len(payload))
		grow(off, i32(int32(end-off)))
		return end
	}

	dirPayload := make([]byte, 34)
	binary.BigEndian.PutUint32(dirPayload[0:], byteCountMask|30)
	binary.BigEndian.PutUint16(dirPayload[4:], 5)
	binary.BigEndian.PutUint32(dirPayload[22:], uint32(begin))
	binary.BigEndian.PutUint32(dirPayload[30:], uint32(keysListSeek))
	writeKey(begin, 1, int32(begin), 0, "TFile", "test.root", "", dirPayload)

	writeKey(treeSeek, 1, int32(treeSeek), int32(begin), "TTree", treeName, "", treePayload)

	entryBuf := make([]byte, 0, 64)
	put := func(b []byte) { entryBuf = append(entryBuf, b...) }
	put(i32(0)) // nbytes placeholder, filled below
	put(i16(4))
	put(i32(0)) // objlen placeholder
	put(make([]byte, 4))
	put(i16(0)) // keylen placeholder
	put(i16(1))
	put(i32(int32(treeSeek)))
	put(i32(int32(begin)))
	for _, s := range []string{"TTree", treeName, ""} {
		put(str(s))
	}
	// This list entry is its own self-contained TKey header (no trailing
	// payload bytes of its own): keyLen spans the whole entry.
	keyLen := int16(len(entryBuf))
	binary.BigEndian.PutUint16(entryBuf[14:16], uint16(keyLen))
	binary.BigEndian.PutUint32(entryBuf[6:10], uint32(len(treePayload)))
	// nbytes mirrors the real on-disk key span at treeSeek.
	binary.BigEndian.PutUint32(entryBuf[0:4], uint32(int(keyLen)+len(treePayload)))

	listPayload := make([]byte, 4+len(entryBuf))
	binary.BigEndian.PutUint32(listPayload[0:], 1)
	copy(listPayload[4:], entryBuf)
	writeKey(keysListSeek, 1, int32(keysListSeek), int32(begin), "", "", "", listPayload)

	grow(basketSeek, basket)

	return buf
}

type readerAt struct{ b []byte }

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, r.b[off:])
	return n, nil
}

func openTestFile(t *testing.T, treeName, branchName string, values []float32) (*riofs.File, *rmeta.Catalog) {
	t.Helper()
	data := buildFile(t, treeName, branchName, values)
	rf, err := riofs.OpenReaderAt(readerAt{data}, int64(len(data)))
	if err != nil {
		t.Fatalf("OpenReaderAt: %v", err)
	}
	cat, err := rmeta.NewCatalog(nil)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return rf, cat
}

func TestOpenTreeAndIterateFloats(t *testing.T) {
	values := []float32{1.5, -2.25}
	f, cat := openTestFile(t, "tree", "value", values)
	defer f.Close()

	tr, err := Open(f, "tree", cat)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got, want := tr.Entries(), int64(len(values)); got != want {
		t.Fatalf("Entries() = %d, want %d", got, want)
	}

	b, ok := tr.Branch("value")
	if !ok {
		t.Fatal("Branch(\"value\") not found")
	}
	if got, want := b.Entries(), int64(len(values)); got != want {
		t.Fatalf("Branch.Entries() = %d, want %d", got, want)
	}
	if got, want := b.ItemTypeName(), "float"; got != want {
		t.Fatalf("ItemTypeName() = %q, want %q", got, want)
	}

	it, err := NewIter[float32](b)
	if err != nil {
		t.Fatalf("NewIter: %v", err)
	}
	var got []float32
	for v, err := range it.All() {
		if err != nil {
			t.Fatalf("iteration error: %v", err)
		}
		got = append(got, v)
	}
	if len(got) != len(values) {
		t.Fatalf("got %d values, want %d", len(got), len(values))
	}
	for i := range values {
		if got[i] != values[i] {
			t.Fatalf("value %d = %v, want %v", i, got[i], values[i])
		}
	}
}
