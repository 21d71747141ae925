package rtree

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-rootio/rootio/internal/rbytes"
	"github.com/go-rootio/rootio/internal/riofs"
	"github.com/go-rootio/rootio/internal/rmeta"
)

const maxBranchVersion = 13

// legacyBasketSeekFraming is the framing byte value ahead of the basket-seek
// table that marks it as a table of 64-bit seeks; any other value means a
// table of 32-bit seeks. The rule is applied at every TBranch version.
const legacyBasketSeekFraming = 2

// Branch is a decoded TBranch or TBranchElement (§4.8): per-entry layout
// plus the three truncated basket tables the basket engine walks.
type Branch struct {
	Name      string
	ClassName string // non-empty only for TBranchElement
	entries   int64

	WriteBasket int32
	MaxBaskets  int32

	BasketBytes []int32 // on-disk compressed size of each basket, truncated to WriteBasket
	BasketEntry []int64 // first entry number of each basket, length WriteBasket+1
	BasketSeek  []int64 // file seek of each basket, truncated to WriteBasket

	// EmbeddedBasket holds a basket's raw bytes when the branch record
	// carries one directly rather than purely by file seek (§4.8, last
	// bullet). Yielded first by the basket engine ahead of on-disk baskets.
	EmbeddedBasket []byte

	Leaves []Leaf

	// SubBranches holds recursively-decoded child branches (TBranchElement
	// splitting); reachable by dotted name via Tree.Branch, e.g.
	// "Muon.pt" for a sub-branch "pt" of top-level branch "Muon".
	SubBranches []*Branch

	file *riofs.File
}

// decodeBranch parses a single TBranch/TBranchElement record starting at a
// class tag already consumed by the caller (branch list dispatch, §4.7).
func decodeBranch(r *rbytes.Buffer, class string, hdr rbytes.Header, file *riofs.File, catalog *rmeta.Catalog) (*Branch, error) {
	if err := rbytes.EnsureMaximumSupportedVersion(class, hdr.Vers, maxBranchVersion); err != nil {
		return nil, err
	}

	name, _, err := rbytes.ReadTNamed(r)
	if err != nil {
		return nil, fmt.Errorf("rtree: %s name: %w", class, err)
	}

	b := &Branch{Name: name, file: file}

	if hdr.Vers > 7 {
		if err := skipBaseClass(r, "TAttFill"); err != nil {
			return nil, err
		}
	}

	if class == "TBranchElement" {
		className, err := r.ReadString()
		if err != nil {
			return nil, err
		}
		b.ClassName = className
		// fParentName, fClassName checksum/version and friends vary by
		// version; they describe how to reinterpret composite payloads via
		// the streamer catalog and are not needed to walk baskets.
		if _, err := r.ReadI32(); err != nil { // fID or fType depending on version
			return nil, err
		}
	}

	if _, err := r.ReadI32(); err != nil { // fCompress
		return nil, err
	}
	if _, err := r.ReadI32(); err != nil { // fBasketSize
		return nil, err
	}
	if _, err := r.ReadI32(); err != nil { // fEntryOffsetLen
		return nil, err
	}
	writeBasket, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	b.WriteBasket = writeBasket

	if _, err := readVersionedEntryNumber(r, hdr.Vers); err != nil { // fEntryNumber
		return nil, fmt.Errorf("rtree: %s fEntryNumber: %w", class, err)
	}

	if hdr.Vers >= 13 {
		if _, err := r.ReadU8(); err != nil { // TIOFeatures framing byte
			return nil, err
		}
		if _, err := r.ReadU8(); err != nil { // fIOBits
			return nil, err
		}
	}

	if _, err := r.ReadI32(); err != nil { // fOffset
		return nil, err
	}
	maxBaskets, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	b.MaxBaskets = maxBaskets

	if hdr.Vers > 6 {
		if _, err := r.ReadI32(); err != nil { // fSplitLevel
			return nil, err
		}
	}

	entries, err := readVersionedCount(r, hdr.Vers)
	if err != nil {
		return nil, fmt.Errorf("rtree: %s fEntries: %w", class, err)
	}
	b.entries = entries

	if hdr.Vers >= 11 {
		if _, err := r.ReadI64(); err != nil { // fFirstEntry
			return nil, err
		}
	}

	if _, err := readVersionedCount(r, hdr.Vers); err != nil { // fTotBytes
		return nil, err
	}
	if _, err := readVersionedCount(r, hdr.Vers); err != nil { // fZipBytes
		return nil, err
	}

	// fBranches: sub-branches (TBranchElement splitting); a leaf branch has
	// none, but the array is always present and must be consumed.
	subBranches, err := decodeBranchArray(r, file, catalog)
	if err != nil {
		return nil, fmt.Errorf("rtree: %s fBranches: %w", class, err)
	}
	b.SubBranches = subBranches

	leaves, err := decodeLeafArray(r)
	if err != nil {
		return nil, fmt.Errorf("rtree: %s fLeaves: %w", class, err)
	}
	b.Leaves = leaves

	// fBaskets: in-memory basket cache, empty on a freshly opened file; a
	// non-empty array means at least one basket is embedded in the record
	// rather than referenced purely by seek.
	embedded, err := readBasketsArray(r)
	if err != nil {
		return nil, fmt.Errorf("rtree: %s fBaskets: %w", class, err)
	}
	b.EmbeddedBasket = embedded

	if err := b.readBasketTables(r, maxBaskets, writeBasket, hdr.Vers); err != nil {
		return nil, err
	}

	return b, r.CheckHeader(hdr)
}

// Entries returns the branch's entry count.
func (b *Branch) Entries() int64 { return b.entries }

var (
	reTitleHasDims  = regexp.MustCompile(`^([^\[\]]*)(\[[^\[\]]+\])+`)
	reItemDimDigits = regexp.MustCompile(`\[([1-9][0-9]*)\]`)
)

// ItemTypeName reports the C++-flavored element type of a single-leaf
// branch, e.g. "float[5]" or "int32_t[]" for a variable-length leaf, matching
// oxyroot's item_type_name. Branches with more than one leaf report
// "unknown", mirroring the original's behavior for split composite records.
func (b *Branch) ItemTypeName() string {
	if len(b.Leaves) != 1 {
		return "unknown"
	}
	leaf := b.Leaves[0]
	typeName := leaf.TypeName
	if typeName == "" {
		return "unknown"
	}
	if !reTitleHasDims.MatchString(leaf.Title) {
		return typeName
	}
	m := reItemDimDigits.FindStringSubmatch(leaf.Title)
	if m == nil {
		return typeName + "[]"
	}
	dim, err := strconv.Atoi(m[1])
	if err != nil || dim <= 0 {
		return typeName + "[]"
	}
	return fmt.Sprintf("%s[%d]", typeName, dim)
}

// readVersionedCount reads fEntries/fTotBytes/fZipBytes-shaped fields:
// f64 for versions 6..9, i64 for versions >= 10 (§4.8).
func readVersionedCount(r *rbytes.Buffer, vers int16) (int64, error) {
	if vers < 10 {
		v, err := r.ReadF64()
		return int64(v), err
	}
	return r.ReadI64()
}

// readVersionedEntryNumber reads fEntryNumber, which unlike the other
// versioned counts is an i32 (not f64) for versions 6..9, and an i64 for
// versions >= 10.
func readVersionedEntryNumber(r *rbytes.Buffer, vers int16) (int64, error) {
	if vers < 10 {
		v, err := r.ReadI32()
		return int64(v), err
	}
	return r.ReadI64()
}

// readBasketTableI32 reads an i32 basket table (fBasketBytes): a framing byte,
// whose value is not inspected, followed by n big-endian i32 elements.
func readBasketTableI32(r *rbytes.Buffer, n int32) ([]int32, error) {
	if _, err := r.ReadU8(); err != nil {
		return nil, err
	}
	out := make([]int32, n)
	if err := r.ReadFastArrayI32(out); err != nil {
		return nil, err
	}
	return out, nil
}

func readBasketTableI64(r *rbytes.Buffer, n int32, framing uint8) ([]int64, error) {
	out := make([]int64, n)
	if framing == legacyBasketSeekFraming {
		if err := r.ReadFastArrayI64(out); err != nil {
			return nil, err
		}
		return out, nil
	}
	for i := range out {
		v, err := r.ReadI32()
		if err != nil {
			return nil, err
		}
		out[i] = int64(v)
	}
	return out, nil
}

// readBasketTables decodes fBasketBytes, fBasketEntry and fBasketSeek and
// truncates each to its significant prefix (§4.8, first bullet).
func (b *Branch) readBasketTables(r *rbytes.Buffer, maxBaskets, writeBasket int32, vers int16) error {
	basketBytes, err := readBasketTableI32(r, maxBaskets)
	if err != nil {
		return fmt.Errorf("rtree: fBasketBytes: %w", err)
	}

	if _, err := r.ReadU8(); err != nil { // fBasketEntry framing byte
		return err
	}
	basketEntry := make([]int64, maxBaskets)
	if err := r.ReadFastArrayI64(basketEntry); err != nil {
		return fmt.Errorf("rtree: fBasketEntry: %w", err)
	}

	seekFraming, err := r.ReadU8()
	if err != nil {
		return err
	}
	basketSeek, err := readBasketTableI64(r, maxBaskets, seekFraming)
	if err != nil {
		return fmt.Errorf("rtree: fBasketSeek: %w", err)
	}

	if writeBasket > maxBaskets {
		writeBasket = maxBaskets
	}
	b.BasketBytes = basketBytes[:writeBasket]
	b.BasketSeek = basketSeek[:writeBasket]
	if int(writeBasket)+1 <= len(basketEntry) {
		b.BasketEntry = basketEntry[:writeBasket+1]
	} else {
		b.BasketEntry = basketEntry
	}
	_ = vers
	return nil
}

// readBasketsArray consumes fBaskets (TObjArray of TBasket*) and returns the
// raw bytes of the first embedded basket, if any slot is non-null.
func readBasketsArray(r *rbytes.Buffer) ([]byte, error) {
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		return nil, err
	}
	if class == "" {
		return nil, nil
	}
	if err := rbytes.SkipTObjectAndName(r); err != nil {
		return nil, err
	}
	n, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadI32(); err != nil { // fLowerBound
		return nil, err
	}

	var embedded []byte
	for i := int32(0); i < n; i++ {
		present, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		if !present {
			continue
		}
		basketClass, basketHdr, err := rbytes.ClassTag(r)
		if err != nil {
			return nil, err
		}
		raw, err := r.ReadBytes(int64(basketHdr.ByteCount))
		if err != nil {
			return nil, err
		}
		if embedded == nil {
			embedded = raw
		}
		_ = basketClass
	}
	return embedded, r.CheckHeader(hdr)
}
