// Package rtree implements the Tree Metadata and Branch Metadata decoders,
// the Basket Engine, and the typed iterator surface (spec §4.7-§4.10).
package rtree

import (
	"errors"
	"fmt"

	"github.com/go-rootio/rootio/internal/rbytes"
	"github.com/go-rootio/rootio/internal/riofs"
	"github.com/go-rootio/rootio/internal/rmeta"
)

const maxTreeVersion = 20
const minTreeVersion = 5

// ErrTreeTooOld is returned for a TTree record older than minTreeVersion,
// whose field layout predates the counters this decoder understands.
var ErrTreeTooOld = errors.New("rtree: tree version too old, not supported")

// Tree is a decoded TTree: its top-level counts plus its top-level branches.
// Nested sub-branches are reached through each Branch's SubBranches; all of
// them are indexed for lookup by Branch.
type Tree struct {
	Name     string
	entries  int64
	Branches []*Branch

	byName map[string]*Branch
}

// Open decodes the TTree record named name (optionally ";cycle"-suffixed)
// out of file, consulting catalog to resolve composite branch layouts.
func Open(file *riofs.File, name string, catalog *rmeta.Catalog) (*Tree, error) {
	payload, err := file.GetObject(name)
	if err != nil {
		return nil, err
	}
	r := rbytes.NewBuffer(payload, 0)
	return decodeTree(r, file, catalog)
}

func decodeTree(r *rbytes.Buffer, file *riofs.File, catalog *rmeta.Catalog) (*Tree, error) {
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		return nil, err
	}
	if class != "TTree" {
		return nil, fmt.Errorf("rtree: expected TTree, got %q", class)
	}
	if err := rbytes.EnsureMaximumSupportedVersion(class, hdr.Vers, maxTreeVersion); err != nil {
		return nil, err
	}

	if _, _, err := rbytes.ReadTNamed(r); err != nil { // base TNamed
		return nil, err
	}
	if err := skipBaseClass(r, "TAttLine"); err != nil {
		return nil, err
	}
	if err := skipBaseClass(r, "TAttFill"); err != nil {
		return nil, err
	}
	if err := skipBaseClass(r, "TAttMarker"); err != nil {
		return nil, err
	}
	if hdr.Vers < minTreeVersion {
		return nil, fmt.Errorf("%w: got version %d", ErrTreeTooOld, hdr.Vers)
	}

	// fEntries, fTotBytes, fZipBytes, fSavedBytes: a 4-field group sharing the
	// same versioned-count shape (i64 for vers>5, f64 for vers<=5).
	readTreeCount := func() (int64, error) {
		if hdr.Vers > 5 {
			return r.ReadI64()
		}
		v, err := r.ReadF64()
		return int64(v), err
	}
	entries, err := readTreeCount()
	if err != nil {
		return nil, fmt.Errorf("rtree: fEntries: %w", err)
	}
	if _, err := readTreeCount(); err != nil { // fTotBytes
		return nil, err
	}
	if _, err := readTreeCount(); err != nil { // fZipBytes
		return nil, err
	}
	if _, err := readTreeCount(); err != nil { // fSavedBytes
		return nil, err
	}
	if hdr.Vers >= 18 {
		if _, err := r.ReadI64(); err != nil { // fFlushedBytes
			return nil, err
		}
	}
	if hdr.Vers >= 16 {
		if _, err := r.ReadF64(); err != nil { // fWeight
			return nil, err
		}
	}
	if _, err := r.ReadI32(); err != nil { // fTimerInterval
		return nil, err
	}
	if _, err := r.ReadI32(); err != nil { // fScanField
		return nil, err
	}
	if _, err := r.ReadI32(); err != nil { // fUpdate
		return nil, err
	}
	if hdr.Vers >= 17 {
		if _, err := r.ReadI32(); err != nil { // fDefaultEntryOffsetLen
			return nil, err
		}
	}
	var nclus int32
	if hdr.Vers >= 19 {
		nclus, err = r.ReadI32() // fNClusterRange
		if err != nil {
			return nil, err
		}
	}
	if hdr.Vers > 5 {
		if _, err := r.ReadI64(); err != nil { // fMaxEntries
			return nil, err
		}
		if _, err := r.ReadI64(); err != nil { // fMaxEntryLoop
			return nil, err
		}
		if _, err := r.ReadI64(); err != nil { // fMaxVirtualSize
			return nil, err
		}
		if _, err := r.ReadI64(); err != nil { // fAutoSave
			return nil, err
		}
	} else {
		if _, err := r.ReadI32(); err != nil { // fMaxEntries
			return nil, err
		}
		if _, err := r.ReadI32(); err != nil { // fMaxEntryLoop
			return nil, err
		}
		if _, err := r.ReadI32(); err != nil { // fMaxVirtualSize
			return nil, err
		}
		if _, err := r.ReadI32(); err != nil { // fAutoSave
			return nil, err
		}
	}
	if hdr.Vers >= 18 {
		if _, err := r.ReadI64(); err != nil { // fAutoFlush
			return nil, err
		}
	}
	if hdr.Vers > 5 {
		if _, err := r.ReadI64(); err != nil { // fEstimate
			return nil, fmt.Errorf("rtree: fEstimate: %w", err)
		}
	} else {
		if _, err := r.ReadI32(); err != nil { // fEstimate
			return nil, fmt.Errorf("rtree: fEstimate: %w", err)
		}
	}

	if hdr.Vers >= 19 && nclus > 0 {
		if _, err := r.ReadU8(); err != nil { // fClusterRangeEnd framing byte
			return nil, err
		}
		rangeEnd := make([]int64, nclus)
		if err := r.ReadFastArrayI64(rangeEnd); err != nil {
			return nil, fmt.Errorf("rtree: fClusterRangeEnd: %w", err)
		}
		if _, err := r.ReadU8(); err != nil { // fClusterSize framing byte
			return nil, err
		}
		clusterSize := make([]int64, nclus)
		if err := r.ReadFastArrayI64(clusterSize); err != nil {
			return nil, fmt.Errorf("rtree: fClusterSize: %w", err)
		}
	}
	if hdr.Vers >= 20 {
		if _, err := r.ReadU8(); err != nil { // TIOFeatures framing byte
			return nil, err
		}
		if _, err := r.ReadU8(); err != nil { // fIOBits
			return nil, err
		}
	}

	t := &Tree{entries: entries, byName: make(map[string]*Branch)}

	branches, err := decodeBranchArray(r, file, catalog)
	if err != nil {
		return nil, fmt.Errorf("rtree: fBranches: %w", err)
	}
	t.Branches = branches
	for _, b := range branches {
		indexBranch(t.byName, "", b)
	}

	// fLeaves: the tree-level flattened leaf list duplicates each branch's
	// own fLeaves and is not needed once branches are decoded.
	if _, err := decodeLeafArray(r); err != nil {
		return nil, fmt.Errorf("rtree: fLeaves: %w", err)
	}

	return t, r.CheckHeader(hdr)
}

// skipBaseClass reads a fixed-type (non-polymorphic) base class's own header
// and discards its body: base classes are statically known from the
// enclosing class's layout and never carry a preceding class-name tag, only
// TNamed needs its fields actually interpreted here.
func skipBaseClass(r *rbytes.Buffer, class string) error {
	hdr, err := r.ReadHeader(class)
	if err != nil {
		return err
	}
	return r.CheckHeader(hdr)
}

// decodeBranchArray consumes a TObjArray of polymorphic TBranch/TBranchElement
// records (§4.7).
func decodeBranchArray(r *rbytes.Buffer, file *riofs.File, catalog *rmeta.Catalog) ([]*Branch, error) {
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		return nil, err
	}
	if class == "" {
		return nil, nil
	}
	if class != "TObjArray" {
		return nil, fmt.Errorf("rtree: expected TObjArray of branches, got %q", class)
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

	branches := make([]*Branch, 0, n)
	for i := int32(0); i < n; i++ {
		bClass, bHdr, err := rbytes.ClassTag(r)
		if err != nil {
			return nil, err
		}
		b, err := decodeBranch(r, bClass, bHdr, file, catalog)
		if err != nil {
			return nil, fmt.Errorf("branch %d/%d: %w", i+1, n, err)
		}
		branches = append(branches, b)
	}
	return branches, r.CheckHeader(hdr)
}

// indexBranch registers b (and, recursively, its sub-branches) under both
// its bare name and its dotted path from the tree root, so Tree.Branch can
// resolve either "pt" or "Muon.pt". A bare name shared by several branches
// goes to the top-level branch of that name if there is one, otherwise to
// the first one indexed.
func indexBranch(byName map[string]*Branch, prefix string, b *Branch) {
	dotted := b.Name
	if prefix != "" {
		dotted = prefix + "." + b.Name
	}
	byName[dotted] = b
	if _, exists := byName[b.Name]; !exists {
		byName[b.Name] = b
	}
	for _, sub := range b.SubBranches {
		indexBranch(byName, dotted, sub)
	}
}

// Entries returns the tree's total entry count.
func (t *Tree) Entries() int64 { return t.entries }

// Branch looks up a branch by dotted name (e.g. "Muon.pt") or by its bare
// name; a shared bare name resolves as described on indexBranch.
func (t *Tree) Branch(name string) (*Branch, bool) {
	b, ok := t.byName[name]
	return b, ok
}
