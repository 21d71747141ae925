package rtree

import (
	"testing"

	"github.com/go-rootio/rootio/internal/rbytes"
)

// buildBranchRecord assembles a standalone TBranch record (classTag +
// framed body) at maxBranchVersion, the real currently-written version,
// with entryNumber and entries set to deliberately different values so a
// decoder that conflates the two fields (rather than reading fEntryNumber,
// skipping TIOFeatures, and only later reading the distinct fEntries and
// fFirstEntry) is caught.
func buildBranchRecord(name string, entryNumber, firstEntry, entries int64) []byte {
	body := tNamed(name, "")
	body = append(body, frame(1, nil)...) // TAttFill base class, empty body
	body = append(body, i32(0)...)        // fCompress
	body = append(body, i32(0)...)        // fBasketSize
	body = append(body, i32(0)...)        // fEntryOffsetLen
	body = append(body, i32(0)...)        // fWriteBasket
	body = append(body, i64(entryNumber)...)
	body = append(body, byte(1), byte(0)) // TIOFeatures framing byte + fIOBits
	body = append(body, i32(0)...)        // fOffset
	body = append(body, i32(0)...)        // fMaxBaskets
	body = append(body, i32(0)...)        // fSplitLevel
	body = append(body, i64(entries)...)
	body = append(body, i64(firstEntry)...)
	body = append(body, i64(0)...) // fTotBytes
	body = append(body, i64(0)...) // fZipBytes
	body = append(body, emptyClassTag()...) // fBranches: none
	body = append(body, buildLeafArray(buildLeafF(name))...)
	body = append(body, emptyClassTag()...) // fBaskets: no embedded basket

	body = append(body, byte(1)) // fBasketBytes framing, fMaxBaskets elements (0)
	body = append(body, byte(1)) // fBasketEntry framing, fMaxBaskets elements (0)
	body = append(body, byte(1)) // fBasketSeek framing, fMaxBaskets elements (0)

	return classTag("TBranch", frame(maxBranchVersion, body))
}

func TestDecodeBranchSeparatesEntryNumberFromEntries(t *testing.T) {
	raw := buildBranchRecord("value", 999, 7, 42)
	r := rbytes.NewBuffer(raw, 0)
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		t.Fatalf("ClassTag: %v", err)
	}
	b, err := decodeBranch(r, class, hdr, nil, nil)
	if err != nil {
		t.Fatalf("decodeBranch: %v", err)
	}
	if got, want := b.Entries(), int64(42); got != want {
		t.Fatalf("Entries() = %d, want %d (fEntryNumber leaked into fEntries?)", got, want)
	}
}

func TestDecodeBranchRejectsFutureVersion(t *testing.T) {
	raw := buildBranchRecord("value", 0, 0, 0)
	// Bump the TBranch header's version past maxBranchVersion in place.
	versOff := 1 + len("TBranch") + 4
	raw[versOff] = 0
	raw[versOff+1] = byte(maxBranchVersion + 1)

	r := rbytes.NewBuffer(raw, 0)
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		t.Fatalf("ClassTag: %v", err)
	}
	if _, err := decodeBranch(r, class, hdr, nil, nil); err == nil {
		t.Fatal("expected an unsupported-version error")
	}
}
