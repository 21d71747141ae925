package rtree

import (
	"errors"
	"testing"
)

func TestLeafBroadcastMismatch(t *testing.T) {
	b := &Branch{
		Name:   "odd",
		Leaves: []Leaf{{Name: "a"}, {Name: "b"}},
	}
	_, err := b.leafBroadcast(3) // neither 1 leaf nor 3 leaves
	var mbe *MalformedBranchError
	if !errors.As(err, &mbe) {
		t.Fatalf("got %T, want *MalformedBranchError", err)
	}
}

func TestDecodeBasketRecordRejectsFutureVersion(t *testing.T) {
	values := []float32{1}
	raw := buildBasketRecord("value", values)
	// Bump the TBasket header's version past maxBasketVersion in place.
	raw[4] = 0
	raw[5] = byte(maxBasketVersion + 1)
	if _, err := decodeBasketRecord(raw, 0); err == nil {
		t.Fatal("expected an unsupported-version error")
	}
}

func TestReadBasketChunkUsesCacheOnSecondRead(t *testing.T) {
	values := []float32{3.5, -1.25, 0}
	f, cat := openTestFile(t, "tree", "value", values)
	defer f.Close()

	tr, err := Open(f, "tree", cat)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, ok := tr.Branch("value")
	if !ok {
		t.Fatal("branch not found")
	}

	for pass := 0; pass < 2; pass++ {
		var got []float32
		it, err := NewIter[float32](b)
		if err != nil {
			t.Fatalf("NewIter: %v", err)
		}
		for v, err := range it.All() {
			if err != nil {
				t.Fatalf("pass %d: %v", pass, err)
			}
			got = append(got, v)
		}
		if len(got) != len(values) {
			t.Fatalf("pass %d: got %d values, want %d", pass, len(got), len(values))
		}
		for i := range values {
			if got[i] != values[i] {
				t.Fatalf("pass %d: value %d = %v, want %v", pass, i, got[i], values[i])
			}
		}
	}
}
