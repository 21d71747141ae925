package rtree

import (
	"fmt"
	"iter"
	"reflect"

	"github.com/go-rootio/rootio/internal/rbytes"
	"github.com/go-rootio/rootio/internal/rcompress"
	"github.com/go-rootio/rootio/internal/riofs"
)

const maxBasketVersion = 3

// ChunkKind distinguishes the two shapes a basket can hand back to the
// typed iterator (§4.9).
type ChunkKind int

const (
	// RegularSized chunks pack N fixed-stride records back to back.
	RegularSized ChunkKind = iota
	// IrregularSized chunks hold N independently-sized records, already
	// sliced out of the basket's buffer using its byte-offsets table.
	IrregularSized
)

// Chunk is one basket's worth of decoded record data.
type Chunk struct {
	Kind    ChunkKind
	N       int32
	Stride  int32    // valid for RegularSized; byte width of one record
	Bytes   []byte   // valid for RegularSized; N*Stride packed bytes
	Records [][]byte // valid for IrregularSized; one slice per record
}

// MalformedBranchError reports a basket/leaf cardinality invariant violation
// (§4.8's leaf broadcast rule).
type MalformedBranchError struct {
	Branch string
	Reason string
}

func (e *MalformedBranchError) Error() string {
	return fmt.Sprintf("rtree: malformed branch %q: %s", e.Branch, e.Reason)
}

// Chunks returns a finite, single-pass, forward-only sequence of this
// branch's BranchChunk values (§4.9): the embedded basket (if any) first,
// then each on-disk basket in ascending index order. The sequence stops
// early, surfacing an error, the first time a basket fails to decode.
func (b *Branch) Chunks() iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		nBaskets := len(b.BasketSeek)

		leafFor, err := b.leafBroadcast(nBaskets)
		if err != nil {
			yield(Chunk{}, err)
			return
		}

		if len(b.EmbeddedBasket) > 0 {
			chunk, err := decodeEmbeddedBasket(b.EmbeddedBasket)
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}

		for i := 0; i < nBaskets; i++ {
			nbytes := b.BasketBytes[i]
			if nbytes <= 0 {
				continue
			}
			chunk, err := b.readBasketChunk(i, b.BasketSeek[i], nbytes, leafFor(i))
			if err != nil {
				yield(Chunk{}, fmt.Errorf("rtree: %s basket %d: %w", b.Name, i, err))
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// leafBroadcast implements §4.8's last bullet / §4.9's final rule: the leaf
// list must have one entry per basket, or exactly one entry broadcast to
// every basket.
func (b *Branch) leafBroadcast(nBaskets int) (func(i int) Leaf, error) {
	switch {
	case len(b.Leaves) == 1:
		only := b.Leaves[0]
		return func(int) Leaf { return only }, nil
	case len(b.Leaves) == nBaskets:
		return func(i int) Leaf { return b.Leaves[i] }, nil
	default:
		return nil, &MalformedBranchError{
			Branch: b.Name,
			Reason: fmt.Sprintf("%d leaves does not broadcast to %d baskets", len(b.Leaves), nBaskets),
		}
	}
}

func decodeEmbeddedBasket(raw []byte) (Chunk, error) {
	rec, err := decodeBasketRecord(raw, 0)
	if err != nil {
		return Chunk{}, fmt.Errorf("embedded basket: %w", err)
	}
	data := raw[rec.key.KeyLen:]
	return Chunk{Kind: RegularSized, N: rec.nevBuf, Stride: 1, Bytes: data}, nil
}

// readBasketChunk preads nbytes at seek, decodes the basket record, and
// shapes the resulting data according to leaf kind and offset table
// degeneracy (§4.9 steps b and c). Decompressed payloads are served from and
// populated into the branch's file's basket cache, keyed by basket index, so
// a repeated walk of the same branch skips the decompression once warm; the
// basket record is still pread to recover its framing (§4.11).
func (b *Branch) readBasketChunk(basketIdx int, seek int64, nbytes int32, leaf Leaf) (Chunk, error) {
	branchKey := reflect.ValueOf(b).Pointer()
	cache := b.file.BasketCache()

	data, cached := cache.Get(branchKey, basketIdx)
	var rec basketRecord
	if !cached {
		raw := make([]byte, nbytes)
		if _, err := b.file.Handle().ReadAt(raw, seek); err != nil {
			return Chunk{}, err
		}

		var err error
		rec, err = decodeBasketRecord(raw, seek)
		if err != nil {
			return Chunk{}, err
		}

		dataUncompressedLen := rec.key.ObjLen - int(rec.headerLen)
		tail := raw[rec.dataOffset:]
		if dataUncompressedLen == len(tail) {
			data = tail
		} else {
			data, err = rcompress.Decompress(tail, dataUncompressedLen)
			if err != nil {
				return Chunk{}, err
			}
		}
		cache.Add(branchKey, basketIdx, data)
	} else {
		// The cache only stores decompressed bytes, not the record framing
		// (byte-offsets table, last, key length), so that still has to come
		// from the on-disk record; only the decompression itself is skipped.
		headerRaw := make([]byte, nbytes)
		if _, err := b.file.Handle().ReadAt(headerRaw, seek); err != nil {
			return Chunk{}, err
		}
		var err error
		rec, err = decodeBasketRecord(headerRaw, seek)
		if err != nil {
			return Chunk{}, err
		}
	}

	stride := leaf.Stride()
	switch {
	case leaf.IsString || leaf.IsElement:
		recordStride := int32(rec.last) - int32(rec.key.KeyLen)
		return Chunk{Kind: RegularSized, N: rec.nevBuf, Stride: recordStride, Bytes: data}, nil

	case len(rec.byteOffsets) > 0:
		n := int32(len(rec.byteOffsets) - 1)
		if stride > 0 && int64(len(data))/int64(stride) == int64(b.entries) {
			return Chunk{Kind: RegularSized, N: int32(len(data)) / stride, Stride: stride, Bytes: data}, nil
		}
		records := make([][]byte, 0, n)
		for i := int32(0); i < n; i++ {
			start, end := rec.byteOffsets[i], rec.byteOffsets[i+1]
			records = append(records, data[start:end])
		}
		return Chunk{Kind: IrregularSized, N: n, Records: records}, nil

	default:
		return Chunk{Kind: RegularSized, N: rec.nevBuf, Stride: stride, Bytes: data}, nil
	}
}

// basketRecord is everything read from a basket's own (always-uncompressed)
// header region: its Key envelope plus the TBasket-specific fields.
type basketRecord struct {
	key         riofs.Key
	nevBuf      int32
	last        int32
	byteOffsets []int32 // absolute byte offsets into the decompressed data, length nevBuf+1 when present
	headerLen   int64   // bytes from the start of the record through the end of this header, excluding the outer Key header
	dataOffset  int64   // absolute offset into raw where the (possibly compressed) data tail begins
}

// decodeBasketRecord parses the versioned TBasket header, the Key envelope,
// and the basket-specific fields (nev_buf, last, an 8-byte reserved region,
// an optional IO-features block, and an optional byte-offsets table), per
// §4.9 step a.
func decodeBasketRecord(raw []byte, seek int64) (basketRecord, error) {
	r := rbytes.NewBuffer(raw, seek)

	hdr, err := r.ReadHeader("TBasket")
	if err != nil {
		return basketRecord{}, err
	}
	if err := rbytes.EnsureMaximumSupportedVersion("TBasket", hdr.Vers, maxBasketVersion); err != nil {
		return basketRecord{}, err
	}

	key, err := riofs.DecodeKey(r)
	if err != nil {
		return basketRecord{}, err
	}

	nevBuf, err := r.ReadI32()
	if err != nil {
		return basketRecord{}, err
	}
	last, err := r.ReadI32()
	if err != nil {
		return basketRecord{}, err
	}
	if err := r.Skip(8); err != nil { // fBufferSize, fNevBufSize: sizing hints not needed to decode records
		return basketRecord{}, err
	}

	if hdr.Vers >= 2 {
		if _, err := r.ReadU8(); err != nil { // TIOFeatures framing byte
			return basketRecord{}, err
		}
		if _, err := r.ReadU8(); err != nil { // fIOBits
			return basketRecord{}, err
		}
	}

	hasOffsets, err := r.ReadBool()
	if err != nil {
		return basketRecord{}, err
	}
	var offsets []int32
	if hasOffsets {
		n, err := r.ReadI32()
		if err != nil {
			return basketRecord{}, err
		}
		offsets = make([]int32, n)
		if err := r.ReadFastArrayI32(offsets); err != nil {
			return basketRecord{}, err
		}
	}

	if err := r.CheckHeader(hdr); err != nil {
		return basketRecord{}, err
	}

	dataOffset := r.Pos() - seek
	return basketRecord{
		key:         key,
		nevBuf:      nevBuf,
		last:        last,
		byteOffsets: offsets,
		headerLen:   dataOffset - int64(key.KeyLen),
		dataOffset:  dataOffset,
	}, nil
}
