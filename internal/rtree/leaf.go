package rtree

import (
	"fmt"

	"github.com/go-rootio/rootio/internal/rbytes"
	"github.com/go-rootio/rootio/internal/rmeta"
)

// Leaf describes one column of a branch's in-memory record: its declared
// ROOT type and, for the handful of shapes the basket engine needs to
// distinguish, whether it is a string/element leaf (whose records span the
// basket's declared last-byte rather than a fixed stride).
type Leaf struct {
	Name       string
	Title      string // TNamed title, carries array-dimension syntax e.g. "fPx[3]"
	TypeName   string // C++-flavored element type, e.g. "float"
	Type       rmeta.TypeCode
	ElemSize   int32 // on-disk size of one element, 0 if variable
	IsString   bool
	IsElement  bool // TLeafElement: composite/STL leaf backed by a streamer
	Unsigned   bool
}

// Stride returns the on-disk size of one element for primitive leaves, or 0
// when the record size can only be known from the basket itself (string
// and element leaves, §4.9). The leaf's fLen array dimension is not kept, so
// for a fixed-array leaf such as "arr[5]/F" the stride is that of a single
// element, not of the whole record.
func (l Leaf) Stride() int32 {
	if l.IsString || l.IsElement {
		return 0
	}
	return l.ElemSize
}

const maxLeafVersion = 2

var leafPrimitiveType = map[string]struct {
	typ      rmeta.TypeCode
	size     int32
	typeName string
}{
	"TLeafO": {rmeta.Bool, 1, "bool"},
	"TLeafB": {rmeta.Char, 1, "int8_t"},
	"TLeafS": {rmeta.Short, 2, "int16_t"},
	"TLeafI": {rmeta.Int, 4, "int32_t"},
	"TLeafL": {rmeta.Long64, 8, "int64_t"},
	"TLeafF": {rmeta.Float, 4, "float"},
	"TLeafD": {rmeta.Double, 8, "double"},
}

// decodeLeafArray consumes a TObjArray of polymorphic TLeaf* objects (the
// per-branch "fLeaves" field, §4.7/§4.8).
func decodeLeafArray(r *rbytes.Buffer) ([]Leaf, error) {
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		return nil, err
	}
	if class == "" {
		return nil, nil
	}
	if class != "TObjArray" {
		return nil, fmt.Errorf("rtree: expected TObjArray of leaves, got %q", class)
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

	leaves := make([]Leaf, 0, n)
	for i := int32(0); i < n; i++ {
		l, err := decodeLeaf(r)
		if err != nil {
			return nil, fmt.Errorf("leaf %d/%d: %w", i+1, n, err)
		}
		leaves = append(leaves, l)
	}
	return leaves, r.CheckHeader(hdr)
}

// decodeLeaf decodes one TLeaf subclass. All subclasses share TLeaf's base
// layout (name/title, fLen, fLenType, fOffset, fIsRange, fIsUnsigned,
// fLeafCount); the few extra fields some subclasses add (fMinimum/fMaximum)
// are left for CheckHeader to silently discard.
func decodeLeaf(r *rbytes.Buffer) (Leaf, error) {
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		return Leaf{}, err
	}
	if err := rbytes.EnsureMaximumSupportedVersion(class, hdr.Vers, maxLeafVersion); err != nil {
		return Leaf{}, err
	}

	name, title, err := rbytes.ReadTNamed(r)
	if err != nil {
		return Leaf{}, err
	}

	if _, err := r.ReadI32(); err != nil { // fLen
		return Leaf{}, err
	}
	if _, err := r.ReadI32(); err != nil { // fLenType
		return Leaf{}, err
	}
	if _, err := r.ReadI32(); err != nil { // fOffset
		return Leaf{}, err
	}
	if _, err := r.ReadBool(); err != nil { // fIsRange
		return Leaf{}, err
	}
	unsigned, err := r.ReadBool() // fIsUnsigned
	if err != nil {
		return Leaf{}, err
	}
	hasCount, err := r.ReadBool() // fLeafCount presence marker
	if err != nil {
		return Leaf{}, err
	}
	if hasCount {
		if _, _, err := rbytes.ClassTag(r); err != nil { // counter leaf, not resolved here
			return Leaf{}, err
		}
	}

	l := Leaf{Name: name, Title: title, Unsigned: unsigned}
	switch class {
	case "TLeafC":
		l.IsString = true
		l.TypeName = "char"
	case "TLeafElement":
		l.IsElement = true
	default:
		if p, ok := leafPrimitiveType[class]; ok {
			l.Type = p.typ
			l.ElemSize = p.size
			l.TypeName = p.typeName
			if unsigned {
				l.TypeName = "u" + l.TypeName
			}
		}
	}
	return l, r.CheckHeader(hdr)
}
