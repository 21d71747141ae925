// Package rmeta implements the Streamer-Info Catalog: the class-version
// field-layout dictionary every ROOT file embeds, consulted by branch
// decoding to discover the shape of composite leaves (§4.6).
package rmeta

// TypeCode identifies a StreamerElement's primitive or composite kind
// (ROOT's TStreamerInfo::EReadWrite enum).
type TypeCode int32

const (
	Base    TypeCode = 0
	Char    TypeCode = 1
	Short   TypeCode = 2
	Int     TypeCode = 3
	Long    TypeCode = 4
	Float   TypeCode = 5
	Counter TypeCode = 6
	CharStr TypeCode = 7
	Double  TypeCode = 8
	Double32 TypeCode = 9
	UChar   TypeCode = 11
	UShort  TypeCode = 12
	UInt    TypeCode = 13
	ULong   TypeCode = 14
	Bits    TypeCode = 15
	Long64  TypeCode = 16
	ULong64 TypeCode = 17
	Bool    TypeCode = 18
	Float16 TypeCode = 19
	OffsetL TypeCode = 20 // fixed-size array: add to the element's base kind
	OffsetP TypeCode = 40 // pointer to object

	Object  TypeCode = 61
	Any     TypeCode = 62
	Objectp TypeCode = 63
	ObjectP TypeCode = 64
	TString TypeCode = 65
	TObject TypeCode = 66
	TNamed  TypeCode = 67
	AnyP    TypeCode = 69
	STLp    TypeCode = 71

	STL       TypeCode = 300
	STLstring TypeCode = 365

	Streamer   TypeCode = 500
	StreamLoop TypeCode = 501
	Artificial TypeCode = 1000
)

// Kind returns the element's base kind with any OffsetL fixed-array bias
// removed, along with whether that bias was present.
func (t TypeCode) Kind() (base TypeCode, isArray bool) {
	if t >= OffsetL && t < OffsetL+20 {
		return t - OffsetL, true
	}
	return t, false
}

// FixedSize reports the on-disk element size in bytes for primitive codes,
// or 0 if t is not a fixed-size primitive.
func (t TypeCode) FixedSize() int {
	base, _ := t.Kind()
	switch base {
	case Char, UChar, Bool:
		return 1
	case Short, UShort:
		return 2
	case Int, UInt, Float, Counter:
		return 4
	case Long, ULong, Long64, ULong64, Double:
		return 8
	case Float16:
		return 4
	case Double32:
		return 4
	default:
		return 0
	}
}
