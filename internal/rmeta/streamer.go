package rmeta

import (
	"fmt"

	"github.com/go-rootio/rootio/internal/rbytes"
)

const maxStreamerInfoVersion = 9
const maxStreamerElementVersion = 4

// StreamerElement describes one field of a class's on-disk layout.
type StreamerElement struct {
	Name        string
	TypeName    string
	Type        TypeCode
	Size        int32
	ArrayLength int32
	ArrayDim    int32
	MaxIndex    [5]int32
}

// StreamerInfo is the field layout ROOT recorded for one (class, version)
// pair at write time.
type StreamerInfo struct {
	Name     string
	CheckSum uint32
	Version  int16
	Elements []StreamerElement
}

// Decode parses the streamer-info key payload: a TList whose items are
// TStreamerInfo objects, each carrying a nested TObjArray of
// TStreamerElement variants.
func Decode(payload []byte) ([]StreamerInfo, error) {
	r := rbytes.NewBuffer(payload, 0)

	class, listHdr, err := rbytes.ClassTag(r)
	if err != nil {
		return nil, fmt.Errorf("rmeta: reading streamer list header: %w", err)
	}
	if class != "TList" {
		return nil, fmt.Errorf("rmeta: expected TList, got %q", class)
	}
	if err := rbytes.SkipTObjectAndName(r); err != nil {
		return nil, err
	}
	n, err := r.ReadI32()
	if err != nil {
		return nil, err
	}

	infos := make([]StreamerInfo, 0, n)
	for i := int32(0); i < n; i++ {
		info, err := decodeStreamerInfo(r)
		if err != nil {
			return nil, fmt.Errorf("rmeta: streamer info %d/%d: %w", i+1, n, err)
		}
		infos = append(infos, info)
		if err := r.Skip(1); err != nil { // TList's per-item "option string" byte (empty)
			return nil, err
		}
	}
	return infos, r.CheckHeader(listHdr)
}

func decodeStreamerInfo(r *rbytes.Buffer) (StreamerInfo, error) {
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		return StreamerInfo{}, err
	}
	if class != "TStreamerInfo" {
		return StreamerInfo{}, fmt.Errorf("expected TStreamerInfo, got %q", class)
	}
	if err := rbytes.EnsureMaximumSupportedVersion("TStreamerInfo", hdr.Vers, maxStreamerInfoVersion); err != nil {
		return StreamerInfo{}, err
	}

	name, _, err := rbytes.ReadTNamed(r)
	if err != nil {
		return StreamerInfo{}, err
	}

	checksum, err := r.ReadU32()
	if err != nil {
		return StreamerInfo{}, err
	}
	version, err := r.ReadI32()
	if err != nil {
		return StreamerInfo{}, err
	}

	elems, err := decodeElementArray(r)
	if err != nil {
		return StreamerInfo{}, err
	}

	return StreamerInfo{
		Name:     name,
		CheckSum: checksum,
		Version:  int16(version),
		Elements: elems,
	}, r.CheckHeader(hdr)
}

func decodeElementArray(r *rbytes.Buffer) ([]StreamerElement, error) {
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		return nil, err
	}
	if class != "TObjArray" {
		return nil, fmt.Errorf("expected TObjArray of elements, got %q", class)
	}
	if err := rbytes.SkipTObjectAndName(r); err != nil {
		return nil, err
	}
	n, err := r.ReadI32()
	if err != nil {
		return nil, err
	}
	if err := r.Skip(4); err != nil { // fLowerBound
		return nil, err
	}

	elems := make([]StreamerElement, 0, n)
	for i := int32(0); i < n; i++ {
		el, err := decodeStreamerElement(r)
		if err != nil {
			return nil, fmt.Errorf("element %d/%d: %w", i+1, n, err)
		}
		elems = append(elems, el)
	}
	return elems, r.CheckHeader(hdr)
}

// decodeStreamerElement decodes one TStreamerElement and its known
// subclasses. Every subclass shares the same base layout; the handful that
// add fields (TStreamerBasicPointer's counter name, TStreamerSTL's
// container kind) are read generically since CheckHeader discards any
// trailing bytes we don't interpret.
func decodeStreamerElement(r *rbytes.Buffer) (StreamerElement, error) {
	class, hdr, err := rbytes.ClassTag(r)
	if err != nil {
		return StreamerElement{}, err
	}
	if err := rbytes.EnsureMaximumSupportedVersion(class, hdr.Vers, maxStreamerElementVersion); err != nil {
		return StreamerElement{}, err
	}

	name, title, err := rbytes.ReadTNamed(r)
	if err != nil {
		return StreamerElement{}, err
	}
	_ = title

	typ, err := r.ReadI32()
	if err != nil {
		return StreamerElement{}, err
	}
	size, err := r.ReadI32()
	if err != nil {
		return StreamerElement{}, err
	}
	arrayLen, err := r.ReadI32()
	if err != nil {
		return StreamerElement{}, err
	}
	arrayDim, err := r.ReadI32()
	if err != nil {
		return StreamerElement{}, err
	}

	var maxIndex [5]int32
	if hdr.Vers >= 2 {
		if err := r.ReadFastArrayI32(maxIndex[:]); err != nil {
			return StreamerElement{}, err
		}
	}

	typeName, err := r.ReadString()
	if err != nil {
		return StreamerElement{}, err
	}

	return StreamerElement{
		Name:        name,
		TypeName:    typeName,
		Type:        TypeCode(typ),
		Size:        size,
		ArrayLength: arrayLen,
		ArrayDim:    arrayDim,
		MaxIndex:    maxIndex,
	}, r.CheckHeader(hdr)
}

