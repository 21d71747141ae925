package rbytes

const (
	byteCountMask = uint32(0x40000000)
	versionByRef  = uint16(0x8000)
)

// Header is the byte-count + version prefix that frames every persisted
// ROOT object (§3 ObjectHeader, §4.2).
type Header struct {
	Vers      int16
	ByteCount uint32
	Start     int64
	End       int64
}

// ReadHeader reads the framing prefix for class. The byte-count field's
// 0x40000000 flag (byteCountMask) distinguishes a normal framed object (flag
// set, the field with that flag cleared is the byte count of everything after
// the four count bytes) from a back-reference to an object already seen in
// this buffer (flag clear, the field is the absolute offset of that object's
// header). The version field's top bit switches to a by-reference start
// offset rather than an inline version.
func (r *Buffer) ReadHeader(class string) (Header, error) {
	start := r.Pos()

	cnt, err := r.ReadU32()
	if err != nil {
		return Header{}, err
	}

	var byteCount uint32
	if cnt&byteCountMask != 0 {
		byteCount = cnt &^ byteCountMask
	} else {
		// A reference to an object whose header we have already recorded.
		ref, ok := r.tags.lookup(int64(cnt))
		if !ok {
			return Header{}, &HeaderMismatchError{Class: class, Want: int64(cnt), Got: r.Pos()}
		}
		r.tags.record(start, ref)
		return ref, nil
	}

	vers, err := r.ReadU16()
	if err != nil {
		return Header{}, err
	}

	objStart := start + 4 // version field begins right after the count
	if vers&versionByRef != 0 {
		v := int16(vers &^ versionByRef)
		ref, ok := r.tags.lookup(objStart)
		if ok {
			objStart = ref.Start
		}
		vers = uint16(v)
	}

	h := Header{
		Vers:      int16(vers),
		ByteCount: byteCount,
		Start:     objStart,
		End:       start + int64(byteCount) + 4,
	}
	r.tags.record(start, h)
	return h, nil
}

// CheckHeader enforces that the cursor sits exactly at hdr.End, silently
// skipping any unread trailing bytes left by a newer on-disk version than
// this library interprets.
func (r *Buffer) CheckHeader(hdr Header) error {
	cur := r.Pos()
	if cur == hdr.End {
		return nil
	}
	if cur > hdr.End {
		return &HeaderMismatchError{Want: hdr.End, Got: cur}
	}
	return r.Skip(hdr.End - cur)
}

// EnsureMaximumSupportedVersion fails with UnsupportedVersionError when vers
// exceeds the compiled-in maximum for class.
func EnsureMaximumSupportedVersion(class string, vers, max int16) error {
	if vers > max {
		return &UnsupportedVersionError{Class: class, Vers: vers, Max: max}
	}
	return nil
}
