package rbytes

import "testing"

// writeHeader is the minimal inverse of ReadHeader, used only by tests to
// build synthetic fixtures (the library has no marshal side to call here).
func writeHeader(vers int16, payload []byte) []byte {
	out := make([]byte, 6+len(payload))
	cnt := byteCountMask | uint32(2+len(payload))
	out[0] = byte(cnt >> 24)
	out[1] = byte(cnt >> 16)
	out[2] = byte(cnt >> 8)
	out[3] = byte(cnt)
	out[4] = byte(uint16(vers) >> 8)
	out[5] = byte(uint16(vers))
	copy(out[6:], payload)
	return out
}

func TestReadHeaderRoundTrip(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	buf := writeHeader(7, payload)
	r := NewBuffer(buf, 0)

	hdr, err := r.ReadHeader("Thing")
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Vers != 7 {
		t.Fatalf("Vers = %d, want 7", hdr.Vers)
	}
	if hdr.End != int64(len(buf)) {
		t.Fatalf("End = %d, want %d", hdr.End, len(buf))
	}

	if _, err := r.ReadU32(); err != nil {
		t.Fatal(err)
	}
	if err := r.CheckHeader(hdr); err != nil {
		t.Fatal(err)
	}
}

func TestCheckHeaderSkipsTrailingBytes(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	buf := writeHeader(3, payload)
	r := NewBuffer(buf, 0)
	hdr, err := r.ReadHeader("Thing")
	if err != nil {
		t.Fatal(err)
	}
	// Only consume the first 4 bytes, as an older decoder would.
	if _, err := r.ReadU32(); err != nil {
		t.Fatal(err)
	}
	if err := r.CheckHeader(hdr); err != nil {
		t.Fatalf("CheckHeader should skip unread trailing bytes: %v", err)
	}
	if r.Pos() != hdr.End {
		t.Fatalf("Pos = %d, want %d", r.Pos(), hdr.End)
	}
}

func TestEnsureMaximumSupportedVersion(t *testing.T) {
	if err := EnsureMaximumSupportedVersion("TBranch", 13, 13); err != nil {
		t.Fatal(err)
	}
	err := EnsureMaximumSupportedVersion("TBranch", 99, 13)
	var uv *UnsupportedVersionError
	if err == nil {
		t.Fatal("want error")
	}
	if !asUnsupportedVersion(err, &uv) {
		t.Fatalf("wrong error type: %v", err)
	}
	if uv.Max != 13 || uv.Vers != 99 {
		t.Fatalf("got %+v", uv)
	}
}

func asUnsupportedVersion(err error, target **UnsupportedVersionError) bool {
	if e, ok := err.(*UnsupportedVersionError); ok {
		*target = e
		return true
	}
	return false
}
