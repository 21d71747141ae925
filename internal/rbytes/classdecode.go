package rbytes

// ClassTag reads the length-prefixed class name that precedes every
// polymorphic object in a ROOT container (a streamer-info list, a branch
// list, a basket array), then that object's own versioned header (§4.7:
// "dispatched via class tag in each header").
func ClassTag(r *Buffer) (class string, hdr Header, err error) {
	class, err = r.ReadString()
	if err != nil {
		return "", Header{}, err
	}
	if class == "" {
		return "", Header{}, nil
	}
	hdr, err = r.ReadHeader(class)
	return class, hdr, err
}

// SkipTObject consumes the fixed TObject preamble (version, fUniqueID,
// fBits) that begins every persisted TObject-derived class.
func SkipTObject(r *Buffer) error {
	if _, err := r.ReadU16(); err != nil { // TObject version
		return err
	}
	if _, err := r.ReadU32(); err != nil { // fUniqueID
		return err
	}
	_, err := r.ReadU32() // fBits
	return err
}

// SkipTObjectAndName consumes TObject's preamble plus a TList/TObjArray's
// shared fName field.
func SkipTObjectAndName(r *Buffer) error {
	if err := SkipTObject(r); err != nil {
		return err
	}
	_, err := r.ReadString()
	return err
}

// ReadTNamed decodes a TNamed: its own header, a TObject placeholder, then
// name and title strings.
func ReadTNamed(r *Buffer) (name, title string, err error) {
	hdr, err := r.ReadHeader("TNamed")
	if err != nil {
		return "", "", err
	}
	if err := SkipTObject(r); err != nil {
		return "", "", err
	}
	name, err = r.ReadString()
	if err != nil {
		return "", "", err
	}
	title, err = r.ReadString()
	if err != nil {
		return "", "", err
	}
	return name, title, r.CheckHeader(hdr)
}
