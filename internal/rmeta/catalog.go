package rmeta

import "fmt"

// Catalog indexes the StreamerInfo records embedded in a file by
// (class_name, version) and by (class_name, checksum), the two lookup keys
// branch decoding needs to discover a composite leaf's field layout (§4.6).
type Catalog struct {
	byVersion  map[classVersionKey]*StreamerInfo
	byChecksum map[classChecksumKey]*StreamerInfo
}

type classVersionKey struct {
	class   string
	version int16
}

type classChecksumKey struct {
	class    string
	checksum uint32
}

// NewCatalog builds a Catalog from the decoded streamer-info payload at a
// file's streamer-info seek position. An empty or nil payload yields an
// empty, queryable Catalog (files with no branches needing schema
// evolution may omit streamer info entirely).
func NewCatalog(payload []byte) (*Catalog, error) {
	c := &Catalog{
		byVersion:  make(map[classVersionKey]*StreamerInfo),
		byChecksum: make(map[classChecksumKey]*StreamerInfo),
	}
	if len(payload) == 0 {
		return c, nil
	}
	infos, err := Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("rmeta: decoding streamer info: %w", err)
	}
	for i := range infos {
		info := &infos[i]
		c.byVersion[classVersionKey{info.Name, info.Version}] = info
		c.byChecksum[classChecksumKey{info.Name, info.CheckSum}] = info
	}
	return c, nil
}

// ByVersion looks up the field layout recorded for class at the given
// on-disk version.
func (c *Catalog) ByVersion(class string, version int16) (*StreamerInfo, bool) {
	info, ok := c.byVersion[classVersionKey{class, version}]
	return info, ok
}

// ByChecksum looks up the field layout recorded for class whose streamer
// checksum matches checksum, for streams that identify schema by checksum
// rather than version number.
func (c *Catalog) ByChecksum(class string, checksum uint32) (*StreamerInfo, bool) {
	info, ok := c.byChecksum[classChecksumKey{class, checksum}]
	return info, ok
}
