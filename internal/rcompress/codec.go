// Package rcompress implements ROOT's basket compression framing: a
// sequence of fixed-header blocks, each independently compressed with one
// of a handful of algorithms, concatenated until the declared uncompressed
// size is produced (spec §4.4).
package rcompress

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/therootcompany/xz"
)

// Algo identifies a basket compression algorithm by its on-disk 2-byte tag.
type Algo string

const (
	AlgoZlib   Algo = "ZL"
	AlgoXZ     Algo = "XZ"
	AlgoLZ4    Algo = "L4"
	AlgoZstd   Algo = "ZS"
	AlgoLegacy Algo = "CS" // pre-2002 custom ROOT algorithm, never implemented by any maintained library
)

const blockHeaderSize = 9

// ErrChecksumMismatch is returned when an LZ4 block's leading xxhash64
// checksum does not match its decompressed payload.
var ErrChecksumMismatch = errors.New("rcompress: xxhash64 checksum mismatch")

// DecompressionError wraps a failure from a specific algorithm's decoder.
type DecompressionError struct {
	Algo Algo
	Err  error
}

func (e *DecompressionError) Error() string {
	return fmt.Sprintf("rcompress: %s decompression failed: %v", e.Algo, e.Err)
}

func (e *DecompressionError) Unwrap() error { return e.Err }

// Decompress consumes block-framed compressed data from src and returns
// exactly uncompressedSize bytes. It loops block-by-block (§4.4), appending
// each block's decoded payload until the declared size is reached.
func Decompress(src []byte, uncompressedSize int) ([]byte, error) {
	out := make([]byte, 0, uncompressedSize)
	for len(out) < uncompressedSize {
		if len(src) < blockHeaderSize {
			return nil, fmt.Errorf("rcompress: truncated block header")
		}
		algo := Algo(src[0:2])
		// method byte at src[2] is unused by every algorithm we implement;
		// ROOT only varies it for zlib's historical method/level field.
		compLen := le3(src[3:6])
		rawLen := le3(src[6:9])
		header := src[:blockHeaderSize]
		body := src[blockHeaderSize:]
		if len(body) < compLen {
			return nil, fmt.Errorf("rcompress: truncated block body")
		}
		block := body[:compLen]

		decoded, err := decodeBlock(algo, header, block, rawLen)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded...)
		src = body[compLen:]
	}
	return out[:uncompressedSize], nil
}

func decodeBlock(algo Algo, header, block []byte, rawLen int) ([]byte, error) {
	switch algo {
	case AlgoZlib:
		return decodeZlib(block, rawLen)
	case AlgoXZ:
		return decodeXZ(block, rawLen)
	case AlgoLZ4:
		return decodeLZ4(block, rawLen)
	case AlgoZstd:
		return decodeZstd(block, rawLen)
	case AlgoLegacy:
		return nil, &DecompressionError{Algo: algo, Err: errors.New("legacy pre-2002 ROOT compression is not supported")}
	default:
		return nil, &DecompressionError{Algo: algo, Err: fmt.Errorf("unrecognised algorithm tag %q", string(algo))}
	}
}

func le3(b []byte) int {
	return int(b[0]) | int(b[1])<<8 | int(b[2])<<16
}

// decodeZlib strips the 2-byte header and the 4-byte Adler32 trailer of
// ROOT's "ZL" blocks, which are standard zlib streams. The deflate body in
// between goes straight to compress/flate rather than through the stdlib
// compress/zlib indirection, since we already know the exact payload length;
// the Adler32 trailer is not verified.
func decodeZlib(block []byte, rawLen int) ([]byte, error) {
	if len(block) < 6 {
		return nil, &DecompressionError{Algo: AlgoZlib, Err: errors.New("block too small for a zlib stream")}
	}
	fr := flate.NewReader(bytes.NewReader(block[2 : len(block)-4]))
	defer fr.Close()
	out := make([]byte, rawLen)
	if _, err := io.ReadFull(fr, out); err != nil {
		return nil, &DecompressionError{Algo: AlgoZlib, Err: err}
	}
	return out, nil
}

func decodeXZ(block []byte, rawLen int) ([]byte, error) {
	zr, err := xz.NewReader(bytes.NewReader(block))
	if err != nil {
		return nil, &DecompressionError{Algo: AlgoXZ, Err: err}
	}
	out := make([]byte, rawLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, &DecompressionError{Algo: AlgoXZ, Err: err}
	}
	return out, nil
}

func decodeZstd(block []byte, rawLen int) ([]byte, error) {
	zr, err := zstd.NewReader(bytes.NewReader(block))
	if err != nil {
		return nil, &DecompressionError{Algo: AlgoZstd, Err: err}
	}
	defer zr.Close()
	out := make([]byte, rawLen)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, &DecompressionError{Algo: AlgoZstd, Err: err}
	}
	return out, nil
}

// decodeLZ4 handles ROOT's extra framing: an 8-byte little-endian xxhash64
// of the decompressed payload precedes the raw LZ4 block (not an LZ4 frame
// container).
func decodeLZ4(block []byte, rawLen int) ([]byte, error) {
	if len(block) < 8 {
		return nil, &DecompressionError{Algo: AlgoLZ4, Err: errors.New("block too small for an xxhash64 prefix")}
	}
	wantSum := binary.LittleEndian.Uint64(block[:8])
	payload := block[8:]

	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, &DecompressionError{Algo: AlgoLZ4, Err: err}
	}
	out = out[:n]

	if xxhash.Sum64(out) != wantSum {
		return nil, &DecompressionError{Algo: AlgoLZ4, Err: ErrChecksumMismatch}
	}
	return out, nil
}
