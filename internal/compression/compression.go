// Package compression provides compression and decompression for table
// blocks, plus a scratch-buffer compressor used internally by the table
// reader to shrink the blocks held in its in-process block cache.
//
// Each data block in a table is stored as the compressed (or uncompressed)
// data followed by a 1-byte compression type indicator (and then the block
// checksum); only None, Snappy, and Zstd are valid on-disk values.
//
// Reference: LevelDB table/format.cc, util/compression.h
package compression

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents an on-disk block compression algorithm.
type Type uint8

const (
	// NoCompression indicates no compression.
	NoCompression Type = 0x0

	// SnappyCompression uses Google Snappy compression.
	SnappyCompression Type = 0x1

	// ZstdCompression uses Zstandard compression.
	ZstdCompression Type = 0x2
)

// String returns the human-readable name of the compression type.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	case ZstdCompression:
		return "ZSTD"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// IsSupported returns true if the compression type can be produced on disk.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, ZstdCompression:
		return true
	default:
		return false
	}
}

// HasEmbeddedSize reports whether t's compressed format embeds the
// decompressed size, so no external length prefix is needed.
func HasEmbeddedSize(t Type) bool {
	return t == SnappyCompression
}

// Compress compresses data using the specified compression type.
func Compress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Encode(nil, data), nil
	case ZstdCompression:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses data using the specified compression type.
func Decompress(t Type, data []byte) ([]byte, error) {
	return DecompressWithSize(t, data, 0)
}

// DecompressWithSize decompresses data with a known uncompressed size.
// expectedSize is ignored for types that embed their own size.
func DecompressWithSize(t Type, data []byte, expectedSize int) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Decode(nil, data)
	case ZstdCompression:
		return decompressZstd(data, expectedSize)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func decompressZstd(data []byte, expectedSize int) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer decoder.Close()
	var dst []byte
	if expectedSize > 0 {
		dst = make([]byte, 0, expectedSize)
	}
	return decoder.DecodeAll(data, dst)
}

// Scratch block markers. The first byte of a scratch buffer records
// whether the rest is an LZ4 block or the raw bytes kept as-is.
const (
	scratchRaw byte = 0
	scratchLZ4 byte = 1
)

// CompressScratch compresses data with LZ4 for the table reader's
// in-process block cache. This is never written to disk: cached blocks are
// kept in this packed form and unpacked with DecompressScratch when served.
func CompressScratch(data []byte) []byte {
	dst := make([]byte, 1+lz4.CompressBlockBound(len(data)))
	dst[0] = scratchLZ4
	var ht [1 << 16]int
	n, err := lz4.CompressBlock(data, dst[1:], ht[:])
	if err != nil || n == 0 {
		// Incompressible or too small to benefit; keep the raw bytes.
		out := make([]byte, 1+len(data))
		out[0] = scratchRaw
		copy(out[1:], data)
		return out
	}
	return dst[:1+n]
}

// DecompressScratch reverses CompressScratch given the original length.
func DecompressScratch(scratch []byte, originalLen int) ([]byte, error) {
	if len(scratch) == 0 {
		return nil, fmt.Errorf("scratch block: empty buffer")
	}
	switch scratch[0] {
	case scratchRaw:
		if len(scratch)-1 != originalLen {
			return nil, fmt.Errorf("scratch block: raw length %d, want %d", len(scratch)-1, originalLen)
		}
		return scratch[1:], nil
	case scratchLZ4:
		dst := make([]byte, originalLen)
		n, err := lz4.UncompressBlock(scratch[1:], dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 uncompress scratch block: %w", err)
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("scratch block: unknown marker %d", scratch[0])
	}
}
