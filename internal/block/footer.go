// footer.go implements the fixed 48-byte table footer: two block handles
// (metaindex, index) and a magic number identifying the file as a
// block-based table. Every on-disk block is followed by a compression-type
// byte and a masked CRC32C checksum.
//
// Reference: RocksDB v10.7.5 table/format.h (Footer class, legacy
// format_version 0), simplified down to that single legacy layout — this
// core never writes or reads the newer versioned/context-checksum footers.
package block

import (
	"encoding/binary"
	"fmt"
)

// Magic is the fixed magic number identifying a block-based table footer.
const Magic uint64 = 0xdb4775248b80fb57

// FooterEncodedLength is the fixed on-disk size of a footer: two handles
// (each up to 20 bytes), padded to 40 bytes, followed by the 8-byte magic.
const FooterEncodedLength = 48

// BlockTrailerSize is the size of the per-block trailer: 1 compression-type
// byte plus a 4-byte masked CRC32C.
const BlockTrailerSize = 5

// CompressionType identifies the compressor used for one block's bytes.
// These values are part of the on-disk format and must not change.
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionZstd   CompressionType = 2
)

// Footer is the fixed-size trailer at the end of a table file.
type Footer struct {
	MetaindexHandle Handle
	IndexHandle     Handle
}

// EncodeTo writes the footer into a FooterEncodedLength-byte buffer.
func (f Footer) EncodeTo(dst []byte) {
	if len(dst) != FooterEncodedLength {
		panic(fmt.Sprintf("block: footer buffer must be %d bytes, got %d", FooterEncodedLength, len(dst)))
	}
	for i := range dst {
		dst[i] = 0
	}
	n := 0
	n += copy(dst[n:], f.MetaindexHandle.EncodeToSlice())
	n += copy(dst[n:], f.IndexHandle.EncodeToSlice())
	binary.LittleEndian.PutUint64(dst[FooterEncodedLength-8:], Magic)
}

// DecodeFooter parses a footer from the trailing FooterEncodedLength bytes
// of a table file.
func DecodeFooter(data []byte) (Footer, error) {
	if len(data) != FooterEncodedLength {
		return Footer{}, ErrBadBlockFooter
	}
	magic := binary.LittleEndian.Uint64(data[FooterEncodedLength-8:])
	if magic != Magic {
		return Footer{}, ErrBadBlockFooter
	}

	metaindexHandle, rest, err := DecodeHandle(data)
	if err != nil {
		return Footer{}, ErrBadBlockFooter
	}
	indexHandle, _, err := DecodeHandle(rest)
	if err != nil {
		return Footer{}, ErrBadBlockFooter
	}

	return Footer{MetaindexHandle: metaindexHandle, IndexHandle: indexHandle}, nil
}
