// builder.go assembles data blocks, an index block, an optional filter
// block, a meta-index block, and a footer into a single table file.
//
// Reference: LevelDB table/table_builder.cc, trimmed to the single legacy
// footer layout and stripped of column families, format versions, and
// table properties.
package table

import (
	"errors"
	"fmt"
	"io"

	"github.com/nlowe/ridgekv/internal/block"
	"github.com/nlowe/ridgekv/internal/checksum"
	"github.com/nlowe/ridgekv/internal/comparer"
	"github.com/nlowe/ridgekv/internal/compression"
	"github.com/nlowe/ridgekv/internal/encoding"
	"github.com/nlowe/ridgekv/internal/filter"
	"github.com/nlowe/ridgekv/internal/filterblock"
	"github.com/nlowe/ridgekv/internal/logging"
)

// ErrBuilderFinished is returned by Add when called after Finish or Abandon.
var ErrBuilderFinished = errors.New("table: builder already finished")

// BuilderOptions configures a TableBuilder.
type BuilderOptions struct {
	// Comparator orders the keys passed to Add. Defaults to comparer.Default.
	Comparator comparer.Comparator

	// BlockSize is the threshold, in estimated bytes, at which the builder
	// flushes the in-progress data block. Defaults to 4096.
	BlockSize int

	// BlockRestartInterval is the number of entries between restart points
	// in both data and index blocks. Defaults to 16.
	BlockRestartInterval int

	// Compression selects the on-disk compressor for data, index, and
	// meta-index blocks. The filter block is always stored uncompressed.
	Compression compression.Type

	// FilterPolicy, if non-nil, builds a filter block covering every key
	// added to the table.
	FilterPolicy filter.Policy

	// Logger receives Debugf notices for block flushes and filter windows,
	// and Warnf notices when compression is silently skipped because it
	// didn't shrink a block. Defaults to logging.Discard.
	Logger logging.Logger
}

func (o *BuilderOptions) withDefaults() BuilderOptions {
	out := *o
	if out.Comparator == nil {
		out.Comparator = comparer.Default
	}
	if out.BlockSize <= 0 {
		out.BlockSize = 4096
	}
	if out.BlockRestartInterval <= 0 {
		out.BlockRestartInterval = 16
	}
	if logging.IsNil(out.Logger) {
		out.Logger = logging.Discard
	}
	return out
}

// TableBuilder builds a table file one entry at a time, in key order.
type TableBuilder struct {
	w    io.Writer
	opts BuilderOptions

	dataBlock  *block.Builder
	indexBlock *block.Builder
	filterGen  *filterblock.Builder

	offset           uint64
	lastFilterWindow uint64

	pendingIndexEntry bool
	pendingHandle     block.Handle
	lastKey           []byte

	numEntries    uint64
	numDataBlocks uint64
	rawKeySize    uint64
	rawValueSize  uint64

	finished bool
	err      error
}

// NewTableBuilder creates a TableBuilder that writes to w.
func NewTableBuilder(w io.Writer, opts BuilderOptions) *TableBuilder {
	o := opts.withDefaults()

	var fg *filterblock.Builder
	if o.FilterPolicy != nil {
		fg = filterblock.NewBuilder(o.FilterPolicy)
	}

	return &TableBuilder{
		w:          w,
		opts:       o,
		dataBlock:  block.NewBuilder(o.BlockRestartInterval),
		indexBlock: block.NewBuilder(o.BlockRestartInterval),
		filterGen:  fg,
	}
}

// Add appends a key-value pair. Keys must be added in increasing order
// according to opts.Comparator.
func (tb *TableBuilder) Add(key, value []byte) error {
	if tb.finished {
		return ErrBuilderFinished
	}
	if tb.err != nil {
		return tb.err
	}

	if tb.pendingIndexEntry {
		separator := tb.opts.Comparator.FindShortestSeparator(tb.lastKey, key)
		tb.indexBlock.Add(separator, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	if tb.filterGen != nil {
		window := tb.offset >> filterblock.BaseLg
		if window != tb.lastFilterWindow || tb.numEntries == 0 {
			tb.opts.Logger.Debugf(logging.NSFilter+"started filter window %d at block offset %d", window, tb.offset)
			tb.lastFilterWindow = window
		}
		tb.filterGen.StartBlock(tb.offset)
		tb.filterGen.AddKey(filterKey(key))
	}

	tb.dataBlock.Add(key, value)
	tb.numEntries++
	tb.rawKeySize += uint64(len(key))
	tb.rawValueSize += uint64(len(value))
	tb.lastKey = append(tb.lastKey[:0], key...)

	if tb.dataBlock.EstimatedSize() >= tb.opts.BlockSize {
		if err := tb.flushDataBlock(); err != nil {
			tb.err = err
			return err
		}
	}

	return nil
}

// filterKey reports the portion of key the filter indexes: the user-key
// prefix of an internal key, or the whole key if it is too short to carry
// an internal-key trailer.
func filterKey(key []byte) []byte {
	if len(key) > 8 {
		return key[:len(key)-8]
	}
	return key
}

func (tb *TableBuilder) flushDataBlock() error {
	if tb.dataBlock.Empty() {
		return nil
	}

	handle, err := tb.writeBlock(tb.dataBlock.Finish(), true)
	if err != nil {
		return err
	}

	tb.dataBlock.Reset()
	tb.numDataBlocks++
	tb.pendingHandle = handle
	tb.pendingIndexEntry = true
	tb.opts.Logger.Debugf(logging.NSTable+"flushed data block %d at offset %d (%d bytes)",
		tb.numDataBlocks-1, handle.Offset, handle.Size)
	return nil
}

// writeBlock compresses (if compressible and beneficial), writes, and
// checksums blockData, returning its handle. Compression is skipped when
// it doesn't shrink the block by at least 12.5%, matching LevelDB.
func (tb *TableBuilder) writeBlock(blockData []byte, compressible bool) (block.Handle, error) {
	compressionType := compression.NoCompression
	payload := blockData

	if compressible && tb.opts.Compression != compression.NoCompression {
		compressed, err := compression.Compress(tb.opts.Compression, blockData)
		if err != nil {
			// The compressor is unavailable at build time (e.g. a missing
			// runtime codec): fall back to storing the block uncompressed
			// rather than failing the whole build.
			tb.opts.Logger.Warnf(logging.NSTable+"compression %s unavailable, storing block uncompressed: %v", tb.opts.Compression, err)
			compressed = nil
		}
		if compressed != nil && len(compressed) < len(blockData)-(len(blockData)/8) {
			payload = compressed
			compressionType = tb.opts.Compression
		} else {
			tb.opts.Logger.Warnf(logging.NSTable+"compression %s did not shrink block by 12.5%%, storing uncompressed", tb.opts.Compression)
		}
	}

	handle := block.Handle{Offset: tb.offset, Size: uint64(len(payload))}

	if _, err := tb.w.Write(payload); err != nil {
		return block.Handle{}, fmt.Errorf("table: write block: %w", err)
	}

	var trailer [block.BlockTrailerSize]byte
	trailer[0] = byte(compressionType)
	sum := checksum.ComputeBlockChecksum(payload, trailer[0])
	encoding.EncodeFixed32(trailer[1:], sum)
	if _, err := tb.w.Write(trailer[:]); err != nil {
		return block.Handle{}, fmt.Errorf("table: write block trailer: %w", err)
	}

	tb.offset += uint64(len(payload)) + block.BlockTrailerSize
	return handle, nil
}

// Finish flushes any pending data, writes the filter, meta-index, and
// index blocks, and writes the footer. The builder must not be reused.
func (tb *TableBuilder) Finish() error {
	if tb.finished {
		return ErrBuilderFinished
	}
	if tb.err != nil {
		return tb.err
	}

	if err := tb.flushDataBlock(); err != nil {
		tb.err = err
		return err
	}

	if tb.pendingIndexEntry {
		successor := tb.opts.Comparator.FindShortSuccessor(tb.lastKey)
		tb.indexBlock.Add(successor, tb.pendingHandle.EncodeToSlice())
		tb.pendingIndexEntry = false
	}

	var filterHandle block.Handle
	haveFilter := tb.filterGen != nil
	if haveFilter {
		h, err := tb.writeBlock(tb.filterGen.Finish(), false)
		if err != nil {
			tb.err = err
			return err
		}
		filterHandle = h
	}

	metaIndex := block.NewBuilder(1)
	if haveFilter {
		metaIndex.Add([]byte("filter."+tb.opts.FilterPolicy.Name()), filterHandle.EncodeToSlice())
	}
	metaIndexHandle, err := tb.writeBlock(metaIndex.Finish(), true)
	if err != nil {
		tb.err = err
		return err
	}

	indexHandle, err := tb.writeBlock(tb.indexBlock.Finish(), true)
	if err != nil {
		tb.err = err
		return err
	}

	footer := block.Footer{MetaindexHandle: metaIndexHandle, IndexHandle: indexHandle}
	var footerBuf [block.FooterEncodedLength]byte
	footer.EncodeTo(footerBuf[:])
	if _, err := tb.w.Write(footerBuf[:]); err != nil {
		tb.err = fmt.Errorf("table: write footer: %w", err)
		return tb.err
	}

	tb.offset += block.FooterEncodedLength
	tb.finished = true
	return nil
}

// Abandon stops the builder without writing the footer.
func (tb *TableBuilder) Abandon() {
	tb.finished = true
}

// EstimatedFileSize returns the current on-disk size, including data
// already flushed and the in-progress data block, but not the
// not-yet-written filter/meta-index/index/footer.
func (tb *TableBuilder) EstimatedFileSize() uint64 {
	if tb.dataBlock.Empty() {
		return tb.offset
	}
	return tb.offset + uint64(tb.dataBlock.EstimatedSize())
}

// NumEntries returns the number of key-value pairs added so far.
func (tb *TableBuilder) NumEntries() uint64 {
	return tb.numEntries
}

// NumDataBlocks returns the number of data blocks flushed so far, not
// counting an in-progress block that has not yet been flushed.
func (tb *TableBuilder) NumDataBlocks() uint64 {
	return tb.numDataBlocks
}
