// reader.go opens a table file and provides point lookups, range
// iteration, and offset estimation over it.
//
// Reference: LevelDB table/table.cc, table/iterator_wrapper.h (two-level
// iterator), trimmed to a single checksum algorithm and a single block
// iterator implementation shared by the index and data levels.
package table

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/nlowe/ridgekv/internal/block"
	"github.com/nlowe/ridgekv/internal/checksum"
	"github.com/nlowe/ridgekv/internal/comparer"
	"github.com/nlowe/ridgekv/internal/compression"
	"github.com/nlowe/ridgekv/internal/filter"
	"github.com/nlowe/ridgekv/internal/filterblock"
	"github.com/nlowe/ridgekv/internal/logging"
)

// ErrCorruption indicates a malformed table: a bad footer, a checksum
// mismatch, a truncated block, or an out-of-bounds restart offset.
var ErrCorruption = errors.New("table: corrupted")

// maxBlockSize bounds a single block read, guarding against a corrupted
// handle causing an enormous allocation.
const maxBlockSize = 256 * 1024 * 1024

// ReadableFile is the file abstraction a Reader needs: random-access reads
// plus its total size.
type ReadableFile interface {
	io.Closer
	ReadAt(p []byte, off int64) (n int, err error)
	Size() int64
}

// ReaderOptions configures how a table is opened and read.
type ReaderOptions struct {
	// Comparator orders index and data entries. Must match the comparator
	// the table was built with. Defaults to comparer.Default.
	Comparator comparer.Comparator

	// FilterPolicy, if non-nil, is used to parse the table's filter block
	// (if any) and must match the policy it was built with.
	FilterPolicy filter.Policy

	// VerifyChecksums checks every block's CRC32C against its trailer on
	// every read, trading some throughput for corruption detection.
	VerifyChecksums bool

	// Logger receives Debugf notices when the filter block is loaded and
	// Warnf notices for anything recovered from gracefully. Defaults to
	// logging.Discard.
	Logger logging.Logger

	// CacheBlocks enables an in-process cache of decompressed data blocks,
	// keyed by an XXH3 digest of this reader's identity and the block's
	// file offset. Cached blocks are kept LZ4-packed to reduce resident
	// memory; they are always unpacked back to their canonical bytes
	// before being handed to a block iterator, so this never affects the
	// on-disk format or anything that must stay bit-exact.
	CacheBlocks bool
}

func (o *ReaderOptions) withDefaults() ReaderOptions {
	out := *o
	if out.Comparator == nil {
		out.Comparator = comparer.Default
	}
	if logging.IsNil(out.Logger) {
		out.Logger = logging.Discard
	}
	return out
}

// Reader provides read access to a single table file.
type Reader struct {
	file ReadableFile
	opts ReaderOptions

	footer       block.Footer
	indexBlock   *block.Block
	filterReader *filterblock.Reader

	// id distinguishes this reader's cache keys from any other Reader's,
	// so a shared digest space can't alias blocks from different tables.
	id uint64

	cacheMu sync.Mutex
	cache   map[uint64]cachedBlock
}

// cachedBlock is a data block kept LZ4-packed in the reader's optional
// block cache, along with its original (decompressed) length.
type cachedBlock struct {
	packed []byte
	rawLen int
}

var readerIDSeq uint64

func nextReaderID() uint64 {
	return atomic.AddUint64(&readerIDSeq, 1)
}

// cacheKeyFor digests this reader's identity and a data block's file
// offset into a single cache key via XXH3, avoiding a struct-keyed map.
func (r *Reader) cacheKeyFor(offset uint64) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], r.id)
	binary.LittleEndian.PutUint64(buf[8:16], offset)
	return checksum.XXH3_64bits(buf[:])
}

// Open parses file's footer, index block, meta-index block, and (if
// configured) filter block.
func Open(file ReadableFile, opts ReaderOptions) (*Reader, error) {
	o := opts.withDefaults()

	size := file.Size()
	if size < block.FooterEncodedLength {
		return nil, fmt.Errorf("table: file too small to contain a footer: %w", ErrCorruption)
	}

	footerBuf := make([]byte, block.FooterEncodedLength)
	if _, err := file.ReadAt(footerBuf, size-block.FooterEncodedLength); err != nil {
		return nil, fmt.Errorf("table: read footer: %w", err)
	}

	footer, err := block.DecodeFooter(footerBuf)
	if err != nil {
		return nil, fmt.Errorf("table: decode footer: %w", err)
	}

	r := &Reader{file: file, opts: o, footer: footer, id: nextReaderID()}
	if o.CacheBlocks {
		r.cache = make(map[uint64]cachedBlock)
	}

	indexData, err := r.readBlockData(footer.IndexHandle)
	if err != nil {
		return nil, fmt.Errorf("table: read index block: %w", err)
	}
	indexBlock, err := block.NewBlock(indexData)
	if err != nil {
		return nil, fmt.Errorf("table: parse index block: %w", err)
	}
	r.indexBlock = indexBlock

	if o.FilterPolicy != nil {
		metaData, err := r.readBlockData(footer.MetaindexHandle)
		if err != nil {
			return nil, fmt.Errorf("table: read meta-index block: %w", err)
		}
		metaBlock, err := block.NewBlock(metaData)
		if err != nil {
			return nil, fmt.Errorf("table: parse meta-index block: %w", err)
		}

		filterHandle, ok, err := lookupFilterHandle(metaBlock, o.FilterPolicy.Name())
		if err != nil {
			return nil, fmt.Errorf("table: parse meta-index entry: %w", err)
		}
		if ok {
			filterData, err := r.readBlockData(filterHandle)
			if err != nil {
				return nil, fmt.Errorf("table: read filter block: %w", err)
			}
			r.filterReader = filterblock.NewReader(o.FilterPolicy, filterData)
			o.Logger.Debugf(logging.NSFilter+"loaded filter block %q (%d bytes)", o.FilterPolicy.Name(), len(filterData))
		} else {
			o.Logger.Warnf(logging.NSFilter+"filter policy %q configured but table has no matching filter block", o.FilterPolicy.Name())
		}
	}

	return r, nil
}

// lookupFilterHandle scans metaBlock for the "filter.<name>" entry.
func lookupFilterHandle(metaBlock *block.Block, policyName string) (block.Handle, bool, error) {
	it := metaBlock.NewIterator(comparer.Default)
	target := []byte("filter." + policyName)
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if string(it.Key()) == string(target) {
			h, err := block.DecodeHandleFrom(it.Value())
			if err != nil {
				return block.Handle{}, false, err
			}
			return h, true, nil
		}
	}
	return block.Handle{}, false, it.Error()
}

// readBlockData reads, checksums, and decompresses the block at handle,
// returning its raw (uncompressed) contents.
func (r *Reader) readBlockData(handle block.Handle) ([]byte, error) {
	if handle.Size > maxBlockSize {
		return nil, fmt.Errorf("table: block size %d exceeds limit: %w", handle.Size, ErrCorruption)
	}

	total := handle.Size + block.BlockTrailerSize
	buf := make([]byte, total)
	if _, err := r.file.ReadAt(buf, int64(handle.Offset)); err != nil {
		return nil, err
	}

	payload := buf[:handle.Size]
	trailer := buf[handle.Size:]
	compressionType := trailer[0]

	if r.opts.VerifyChecksums {
		stored := binary.LittleEndian.Uint32(trailer[1:])
		computed := checksum.ComputeBlockChecksum(payload, compressionType)
		if stored != computed {
			return nil, fmt.Errorf("table: block checksum mismatch at offset %d: %w", handle.Offset, ErrCorruption)
		}
	}

	decompressed, err := compression.Decompress(compression.Type(compressionType), payload)
	if err != nil {
		return nil, fmt.Errorf("table: decompress block: %w", err)
	}
	return decompressed, nil
}

// readDataBlock reads and parses the data block at handle, consulting the
// reader's optional block cache first.
func (r *Reader) readDataBlock(handle block.Handle) (*block.Block, error) {
	if r.cache == nil {
		data, err := r.readBlockData(handle)
		if err != nil {
			return nil, err
		}
		return block.NewBlock(data)
	}

	key := r.cacheKeyFor(handle.Offset)

	r.cacheMu.Lock()
	entry, hit := r.cache[key]
	r.cacheMu.Unlock()

	if hit {
		data, err := compression.DecompressScratch(entry.packed, entry.rawLen)
		if err == nil {
			return block.NewBlock(data)
		}
		// Fall through and re-read from the file if the cached entry
		// somehow failed to unpack.
	}

	data, err := r.readBlockData(handle)
	if err != nil {
		return nil, err
	}

	packed := compression.CompressScratch(data)
	r.cacheMu.Lock()
	r.cache[key] = cachedBlock{packed: packed, rawLen: len(data)}
	r.cacheMu.Unlock()

	return block.NewBlock(data)
}

// KeyMayMatch reports whether key may be present in the data block
// starting at blockOffset, consulting the filter block if one was loaded.
// Absent a filter, it conservatively returns true.
func (r *Reader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	if r.filterReader == nil {
		return true
	}
	return r.filterReader.KeyMayMatch(blockOffset, filterKey(key))
}

// HasFilter reports whether this table has a loaded filter block.
func (r *Reader) HasFilter() bool {
	return r.filterReader != nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// ApproximateOffsetOf returns the approximate file offset of the start of
// the data block that would contain key: the offset of the data block
// whose index entry is the first >= key, or the file size if no such
// entry exists.
func (r *Reader) ApproximateOffsetOf(key []byte) uint64 {
	it := r.indexBlock.NewIterator(r.opts.Comparator)
	it.Seek(key)
	if it.Valid() {
		handle, err := block.DecodeHandleFrom(it.Value())
		if err == nil {
			return handle.Offset
		}
	}
	return uint64(r.file.Size())
}

// NewIterator returns a two-level iterator over the table's entries in
// key order.
func (r *Reader) NewIterator() *TableIterator {
	return &TableIterator{
		r:         r,
		indexIter: r.indexBlock.NewIterator(r.opts.Comparator),
	}
}

// TableIterator is a two-level iterator: it walks the index block to find
// candidate data blocks, then iterates within the loaded data block.
type TableIterator struct {
	r         *Reader
	indexIter *block.Iterator
	dataBlock *block.Block
	dataIter  *block.Iterator
	err       error
}

// Valid reports whether the iterator is positioned at an entry.
func (it *TableIterator) Valid() bool {
	return it.err == nil && it.dataIter != nil && it.dataIter.Valid()
}

// Error returns any error encountered while loading a data block.
func (it *TableIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.dataIter != nil {
		return it.dataIter.Error()
	}
	return nil
}

// Key returns the current entry's key.
func (it *TableIterator) Key() []byte {
	return it.dataIter.Key()
}

// Value returns the current entry's value.
func (it *TableIterator) Value() []byte {
	return it.dataIter.Value()
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *TableIterator) SeekToFirst() {
	it.indexIter.SeekToFirst()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToFirst()
	}
	it.skipEmptyBlocksForward()
}

// SeekToLast positions the iterator at the table's last entry.
func (it *TableIterator) SeekToLast() {
	it.indexIter.SeekToLast()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToLast()
	}
	it.skipEmptyBlocksBackward()
}

// Seek positions the iterator at the first entry with key >= target.
func (it *TableIterator) Seek(target []byte) {
	it.indexIter.Seek(target)
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.Seek(target)
	}
	it.skipEmptyBlocksForward()
}

// Next advances to the next entry. Advancing an exhausted iterator is a
// no-op that leaves it invalid.
func (it *TableIterator) Next() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Next()
	it.skipEmptyBlocksForward()
}

// Prev moves to the previous entry. Advancing an exhausted iterator is a
// no-op that leaves it invalid.
func (it *TableIterator) Prev() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Prev()
	it.skipEmptyBlocksBackward()
}

// skipEmptyBlocksForward advances past any data block that turned out to
// have no entry satisfying the last Seek/SeekToFirst (possible with a
// zero-restart block), moving the index iterator forward as needed.
func (it *TableIterator) skipEmptyBlocksForward() {
	for it.err == nil && (it.dataIter == nil || !it.dataIter.Valid()) {
		if it.dataIter != nil && it.dataIter.Error() != nil {
			it.err = it.dataIter.Error()
			return
		}
		it.indexIter.Next()
		if !it.indexIter.Valid() {
			it.dataIter = nil
			return
		}
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToFirst()
		}
	}
}

// skipEmptyBlocksBackward is skipEmptyBlocksForward's mirror for Prev.
func (it *TableIterator) skipEmptyBlocksBackward() {
	for it.err == nil && (it.dataIter == nil || !it.dataIter.Valid()) {
		if it.dataIter != nil && it.dataIter.Error() != nil {
			it.err = it.dataIter.Error()
			return
		}
		it.indexIter.Prev()
		if !it.indexIter.Valid() {
			it.dataIter = nil
			return
		}
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToLast()
		}
	}
}

// loadDataBlock loads the data block referenced by the index iterator's
// current entry, or clears dataIter if the index iterator is invalid.
func (it *TableIterator) loadDataBlock() {
	if !it.indexIter.Valid() {
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	handle, err := block.DecodeHandleFrom(it.indexIter.Value())
	if err != nil {
		it.err = fmt.Errorf("table: decode index entry: %w", err)
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	b, err := it.r.readDataBlock(handle)
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	it.dataBlock = b
	it.dataIter = b.NewIterator(it.r.opts.Comparator)
}
