// Package filterblock groups per-data-block Bloom filters into a single
// filter block, indexed by data-block file offset, so a table reader can
// consult the filter covering a given block without parsing the whole
// filter set.
//
// Reference: syndtr/goleveldb table/table.go (filterWriter/filterBlock),
// adapted to this core's filter.Policy interface.
package filterblock

import (
	"github.com/nlowe/ridgekv/internal/encoding"
	"github.com/nlowe/ridgekv/internal/filter"
)

// BaseLg is the log2 of the byte window each filter covers: 2^11 = 2048.
const BaseLg = 11

// Builder accumulates keys per data block and emits one filter per
// 2^BaseLg-byte window of file offsets.
type Builder struct {
	policy filter.Policy

	keys    [][]byte // keys pending for the filter under construction
	result  []byte   // filters, concatenated back to back
	offsets []uint32 // result[] offset at which filter i begins
}

// NewBuilder creates a filter block builder using policy.
func NewBuilder(policy filter.Policy) *Builder {
	return &Builder{policy: policy}
}

// StartBlock is called whenever a new data block begins at blockOffset. It
// rounds down to the enclosing window and emits (possibly empty) filters for
// any windows skipped since the last call.
func (b *Builder) StartBlock(blockOffset uint64) {
	index := blockOffset >> BaseLg
	for uint64(len(b.offsets)) < index {
		b.generateFilter()
	}
}

// AddKey accumulates a key for the filter currently under construction.
func (b *Builder) AddKey(key []byte) {
	b.keys = append(b.keys, append([]byte(nil), key...))
}

// generateFilter closes out the current window: it records the window's
// start offset and, if any keys were added, appends their filter.
func (b *Builder) generateFilter() {
	b.offsets = append(b.offsets, uint32(len(b.result)))
	if len(b.keys) == 0 {
		return
	}
	b.result = append(b.result, b.policy.CreateFilter(b.keys)...)
	b.keys = b.keys[:0]
}

// Finish closes the final window and returns the encoded filter block:
// filter bytes, the offsets array, the array's own offset, and base_lg.
func (b *Builder) Finish() []byte {
	if len(b.keys) > 0 {
		b.generateFilter()
	}

	arrayOffset := uint32(len(b.result))
	out := append([]byte(nil), b.result...)
	for _, off := range b.offsets {
		out = encoding.AppendFixed32(out, off)
	}
	out = encoding.AppendFixed32(out, arrayOffset)
	out = append(out, byte(BaseLg))
	return out
}

// Reader answers KeyMayMatch queries against a parsed filter block.
type Reader struct {
	policy       filter.Policy
	data         []byte
	offsetsStart int
	numFilters   int
	baseLg       uint
}

// NewReader parses contents as a filter block built by Builder.
// Returns nil if contents is too short to be a well-formed filter block.
func NewReader(policy filter.Policy, contents []byte) *Reader {
	n := len(contents)
	if n < 5 {
		return nil
	}

	baseLg := uint(contents[n-1])
	arrayOffset := encoding.DecodeFixed32(contents[n-5:])
	if int(arrayOffset) > n-5 {
		return nil
	}

	numFilters := (n - 5 - int(arrayOffset)) / 4
	return &Reader{
		policy:       policy,
		data:         contents,
		offsetsStart: int(arrayOffset),
		numFilters:   numFilters,
		baseLg:       baseLg,
	}
}

// KeyMayMatch reports whether key may be present in the data block starting
// at blockOffset. A blockOffset beyond the filters actually recorded (e.g.
// because the table has no filter for trailing blocks) conservatively
// returns true.
func (r *Reader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	if r == nil {
		return true
	}

	index := int(blockOffset >> r.baseLg)
	if index >= r.numFilters {
		return true
	}

	start := encoding.DecodeFixed32(r.data[r.offsetsStart+index*4:])
	var limit uint32
	if index+1 < r.numFilters {
		limit = encoding.DecodeFixed32(r.data[r.offsetsStart+(index+1)*4:])
	} else {
		limit = uint32(r.offsetsStart)
	}

	if start > limit || int(limit) > r.offsetsStart {
		return true
	}

	f := r.data[start:limit]
	if len(f) == 0 {
		return false
	}
	return r.policy.KeyMayMatch(key, f)
}
