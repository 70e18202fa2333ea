// Package batch implements the WriteBatch format for atomic writes.
//
// WriteBatch Format:
//
//	Header (12 bytes):
//	  - 8 bytes: base sequence number (little-endian uint64)
//	  - 4 bytes: count (little-endian uint32)
//	Records (repeated):
//	  - Put:    0x01, length-prefixed key, length-prefixed value
//	  - Delete: 0x00, length-prefixed key
//
// A batch carries exactly the record kinds the memtable can represent.
// Any other tag value is treated as corruption on read: the engines this
// format descends from define further record kinds (merges, range
// deletions, column-family variants), and refusing them outright is safer
// than replaying half of a batch whose semantics this core cannot honor.
//
// Reference: RocksDB v10.7.5
//   - db/write_batch.cc
//   - db/write_batch_internal.h
//   - db/dbformat.h (ValueType enum)
package batch

import (
	"encoding/binary"
	"errors"

	"github.com/nlowe/ridgekv/internal/dbformat"
	"github.com/nlowe/ridgekv/internal/encoding"
	"github.com/nlowe/ridgekv/internal/logging"
	"github.com/nlowe/ridgekv/internal/memtable"
)

// HeaderSize is the size in bytes of the WriteBatch header (8 bytes sequence + 4 bytes count).
const HeaderSize = 12

// Record type tags. These are wire values shared with dbformat.ValueType
// and must never change.
const (
	TypeDeletion byte = 0x00
	TypeValue    byte = 0x01
)

var (
	// ErrCorrupted indicates a malformed WriteBatch.
	ErrCorrupted = errors.New("batch: corrupted write batch")

	// ErrTooSmall indicates the batch is smaller than the header.
	ErrTooSmall = errors.New("batch: too small")
)

// WriteBatch represents a collection of writes to be applied atomically.
type WriteBatch struct {
	data []byte // The raw batch data including header
}

// New creates a new empty WriteBatch.
func New() *WriteBatch {
	return &WriteBatch{
		data: make([]byte, HeaderSize),
	}
}

// NewFromData creates a WriteBatch from existing data.
func NewFromData(data []byte) (*WriteBatch, error) {
	if len(data) < HeaderSize {
		return nil, ErrTooSmall
	}
	return &WriteBatch{data: data}, nil
}

// Clear resets the batch to the empty 12-byte header: zero records, zero
// sequence.
func (wb *WriteBatch) Clear() {
	wb.data = wb.data[:HeaderSize]
	for i := range wb.data {
		wb.data[i] = 0
	}
}

// Data returns the raw batch data.
func (wb *WriteBatch) Data() []byte {
	return wb.data
}

// Clone creates a deep copy of the WriteBatch.
func (wb *WriteBatch) Clone() *WriteBatch {
	clone := &WriteBatch{
		data: make([]byte, len(wb.data)),
	}
	copy(clone.data, wb.data)
	return clone
}

// Size returns the size of the batch data in bytes.
func (wb *WriteBatch) Size() int {
	return len(wb.data)
}

// ApproximateSize returns the batch's current encoded length. It is
// monotone non-decreasing as records are added, until Clear.
func (wb *WriteBatch) ApproximateSize() int {
	return len(wb.data)
}

// Count returns the number of records in the batch.
func (wb *WriteBatch) Count() uint32 {
	return binary.LittleEndian.Uint32(wb.data[8:12])
}

// SetCount sets the count field.
func (wb *WriteBatch) SetCount(count uint32) {
	binary.LittleEndian.PutUint32(wb.data[8:12], count)
}

// Sequence returns the base sequence number of the batch.
func (wb *WriteBatch) Sequence() uint64 {
	return binary.LittleEndian.Uint64(wb.data[0:8])
}

// SetSequence sets the base sequence number of the batch.
func (wb *WriteBatch) SetSequence(seq uint64) {
	binary.LittleEndian.PutUint64(wb.data[0:8], seq)
}

// Put adds a Put record to the batch.
func (wb *WriteBatch) Put(key, value []byte) {
	wb.data = append(wb.data, TypeValue)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, value)
	wb.SetCount(wb.Count() + 1)
}

// Delete adds a Delete record to the batch.
func (wb *WriteBatch) Delete(key []byte) {
	wb.data = append(wb.data, TypeDeletion)
	wb.data = encoding.AppendLengthPrefixedSlice(wb.data, key)
	wb.SetCount(wb.Count() + 1)
}

// Append appends the contents of another batch to this batch.
// The sequence number of the source batch is ignored.
func (wb *WriteBatch) Append(src *WriteBatch) {
	if src.Count() == 0 {
		return
	}
	// Append everything after the header from the source
	wb.data = append(wb.data, src.data[HeaderSize:]...)
	// Add the counts
	wb.SetCount(wb.Count() + src.Count())
}

// Handler is called for each record in the batch during iteration.
type Handler interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Iterate calls the handler for each record in the batch. A record whose
// tag is not a Put or Delete, or whose bytes cannot be parsed, stops the
// iteration with ErrCorrupted; records already handed to the handler stay
// handled.
func (wb *WriteBatch) Iterate(handler Handler) error {
	if len(wb.data) < HeaderSize {
		return ErrTooSmall
	}

	data := wb.data[HeaderSize:]

	for len(data) > 0 {
		tag := data[0]
		data = data[1:]

		var key, value []byte
		var err error

		switch tag {
		case TypeValue:
			key, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			value, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			if err := handler.Put(key, value); err != nil {
				return err
			}

		case TypeDeletion:
			key, data, err = decodeLengthPrefixed(data)
			if err != nil {
				return err
			}
			if err := handler.Delete(key); err != nil {
				return err
			}

		default:
			return ErrCorrupted
		}
	}

	return nil
}

// InsertInto replays wb's records into mt, assigning sequence numbers
// wb.Sequence(), wb.Sequence()+1, ... in record order: Put becomes
// dbformat.TypeValue, Delete becomes dbformat.TypeDeletion. Trailing bytes
// that fail to parse are reported as ErrCorrupted, as is a final count
// that disagrees with the header's record count; records preceding the
// failure stay inserted.
func (wb *WriteBatch) InsertInto(mt *memtable.MemTable) error {
	return wb.InsertIntoWithLogger(mt, logging.Discard)
}

// InsertIntoWithLogger is InsertInto, logging Warnf when the replay stops
// early or the applied record count disagrees with the header.
func (wb *WriteBatch) InsertIntoWithLogger(mt *memtable.MemTable, logger logging.Logger) error {
	if logging.IsNil(logger) {
		logger = logging.Discard
	}
	inserter := &memtableInserter{mt: mt, seq: dbformat.SequenceNumber(wb.Sequence())}
	if err := wb.Iterate(inserter); err != nil {
		logger.Warnf(logging.NSBatch+"replay stopped after %d of %d records: %v", inserter.count, wb.Count(), err)
		return err
	}
	if inserter.count != wb.Count() {
		logger.Warnf(logging.NSBatch+"replay applied %d records, header declares %d", inserter.count, wb.Count())
		return ErrCorrupted
	}
	logger.Debugf(logging.NSBatch+"replayed %d records starting at sequence %d", inserter.count, wb.Sequence())
	return nil
}

// memtableInserter implements Handler, applying each record to a memtable
// at the next sequence number.
type memtableInserter struct {
	mt    *memtable.MemTable
	seq   dbformat.SequenceNumber
	count uint32
}

func (in *memtableInserter) Put(key, value []byte) error {
	in.mt.Add(in.seq, dbformat.TypeValue, key, value)
	in.seq++
	in.count++
	return nil
}

func (in *memtableInserter) Delete(key []byte) error {
	in.mt.Add(in.seq, dbformat.TypeDeletion, key, nil)
	in.seq++
	in.count++
	return nil
}

func decodeLengthPrefixed(data []byte) ([]byte, []byte, error) {
	if len(data) == 0 {
		return nil, nil, ErrCorrupted
	}
	length, n, err := encoding.DecodeVarint32(data)
	if err != nil {
		return nil, nil, ErrCorrupted
	}
	data = data[n:]
	if len(data) < int(length) {
		return nil, nil, ErrCorrupted
	}
	value := data[:length]
	return value, data[length:], nil
}
