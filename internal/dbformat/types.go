// Package dbformat provides the internal key format layered on top of user
// keys: every entry stored in a memtable or table is tagged with a sequence
// number and a value type so that multiple versions of the same user key can
// coexist and be ordered newest-first.
//
// Reference: RocksDB v10.7.5
//   - db/dbformat.h
//   - db/dbformat.cc
package dbformat

import (
	"errors"
	"fmt"

	"github.com/nlowe/ridgekv/internal/comparer"
	"github.com/nlowe/ridgekv/internal/encoding"
)

// SequenceNumber is a 56-bit sequence number (stored in the upper 56 bits of
// the 64-bit trailer).
type SequenceNumber uint64

// MaxSequenceNumber is the maximum valid sequence number (2^56 - 1). Sequence
// 0 is reserved and never assigned to a real entry.
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// NumInternalBytes is the size of the internal key trailer (sequence + type).
const NumInternalBytes = 8

// ValueType records whether an internal key represents a live value or a
// tombstone. It occupies the low 8 bits of the packed trailer and is part of
// the on-disk format: these two values must never change.
type ValueType uint8

const (
	TypeDeletion ValueType = 0x00
	TypeValue    ValueType = 0x01
)

// ValueTypeForSeek is used when seeking to find the newest version of a
// specific user key: seek to the key as if it had the highest possible type
// for its sequence, so real entries at strictly lower sequences sort after.
const ValueTypeForSeek = TypeValue

// ValueTypeForSeekForPrev is the matching floor type used for backward seeks.
const ValueTypeForSeekForPrev = TypeDeletion

var (
	// ErrKeyTooSmall is returned when an internal key is smaller than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key too small")

	// ErrInvalidValueType is returned when the value type is not recognized.
	ErrInvalidValueType = errors.New("dbformat: invalid value type")
)

// IsValueType reports whether t is one of the two value types this package
// supports storing.
func IsValueType(t ValueType) bool {
	return t == TypeDeletion || t == TypeValue
}

// PackSequenceAndType packs a sequence number and value type into a 64-bit
// value. The sequence number occupies the upper 56 bits, the type the lower 8.
//
// PackSequenceAndType panics if seq exceeds MaxSequenceNumber: that is a
// programmer error (sequence exhaustion), not a recoverable status, matching
// the core's convention that out-of-range construction is a logic fault.
func PackSequenceAndType(seq SequenceNumber, t ValueType) uint64 {
	if seq > MaxSequenceNumber {
		panic(fmt.Sprintf("dbformat: sequence number %d exceeds MaxSequenceNumber", seq))
	}
	return (uint64(seq) << 8) | uint64(t)
}

// UnpackSequenceAndType extracts the sequence number and value type from a
// packed 64-bit value.
func UnpackSequenceAndType(packed uint64) (SequenceNumber, ValueType) {
	return SequenceNumber(packed >> 8), ValueType(packed & 0xFF)
}

// ParsedInternalKey represents a parsed internal key.
type ParsedInternalKey struct {
	UserKey  []byte
	Sequence SequenceNumber
	Type     ValueType
}

// String returns a human-readable representation.
func (p *ParsedInternalKey) String() string {
	return fmt.Sprintf("{UserKey: %q, Seq: %d, Type: %d}", p.UserKey, p.Sequence, p.Type)
}

// EncodedLength returns the length of the encoded internal key.
func (p *ParsedInternalKey) EncodedLength() int {
	return len(p.UserKey) + NumInternalBytes
}

// AppendInternalKey appends the serialization of key to dst.
func AppendInternalKey(dst []byte, key *ParsedInternalKey) []byte {
	dst = append(dst, key.UserKey...)
	packed := PackSequenceAndType(key.Sequence, key.Type)
	return encoding.AppendFixed64(dst, packed)
}

// ParseInternalKey parses an internal key from data.
// Returns an error if the key is corrupted.
func ParseInternalKey(data []byte) (*ParsedInternalKey, error) {
	n := len(data)
	if n < NumInternalBytes {
		return nil, ErrKeyTooSmall
	}

	packed := encoding.DecodeFixed64(data[n-NumInternalBytes:])
	seq, t := UnpackSequenceAndType(packed)

	result := &ParsedInternalKey{
		UserKey:  data[:n-NumInternalBytes],
		Sequence: seq,
		Type:     t,
	}

	if !IsValueType(t) {
		return result, ErrInvalidValueType
	}

	return result, nil
}

// ExtractUserKey returns the user key portion of an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes
func ExtractUserKey(internalKey []byte) []byte {
	if len(internalKey) < NumInternalBytes {
		return nil
	}
	return internalKey[:len(internalKey)-NumInternalBytes]
}

// ExtractValueType returns the value type from an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes
func ExtractValueType(internalKey []byte) ValueType {
	if len(internalKey) < NumInternalBytes {
		return TypeDeletion
	}
	n := len(internalKey)
	packed := encoding.DecodeFixed64(internalKey[n-NumInternalBytes:])
	return ValueType(packed & 0xFF)
}

// ExtractSequenceNumber returns the sequence number from an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes
func ExtractSequenceNumber(internalKey []byte) SequenceNumber {
	if len(internalKey) < NumInternalBytes {
		return 0
	}
	n := len(internalKey)
	packed := encoding.DecodeFixed64(internalKey[n-NumInternalBytes:])
	return SequenceNumber(packed >> 8)
}

// InternalKey is an encoded internal key stored as a byte slice.
type InternalKey []byte

// NewInternalKey creates a new internal key from user key, sequence, and type.
func NewInternalKey(userKey []byte, seq SequenceNumber, t ValueType) InternalKey {
	return AppendInternalKey(nil, &ParsedInternalKey{
		UserKey:  userKey,
		Sequence: seq,
		Type:     t,
	})
}

// UserKey returns the user key portion.
func (k InternalKey) UserKey() []byte {
	return ExtractUserKey(k)
}

// Sequence returns the sequence number.
func (k InternalKey) Sequence() SequenceNumber {
	return ExtractSequenceNumber(k)
}

// Type returns the value type.
func (k InternalKey) Type() ValueType {
	return ExtractValueType(k)
}

// Valid returns true if this is a valid internal key.
func (k InternalKey) Valid() bool {
	if len(k) < NumInternalBytes {
		return false
	}
	_, err := ParseInternalKey(k)
	return err == nil
}

// Parse returns the parsed internal key.
func (k InternalKey) Parse() (*ParsedInternalKey, error) {
	return ParseInternalKey(k)
}

// DebugString returns a debug string representation of the parsed internal key.
func (p *ParsedInternalKey) DebugString() string {
	return fmt.Sprintf("'%s' @ %d : %d", p.UserKey, p.Sequence, p.Type)
}

// =============================================================================
// InternalKeyComparator
// =============================================================================

// InternalKeyComparator wraps a user-supplied comparer.Comparator and orders
// internal keys by (user key ascending, sequence descending, type
// descending), so a forward scan over a user key visits its newest version
// first. It implements comparer.Comparator itself, so it can be passed
// directly to the block and table layers wherever they need to order or
// shorten internal keys.
//
// Reference: RocksDB v10.7.5 db/dbformat.h InternalKeyComparator::Compare
type InternalKeyComparator struct {
	userCmp comparer.Comparator
}

// NewInternalKeyComparator wraps userCmp. A nil userCmp defaults to bytewise.
func NewInternalKeyComparator(userCmp comparer.Comparator) *InternalKeyComparator {
	if userCmp == nil {
		userCmp = comparer.Default
	}
	return &InternalKeyComparator{userCmp: userCmp}
}

// DefaultInternalKeyComparator is the default comparator using bytewise user key ordering.
var DefaultInternalKeyComparator = NewInternalKeyComparator(comparer.Default)

// Compare implements comparer.Comparator.
func (c *InternalKeyComparator) Compare(a, b []byte) int {
	userKeyA := ExtractUserKey(a)
	userKeyB := ExtractUserKey(b)
	if userKeyA == nil {
		userKeyA = a
	}
	if userKeyB == nil {
		userKeyB = b
	}

	if cmp := c.userCmp.Compare(userKeyA, userKeyB); cmp != 0 {
		return cmp
	}

	if len(a) >= NumInternalBytes && len(b) >= NumInternalBytes {
		trailerA := encoding.DecodeFixed64(a[len(a)-NumInternalBytes:])
		trailerB := encoding.DecodeFixed64(b[len(b)-NumInternalBytes:])
		if trailerA > trailerB {
			return -1
		}
		if trailerA < trailerB {
			return 1
		}
	}
	return 0
}

// Name implements comparer.Comparator.
func (c *InternalKeyComparator) Name() string {
	return "leveldb.InternalKeyComparator." + c.userCmp.Name()
}

// FindShortestSeparator shortens the user-key portion of a and, when it
// does, attaches a (MaxSequenceNumber, ValueTypeForSeek) trailer so the
// result remains a valid internal key that still sorts strictly between the
// two inputs; otherwise it returns a copy of a.
func (c *InternalKeyComparator) FindShortestSeparator(a, b []byte) []byte {
	userA := ExtractUserKey(a)
	userB := ExtractUserKey(b)
	shortened := c.userCmp.FindShortestSeparator(userA, userB)
	if len(shortened) < len(userA) && c.userCmp.Compare(userA, shortened) < 0 {
		return NewInternalKey(shortened, MaxSequenceNumber, ValueTypeForSeek)
	}
	return append([]byte(nil), a...)
}

// FindShortSuccessor shortens the user-key portion of a for the final index
// entry of a block.
func (c *InternalKeyComparator) FindShortSuccessor(a []byte) []byte {
	userA := ExtractUserKey(a)
	shortened := c.userCmp.FindShortSuccessor(userA)
	if len(shortened) < len(userA) && c.userCmp.Compare(userA, shortened) < 0 {
		return NewInternalKey(shortened, MaxSequenceNumber, ValueTypeForSeek)
	}
	return append([]byte(nil), a...)
}

// CompareUserKey compares just the user key portion of two internal keys.
func (c *InternalKeyComparator) CompareUserKey(a, b []byte) int {
	userKeyA := ExtractUserKey(a)
	userKeyB := ExtractUserKey(b)
	if userKeyA == nil {
		userKeyA = a
	}
	if userKeyB == nil {
		userKeyB = b
	}
	return c.userCmp.Compare(userKeyA, userKeyB)
}

// UserComparator returns the wrapped user-key comparator.
func (c *InternalKeyComparator) UserComparator() comparer.Comparator {
	return c.userCmp
}

// CompareInternalKeys is a convenience function using the default bytewise comparator.
func CompareInternalKeys(a, b []byte) int {
	return DefaultInternalKeyComparator.Compare(a, b)
}
