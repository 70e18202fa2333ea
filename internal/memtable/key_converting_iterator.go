package memtable

import "encoding/binary"

// KeyConvertingIterator wraps a MemTableIterator to project its internal
// keys down to plain user keys, for callers (tests, and the DB's user-key
// facing iterators) that don't want to see the sequence/type trailer.
//
// Reference: LevelDB db/memtable.cc (KeyConvertingIterator), which exists
// for exactly this purpose: converting the internal-key iterator a
// MemTable produces into one a Table-building merge pass can consume
// alongside user-key iterators.
type KeyConvertingIterator struct {
	iter *MemTableIterator
}

// NewKeyConvertingIterator wraps iter.
func NewKeyConvertingIterator(iter *MemTableIterator) *KeyConvertingIterator {
	return &KeyConvertingIterator{iter: iter}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *KeyConvertingIterator) Valid() bool {
	return it.iter.Valid()
}

// SeekToFirst positions the iterator at the least user key.
func (it *KeyConvertingIterator) SeekToFirst() {
	it.iter.SeekToFirst()
}

// SeekToLast positions the iterator at the greatest user key.
func (it *KeyConvertingIterator) SeekToLast() {
	it.iter.SeekToLast()
}

// Seek positions the iterator at the first entry whose projected user key
// is >= target. target is a plain user key, not an internal key.
func (it *KeyConvertingIterator) Seek(target []byte) {
	internal := make([]byte, len(target)+8)
	copy(internal, target)
	// The maximum trailer value sorts before every real entry for this
	// user key (internal keys order ties by descending sequence/type),
	// so seeking with it lands on the newest entry for target, if any.
	binary.LittleEndian.PutUint64(internal[len(target):], ^uint64(0))
	it.iter.Seek(internal)
}

// Next advances to the next entry.
func (it *KeyConvertingIterator) Next() {
	it.iter.Next()
}

// Prev moves to the previous entry.
func (it *KeyConvertingIterator) Prev() {
	it.iter.Prev()
}

// Key returns the current entry's user key, with the internal-key
// sequence/type trailer stripped off.
func (it *KeyConvertingIterator) Key() []byte {
	return it.iter.UserKey()
}

// Value returns the current entry's value.
func (it *KeyConvertingIterator) Value() []byte {
	return it.iter.Value()
}

// Error reports ErrCorruptEntry if the entry at the current position
// could not be parsed as a well-formed internal key.
func (it *KeyConvertingIterator) Error() error {
	return it.iter.Error()
}
