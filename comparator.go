package ridgekv

// comparator.go implements key comparison.
//
// Comparator defines the total ordering over keys in the database.
// The default is bytewise comparison. Custom comparators enable
// application-specific key ordering.
//
// Reference: RocksDB v10.7.5
//   - include/rocksdb/comparator.h

import "github.com/nlowe/ridgekv/internal/comparer"

// Comparator defines a total ordering over keys.
type Comparator = comparer.Comparator

// BytewiseComparator is the default comparator that compares keys lexicographically.
type BytewiseComparator = comparer.BytewiseComparator

// DefaultComparator returns the default bytewise comparator.
func DefaultComparator() Comparator {
	return comparer.BytewiseComparator{}
}
