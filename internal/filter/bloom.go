// Package filter implements Bloom filters for SST files.
//
// This package provides the classic LevelDB Bloom filter: a single bit
// array probed with a double-hashing scheme derived from one 32-bit hash,
// rather than RocksDB's newer cache-local FastLocalBloom. It trades cache
// locality for a simple, bit-exact, implementation-independent format.
//
// Filter data format:
//
//	data[0:len-1] = bit array
//	data[len-1]   = k, the number of hash probes per key
//
// Reference: LevelDB util/bloom.cc (BloomFilterPolicy)
package filter

import "encoding/binary"

// Policy maps a set of keys to a compact bit array and answers membership
// queries against it. FilterBlockBuilder/Reader are parameterized over a
// Policy so alternative filter implementations can be substituted.
type Policy interface {
	// Name identifies the filter policy. It is stored in the table's
	// meta-index as "filter." + Name().
	Name() string

	// CreateFilter builds a filter covering exactly the given keys.
	CreateFilter(keys [][]byte) []byte

	// KeyMayMatch reports whether key may be a member of the set that
	// produced filter. False means key is definitely absent.
	KeyMayMatch(key []byte, filter []byte) bool
}

// BloomPolicy is the classic LevelDB Bloom filter policy.
type BloomPolicy struct {
	bitsPerKey int
	k          int
}

// NewBloomPolicy creates a policy targeting bitsPerKey bits per key.
// 10 bits/key yields a false positive rate of about 1%.
func NewBloomPolicy(bitsPerKey int) *BloomPolicy {
	if bitsPerKey < 1 {
		bitsPerKey = 1
	}
	// k = bits_per_key * ln(2), rounded, clamped to [1, 30].
	k := int(float64(bitsPerKey)*0.69314718055994530942 + 0.5)
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return &BloomPolicy{bitsPerKey: bitsPerKey, k: k}
}

// Name implements Policy.
func (p *BloomPolicy) Name() string {
	return "leveldb.BuiltinBloomFilter"
}

// CreateFilter implements Policy.
func (p *BloomPolicy) CreateFilter(keys [][]byte) []byte {
	n := len(keys)

	bits := n * p.bitsPerKey
	if bits < 64 {
		// Very small filters have high false positive rates; force a
		// minimum bit count.
		bits = 64
	}
	bytes := (bits + 7) / 8
	bits = bytes * 8

	data := make([]byte, bytes+1)
	data[bytes] = byte(p.k)

	for _, key := range keys {
		h := BloomHash(key)
		delta := (h >> 17) | (h << 15) // rotate right 17 bits
		for j := 0; j < p.k; j++ {
			bitpos := h % uint32(bits)
			data[bitpos/8] |= 1 << (bitpos % 8)
			h += delta
		}
	}

	return data
}

// KeyMayMatch implements Policy.
func (p *BloomPolicy) KeyMayMatch(key []byte, filter []byte) bool {
	return keyMayMatch(key, filter)
}

// keyMayMatch reproduces the probing sequence and checks every probed bit.
// It does not depend on the policy's configured bitsPerKey: k is read back
// from the filter's trailing byte, so a reader can check a filter built by
// any policy instance.
func keyMayMatch(key []byte, filter []byte) bool {
	n := len(filter)
	if n < 2 {
		return false
	}

	bits := (n - 1) * 8
	k := int(filter[n-1])
	if k > 30 {
		// Reserved for future encodings; be conservative and say "present".
		return true
	}

	h := BloomHash(key)
	delta := (h >> 17) | (h << 15)
	for j := 0; j < k; j++ {
		bitpos := h % uint32(bits)
		if filter[bitpos/8]&(1<<(bitpos%8)) == 0 {
			return false
		}
		h += delta
	}
	return true
}

// BloomHash is LevelDB's general-purpose hash function (util/hash.cc),
// seeded for use by the Bloom filter. It is a Murmur-like hash that
// processes 4 bytes at a time with a trailing-byte tail.
func BloomHash(data []byte) uint32 {
	const seed = 0xbc9f1d34
	const m = 0xc6a4a793

	h := uint32(seed) ^ uint32(len(data))*m

	for len(data) >= 4 {
		w := binary.LittleEndian.Uint32(data)
		data = data[4:]
		h += w
		h *= m
		h ^= h >> 16
	}

	switch len(data) {
	case 3:
		h += uint32(data[2]) << 16
		fallthrough
	case 2:
		h += uint32(data[1]) << 8
		fallthrough
	case 1:
		h += uint32(data[0])
		h *= m
		h ^= h >> 24
	}

	return h
}

// BloomFilterBuilder accumulates keys for a single filter and produces its
// encoded bytes, wrapping a BloomPolicy. It exists so table and filterblock
// code can build a filter without depending on the Policy interface's key
// batching directly.
type BloomFilterBuilder struct {
	policy *BloomPolicy
	keys   [][]byte
}

// NewBloomFilterBuilder creates a new Bloom filter builder.
func NewBloomFilterBuilder(bitsPerKey int) *BloomFilterBuilder {
	return &BloomFilterBuilder{policy: NewBloomPolicy(bitsPerKey)}
}

// AddKey adds a key to the filter.
func (b *BloomFilterBuilder) AddKey(key []byte) {
	b.keys = append(b.keys, append([]byte(nil), key...))
}

// NumKeys returns the number of keys added since the last Reset.
func (b *BloomFilterBuilder) NumKeys() int {
	return len(b.keys)
}

// Policy returns the underlying filter policy.
func (b *BloomFilterBuilder) Policy() Policy {
	return b.policy
}

// Finish builds the filter and returns its encoded bytes.
func (b *BloomFilterBuilder) Finish() []byte {
	return b.policy.CreateFilter(b.keys)
}

// Reset clears the builder for reuse.
func (b *BloomFilterBuilder) Reset() {
	b.keys = b.keys[:0]
}

// BloomFilterReader answers membership queries against one encoded filter.
type BloomFilterReader struct {
	data []byte
}

// NewBloomFilterReader wraps previously encoded filter bytes.
func NewBloomFilterReader(data []byte) *BloomFilterReader {
	return &BloomFilterReader{data: data}
}

// MayContain returns true if key may be in the set that produced the filter.
func (r *BloomFilterReader) MayContain(key []byte) bool {
	if r == nil {
		return true
	}
	return keyMayMatch(key, r.data)
}
