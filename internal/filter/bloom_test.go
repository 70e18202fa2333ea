package filter

import "testing"

// TestBloomHashEmptyInput pins the seed-only case (no bytes to mix in),
// which is the one BloomHash value simple enough to hand-verify: with no
// loop iterations and no tail bytes, the result is exactly the seed.
func TestBloomHashEmptyInput(t *testing.T) {
	if got, want := BloomHash(nil), uint32(0xbc9f1d34); got != want {
		t.Errorf("BloomHash(nil) = %#x, want seed %#x", got, want)
	}
}

// TestBloomHashDeterministicAndSensitive verifies BloomHash is a pure
// function of its input and that changing a single byte changes the hash
// (the double-hashing scheme's false-positive rate depends on this).
func TestBloomHashDeterministicAndSensitive(t *testing.T) {
	inputs := [][]byte{
		[]byte("a"),
		[]byte("ab"),
		[]byte("abc"),
		[]byte("abcd"),
		[]byte("abcde"),
		[]byte("the quick brown fox"),
	}

	seen := map[uint32]bool{}
	for _, in := range inputs {
		h1 := BloomHash(in)
		h2 := BloomHash(append([]byte(nil), in...))
		if h1 != h2 {
			t.Errorf("BloomHash(%q) not deterministic: %#x != %#x", in, h1, h2)
		}
		seen[h1] = true
	}
	if len(seen) != len(inputs) {
		t.Errorf("expected %d distinct hashes across distinct inputs, got %d", len(inputs), len(seen))
	}
}

func TestBloomFilterNoFalseNegatives(t *testing.T) {
	policy := NewBloomPolicy(10)

	keys := make([][]byte, 0, 1000)
	for i := 0; i < 1000; i++ {
		keys = append(keys, []byte{byte(i), byte(i >> 8)})
	}

	filter := policy.CreateFilter(keys)
	for _, k := range keys {
		if !policy.KeyMayMatch(k, filter) {
			t.Fatalf("KeyMayMatch(%v) = false, want true (no false negatives allowed)", k)
		}
	}
}

func TestBloomFilterFalsePositiveRateIsReasonable(t *testing.T) {
	policy := NewBloomPolicy(10)

	keys := make([][]byte, 0, 10000)
	for i := 0; i < 10000; i++ {
		keys = append(keys, []byte{byte(i), byte(i >> 8), byte(i >> 16)})
	}
	filter := policy.CreateFilter(keys)

	falsePositives := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		// Keys outside [0, 10000): offset into a disjoint range.
		probe := []byte{byte(i), byte(i >> 8), byte(i>>16 + 1), 0xff}
		if policy.KeyMayMatch(probe, filter) {
			falsePositives++
		}
	}

	// 10 bits/key targets ~1% false positives; allow generous headroom.
	if rate := float64(falsePositives) / trials; rate > 0.05 {
		t.Errorf("false positive rate %.4f exceeds 5%% budget", rate)
	}
}

func TestBloomFilterNameIsStable(t *testing.T) {
	if got, want := NewBloomPolicy(10).Name(), "leveldb.BuiltinBloomFilter"; got != want {
		t.Errorf("Name() = %q, want %q (this is the on-disk meta-index key suffix)", got, want)
	}
}

func TestBloomFilterEmptyKeySet(t *testing.T) {
	policy := NewBloomPolicy(10)
	filter := policy.CreateFilter(nil)
	if len(filter) == 0 {
		t.Fatal("CreateFilter(nil) produced an empty filter")
	}
	if policy.KeyMayMatch([]byte("anything"), filter) {
		t.Error("an empty filter should not match an arbitrary key")
	}
}

func TestBloomFilterBuilderRoundTrip(t *testing.T) {
	b := NewBloomFilterBuilder(10)
	b.AddKey([]byte("alpha"))
	b.AddKey([]byte("beta"))
	b.AddKey([]byte("gamma"))

	if got, want := b.NumKeys(), 3; got != want {
		t.Fatalf("NumKeys() = %d, want %d", got, want)
	}

	encoded := b.Finish()
	reader := NewBloomFilterReader(encoded)

	for _, k := range []string{"alpha", "beta", "gamma"} {
		if !reader.MayContain([]byte(k)) {
			t.Errorf("MayContain(%q) = false, want true", k)
		}
	}
}

func TestBloomFilterBuilderReset(t *testing.T) {
	b := NewBloomFilterBuilder(10)
	b.AddKey([]byte("x"))
	b.Reset()
	if got := b.NumKeys(); got != 0 {
		t.Errorf("NumKeys() after Reset = %d, want 0", got)
	}
}

// TestBloomFilterReaderNilIsPermissive matches LevelDB's convention that a
// missing filter (nil reader) never rejects a lookup.
func TestBloomFilterReaderNilIsPermissive(t *testing.T) {
	var r *BloomFilterReader
	if !r.MayContain([]byte("anything")) {
		t.Error("a nil BloomFilterReader should report every key as possibly present")
	}
}

func TestNewBloomPolicyClampsBitsPerKey(t *testing.T) {
	p := NewBloomPolicy(0)
	if p.bitsPerKey != 1 {
		t.Errorf("bitsPerKey = %d, want clamped to 1", p.bitsPerKey)
	}
}
