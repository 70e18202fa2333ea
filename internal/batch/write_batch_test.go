package batch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// testHandler records all operations for verification.
type testHandler struct {
	puts    []kvPair
	deletes [][]byte
}

type kvPair struct {
	key   []byte
	value []byte
}

func (h *testHandler) Put(key, value []byte) error {
	h.puts = append(h.puts, kvPair{dup(key), dup(value)})
	return nil
}

func (h *testHandler) Delete(key []byte) error {
	h.deletes = append(h.deletes, dup(key))
	return nil
}

func dup(b []byte) []byte {
	r := make([]byte, len(b))
	copy(r, b)
	return r
}

func TestWriteBatchEmpty(t *testing.T) {
	wb := New()

	if wb.Count() != 0 {
		t.Errorf("Count = %d, want 0", wb.Count())
	}
	if wb.Size() != HeaderSize {
		t.Errorf("Size = %d, want %d", wb.Size(), HeaderSize)
	}
}

func TestWriteBatchPut(t *testing.T) {
	wb := New()
	wb.Put([]byte("key1"), []byte("value1"))

	if wb.Count() != 1 {
		t.Errorf("Count = %d, want 1", wb.Count())
	}

	h := &testHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(h.puts) != 1 {
		t.Fatalf("Expected 1 put, got %d", len(h.puts))
	}
	if !bytes.Equal(h.puts[0].key, []byte("key1")) {
		t.Errorf("Key = %q, want 'key1'", h.puts[0].key)
	}
	if !bytes.Equal(h.puts[0].value, []byte("value1")) {
		t.Errorf("Value = %q, want 'value1'", h.puts[0].value)
	}
}

func TestWriteBatchDelete(t *testing.T) {
	wb := New()
	wb.Delete([]byte("key1"))

	if wb.Count() != 1 {
		t.Errorf("Count = %d, want 1", wb.Count())
	}

	h := &testHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(h.deletes) != 1 {
		t.Fatalf("Expected 1 delete, got %d", len(h.deletes))
	}
	if !bytes.Equal(h.deletes[0], []byte("key1")) {
		t.Errorf("Key = %q, want 'key1'", h.deletes[0])
	}
}

func TestWriteBatchMultipleOperations(t *testing.T) {
	wb := New()
	wb.Put([]byte("k1"), []byte("v1"))
	wb.Delete([]byte("k2"))
	wb.Put([]byte("k3"), []byte("v3"))

	if wb.Count() != 3 {
		t.Errorf("Count = %d, want 3", wb.Count())
	}

	h := &testHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(h.puts) != 2 {
		t.Errorf("Expected 2 puts, got %d", len(h.puts))
	}
	if len(h.deletes) != 1 {
		t.Errorf("Expected 1 delete, got %d", len(h.deletes))
	}
}

func TestWriteBatchClear(t *testing.T) {
	wb := New()
	wb.SetSequence(77)
	wb.Put([]byte("k1"), []byte("v1"))
	wb.Put([]byte("k2"), []byte("v2"))

	if wb.Count() != 2 {
		t.Errorf("Count before clear = %d, want 2", wb.Count())
	}

	wb.Clear()

	if wb.Count() != 0 {
		t.Errorf("Count after clear = %d, want 0", wb.Count())
	}
	if wb.Sequence() != 0 {
		t.Errorf("Sequence after clear = %d, want 0", wb.Sequence())
	}
	if wb.Size() != HeaderSize {
		t.Errorf("Size after clear = %d, want %d", wb.Size(), HeaderSize)
	}
}

func TestWriteBatchSequence(t *testing.T) {
	wb := New()

	if wb.Sequence() != 0 {
		t.Errorf("Initial sequence = %d, want 0", wb.Sequence())
	}

	wb.SetSequence(12345)
	if wb.Sequence() != 12345 {
		t.Errorf("Sequence = %d, want 12345", wb.Sequence())
	}

	wb.SetSequence(0xFFFFFFFFFFFFFFFF)
	if wb.Sequence() != 0xFFFFFFFFFFFFFFFF {
		t.Errorf("Sequence = %d, want max uint64", wb.Sequence())
	}
}

func TestWriteBatchApproximateSize(t *testing.T) {
	wb := New()

	prev := wb.ApproximateSize()
	if prev != HeaderSize {
		t.Errorf("ApproximateSize of empty batch = %d, want %d", prev, HeaderSize)
	}

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			wb.Put([]byte("key"), []byte("value"))
		} else {
			wb.Delete([]byte("key"))
		}
		got := wb.ApproximateSize()
		if got <= prev {
			t.Fatalf("ApproximateSize did not grow: %d -> %d", prev, got)
		}
		prev = got
	}
}

func TestWriteBatchClone(t *testing.T) {
	wb := New()
	wb.SetSequence(42)
	wb.Put([]byte("key"), []byte("value"))

	clone := wb.Clone()

	// Mutating the original must not leak into the clone.
	wb.Delete([]byte("other"))

	if clone.Count() != 1 {
		t.Errorf("clone Count = %d, want 1", clone.Count())
	}
	if clone.Sequence() != 42 {
		t.Errorf("clone Sequence = %d, want 42", clone.Sequence())
	}
	if wb.Count() != 2 {
		t.Errorf("original Count = %d, want 2", wb.Count())
	}
}

func TestWriteBatchFromData(t *testing.T) {
	// Create a batch and get its data
	wb1 := New()
	wb1.SetSequence(999)
	wb1.Put([]byte("key"), []byte("value"))

	// Create a new batch from the same data
	wb2, err := NewFromData(wb1.Data())
	if err != nil {
		t.Fatalf("NewFromData failed: %v", err)
	}

	if wb2.Sequence() != 999 {
		t.Errorf("Sequence = %d, want 999", wb2.Sequence())
	}
	if wb2.Count() != 1 {
		t.Errorf("Count = %d, want 1", wb2.Count())
	}

	h := &testHandler{}
	if err := wb2.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(h.puts) != 1 {
		t.Fatalf("Expected 1 put, got %d", len(h.puts))
	}
}

func TestWriteBatchTooSmall(t *testing.T) {
	_, err := NewFromData(make([]byte, 5))
	if !errors.Is(err, ErrTooSmall) {
		t.Errorf("Expected ErrTooSmall, got %v", err)
	}
}

func TestWriteBatchEmptyKey(t *testing.T) {
	wb := New()
	wb.Put([]byte{}, []byte("value"))

	h := &testHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(h.puts) != 1 {
		t.Fatalf("Expected 1 put, got %d", len(h.puts))
	}
	if len(h.puts[0].key) != 0 {
		t.Errorf("Key should be empty")
	}
}

func TestWriteBatchEmptyValue(t *testing.T) {
	wb := New()
	wb.Put([]byte("key"), []byte{})

	h := &testHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(h.puts) != 1 {
		t.Fatalf("Expected 1 put, got %d", len(h.puts))
	}
	if len(h.puts[0].value) != 0 {
		t.Errorf("Value should be empty")
	}
}

func TestWriteBatchLargeData(t *testing.T) {
	wb := New()

	// Create a 1KB key and 10KB value
	key := make([]byte, 1024)
	value := make([]byte, 10*1024)
	for i := range key {
		key[i] = byte(i % 256)
	}
	for i := range value {
		value[i] = byte(i % 256)
	}

	wb.Put(key, value)

	h := &testHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if !bytes.Equal(h.puts[0].key, key) {
		t.Error("Key mismatch")
	}
	if !bytes.Equal(h.puts[0].value, value) {
		t.Error("Value mismatch")
	}
}

// -----------------------------------------------------------------------------
// Additional tests for C++ parity
// Based on db/write_batch_test.cc
// -----------------------------------------------------------------------------

func TestWriteBatchAppend(t *testing.T) {
	// Test appending batches (matches C++ Append test)
	wb1 := New()
	wb1.Put([]byte("a"), []byte("va"))
	wb1.Put([]byte("b"), []byte("vb"))

	wb2 := New()
	wb2.Put([]byte("c"), []byte("vc"))
	wb2.Delete([]byte("d"))

	wb1.Append(wb2)

	if wb1.Count() != 4 {
		t.Errorf("Count = %d, want 4", wb1.Count())
	}

	h := &testHandler{}
	if err := wb1.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(h.puts) != 3 {
		t.Errorf("Expected 3 puts, got %d", len(h.puts))
	}
	if len(h.deletes) != 1 {
		t.Errorf("Expected 1 delete, got %d", len(h.deletes))
	}
}

func TestWriteBatchAppendEmpty(t *testing.T) {
	wb1 := New()
	wb1.Put([]byte("a"), []byte("va"))

	wb2 := New() // Empty

	countBefore := wb1.Count()
	wb1.Append(wb2)

	if wb1.Count() != countBefore {
		t.Errorf("Count should not change when appending empty batch")
	}
}

func TestWriteBatchCorruptionTruncatedKey(t *testing.T) {
	wb := New()
	wb.Put([]byte("key"), []byte("value"))

	// Truncate the data to corrupt it
	wb.data = wb.data[:len(wb.data)-3]

	h := &testHandler{}
	err := wb.Iterate(h)
	if err == nil {
		t.Error("Expected error for truncated batch")
	}
}

func TestWriteBatchCorruptionBadVarint(t *testing.T) {
	// Create a batch with an invalid varint
	data := make([]byte, HeaderSize+5)
	binary.LittleEndian.PutUint64(data[0:8], 0)  // sequence
	binary.LittleEndian.PutUint32(data[8:12], 1) // count

	// Add a Put tag followed by invalid varint (all high bits set)
	data[HeaderSize] = TypeValue
	data[HeaderSize+1] = 0xFF
	data[HeaderSize+2] = 0xFF
	data[HeaderSize+3] = 0xFF
	data[HeaderSize+4] = 0xFF

	wb, err := NewFromData(data)
	if err != nil {
		t.Fatalf("NewFromData failed: %v", err)
	}

	h := &testHandler{}
	err = wb.Iterate(h)
	if err == nil {
		t.Error("Expected error for bad varint")
	}
}

func TestWriteBatchCorruptionUnknownTag(t *testing.T) {
	// Tags beyond Put/Delete are corruption: 0xFF is nothing, and 0x02 is
	// a merge record in fuller engines, which this core refuses rather
	// than misinterprets.
	for _, tag := range []byte{0xFF, 0x02, 0x0F} {
		data := make([]byte, HeaderSize+1)
		binary.LittleEndian.PutUint64(data[0:8], 0)  // sequence
		binary.LittleEndian.PutUint32(data[8:12], 1) // count
		data[HeaderSize] = tag

		wb, err := NewFromData(data)
		if err != nil {
			t.Fatalf("NewFromData failed: %v", err)
		}

		h := &testHandler{}
		err = wb.Iterate(h)
		if !errors.Is(err, ErrCorrupted) {
			t.Errorf("tag 0x%02x: expected ErrCorrupted, got %v", tag, err)
		}
	}
}

func TestWriteBatchManyOperations(t *testing.T) {
	wb := New()

	// Add many operations
	for i := 0; i < 1000; i++ {
		key := []byte(string(rune('a' + (i % 26))))
		value := []byte("value")
		wb.Put(key, value)
	}

	if wb.Count() != 1000 {
		t.Errorf("Count = %d, want 1000", wb.Count())
	}

	h := &testHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(h.puts) != 1000 {
		t.Errorf("Expected 1000 puts, got %d", len(h.puts))
	}
}

func TestWriteBatchBinaryData(t *testing.T) {
	// Test with binary data including null bytes
	wb := New()

	key := []byte{0x00, 0x01, 0x02, 0xFF, 0xFE}
	value := []byte{0xFF, 0x00, 0x00, 0xFF, 0x01}

	wb.Put(key, value)

	h := &testHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if !bytes.Equal(h.puts[0].key, key) {
		t.Errorf("Key mismatch with binary data")
	}
	if !bytes.Equal(h.puts[0].value, value) {
		t.Errorf("Value mismatch with binary data")
	}
}

func TestWriteBatchDataConsistency(t *testing.T) {
	// Create a batch, get data, create another batch from it, verify equality
	wb1 := New()
	wb1.SetSequence(12345)
	wb1.Put([]byte("key1"), []byte("value1"))
	wb1.Delete([]byte("key2"))

	data := wb1.Data()

	wb2, err := NewFromData(data)
	if err != nil {
		t.Fatalf("NewFromData failed: %v", err)
	}

	if wb2.Sequence() != 12345 {
		t.Errorf("Sequence = %d, want 12345", wb2.Sequence())
	}
	if wb2.Count() != 2 {
		t.Errorf("Count = %d, want 2", wb2.Count())
	}

	// Iterate both and compare
	h1 := &testHandler{}
	h2 := &testHandler{}
	wb1.Iterate(h1)
	wb2.Iterate(h2)

	if len(h1.puts) != len(h2.puts) {
		t.Error("Put counts don't match")
	}
	if len(h1.deletes) != len(h2.deletes) {
		t.Error("Delete counts don't match")
	}
}

func TestWriteBatchIterateError(t *testing.T) {
	// Handler that returns error
	errorHandler := &errorReturningHandler{
		errorOnPut: true,
	}

	wb := New()
	wb.Put([]byte("k1"), []byte("v1"))
	wb.Put([]byte("k2"), []byte("v2"))

	err := wb.Iterate(errorHandler)
	if err == nil {
		t.Error("Expected error from handler")
	}

	// Only first put should have been processed
	if errorHandler.putCount != 1 {
		t.Errorf("putCount = %d, want 1 (should stop after first error)", errorHandler.putCount)
	}
}

type errorReturningHandler struct {
	testHandler
	errorOnPut bool
	putCount   int
}

func (h *errorReturningHandler) Put(key, value []byte) error {
	h.putCount++
	if h.errorOnPut {
		return errors.New("intentional error")
	}
	return nil
}

// Benchmark tests
func BenchmarkWriteBatchPut(b *testing.B) {
	key := []byte("key")
	value := []byte("value")

	for i := 0; i < b.N; i++ {
		wb := New()
		wb.Put(key, value)
	}
}

func BenchmarkWriteBatchIterate(b *testing.B) {
	wb := New()
	for __i := 0; __i < 100; __i++ {
		wb.Put([]byte("key"), []byte("value"))
	}

	h := &testHandler{}

	for i := 0; i < b.N; i++ {
		h.puts = h.puts[:0]
		wb.Iterate(h)
	}
}
