/*
Package ridgekv provides the core, storage-format building blocks of a
RocksDB-compatible embedded key/value store: the sorted block codec, the
SST table builder and reader, the memtable, the write batch, and the Bloom
filter policy that ties point lookups to the table's filter block.

ridgekv targets on-disk format compatibility with RocksDB v10.7.5 for the
pieces it implements: SST blocks, the table footer, and the write-batch
wire format. The version set, compaction scheduler, write-ahead log, and
public DB façade that would sit on top of this package are out of scope;
this module consumes them only as interfaces (a random-access reader, an
append-only writer, a key comparator, optional compressors).

# Usage

internal/table, internal/block, internal/memtable, internal/batch, and
internal/filter are usable independently: build a table with
table.NewTableBuilder, read one back with table.Open, accumulate writes in
a memtable.MemTable, and replay a batch.WriteBatch into one with
InsertInto.

# Concurrency

A single memtable supports one concurrent writer alongside any number of
concurrent readers holding their own iterators; Comparators and
compressors are shared read-only across goroutines. A Table, once
written, is read-only for its lifetime and its Reader may be used
concurrently by multiple iterators.

# Compatibility

SST files produced by internal/table are intended to be byte-for-byte
readable by RocksDB v10.7.5's legacy (non-format-version) table reader,
and vice versa.

Reference: RocksDB v10.7.5 table/table_builder.cc, table/table.cc
*/
package ridgekv
