// Package options adapts RocksDB's OPTIONS-file convention down to the
// configuration this core actually honors: block/table layout and
// compression, plus a pass-through write_buffer_size for callers that
// manage memtable flushing themselves. Compaction style and level
// geometry are outside this core's scope and are not parsed.
//
// Reference: RocksDB v10.7.5 options/options_helper.cc, options/db_options.cc
package options

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/nlowe/ridgekv/internal/comparer"
	"github.com/nlowe/ridgekv/internal/compression"
	"github.com/nlowe/ridgekv/internal/filter"
)

// Options configures the block, table, and memtable layers.
type Options struct {
	// Comparator orders keys. A nil Comparator means comparer.Default.
	Comparator comparer.Comparator

	// BlockSize is the target size, in bytes, of a table's data blocks.
	BlockSize int

	// BlockRestartInterval is the number of entries between restart
	// points in a block.
	BlockRestartInterval int

	// Compression selects the on-disk block compressor.
	Compression compression.Type

	// FilterPolicy, if non-nil, builds and consults a table's filter block.
	FilterPolicy filter.Policy
}

// DefaultOptions returns the core's defaults: 4096-byte blocks, a restart
// interval of 16, and no compression or filter.
func DefaultOptions() Options {
	return Options{
		Comparator:           comparer.Default,
		BlockSize:            4096,
		BlockRestartInterval: 16,
		Compression:          compression.NoCompression,
	}
}

// ParsedOptions is the subset of an OPTIONS file this core recognizes.
type ParsedOptions struct {
	WriteBufferSize int64
	Compression     compression.Type
}

// ParseOptionsFile reads RocksDB's `.ini`-ish OPTIONS format from r,
// honoring only the [DBOptions] keys this core understands:
// write_buffer_size (kept as a pass-through value; this core doesn't flush
// memtables itself) and compression. Every other section and key,
// including [CFOptions] and compaction/level geometry, is skipped.
func ParseOptionsFile(r io.Reader) (*ParsedOptions, error) {
	opts := &ParsedOptions{
		WriteBufferSize: 64 * 1024 * 1024,
		Compression:     compression.NoCompression,
	}

	scanner := bufio.NewScanner(r)
	section := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = line[1 : len(line)-1]
			continue
		}

		if section != "DBOptions" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "write_buffer_size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				opts.WriteBufferSize = n
			}
		case "compression":
			opts.Compression = stringToCompressionType(value)
		}
	}

	return opts, scanner.Err()
}

// stringToCompressionType converts RocksDB's OPTIONS-file compression
// enum names to this core's compression.Type. Names this core has no
// wire value for (kZlibCompression, kLZ4Compression, kLZ4HCCompression,
// ...) fall back to NoCompression rather than erroring, so an OPTIONS
// file written by a fuller build still parses.
func stringToCompressionType(s string) compression.Type {
	switch s {
	case "kSnappyCompression":
		return compression.SnappyCompression
	case "kZSTD", "kZSTDNotFinalCompression":
		return compression.ZstdCompression
	default:
		return compression.NoCompression
	}
}
