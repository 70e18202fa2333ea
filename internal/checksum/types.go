// types.go provides the checksum helper used for block trailers: the core
// has exactly one on-disk checksum algorithm, CRC32C, so unlike RocksDB this
// package does not expose a pluggable checksum type.
package checksum

// ComputeBlockChecksum computes the masked CRC32C checksum of a block
// trailer: the block's (possibly compressed) bytes followed by the
// compression-type byte, matching the on-disk trailer layout.
func ComputeBlockChecksum(data []byte, compressionType byte) uint32 {
	crc := Value(data)
	crc = Extend(crc, []byte{compressionType})
	return Mask(crc)
}
