package mockcluster

import (
	"encoding/binary"
	"hash/crc32"
)

// buildRecordBatch constructs a minimal, CRC-valid Kafka RecordBatch v2
// header declaring count records. The mock never looks past the header
// (spec.md: MessageSet bytes are "opaque... stored intact"), so the
// individual per-record payload is omitted — only the fixed 61-byte prefix
// partition.go's recordBatchCount actually parses.
func buildRecordBatch(count int32) []byte {
	buf := make([]byte, recordBatchV2HeaderLen)
	binary.BigEndian.PutUint32(buf[8:12], uint32(recordBatchV2HeaderLen-12)) // batchLength
	buf[16] = 2                                                              // magic
	binary.BigEndian.PutUint32(buf[23:27], uint32(count-1))                  // lastOffsetDelta
	binary.BigEndian.PutUint32(buf[57:61], uint32(count))                    // recordsCount
	crc := crc32.Checksum(buf[21:recordBatchV2HeaderLen], crcCastagnoli)
	binary.BigEndian.PutUint32(buf[17:21], crc)
	return buf
}

// decodeBaseOffset reads the baseOffset field a stored batch's bytes carry,
// the same 8 bytes a real consumer decodes record offsets from.
func decodeBaseOffset(batch []byte) int64 {
	return int64(binary.BigEndian.Uint64(batch[0:8]))
}
