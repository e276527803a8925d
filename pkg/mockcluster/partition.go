package mockcluster

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/pkg/errors"
)

// recordBatchV2HeaderLen is the fixed-size prefix of a Kafka RecordBatch
// (magic byte 2): baseOffset(8) batchLength(4) partitionLeaderEpoch(4)
// magic(1) crc(4) attributes(2) lastOffsetDelta(4) firstTimestamp(8)
// maxTimestamp(8) producerId(8) producerEpoch(2) baseSequence(4) recordsCount(4).
const recordBatchV2HeaderLen = 61

// crcCastagnoli matches the CRC-32C checksum real Kafka brokers use to
// validate v2 record batches (the "crc" field covers everything after it).
var crcCastagnoli = crc32.MakeTable(crc32.Castagnoli)

// MessageSet is an opaque, pre-serialized RecordBatch tagged with the
// offset range it occupies. Spec.md: "the core does not re-encode producer
// batches" — bytes are stored and returned intact.
type MessageSet struct {
	FirstOffset int64
	LastOffset  int64
	Bytes       []byte
}

// CommittedOffset is the latest committed (group, partition) entry.
type CommittedOffset struct {
	Group    string
	Offset   int64
	Metadata []byte
}

// Partition is owned by its Topic. Fields mirror rd_kafka_mock_partition_s.
type Partition struct {
	ID int32

	topic *Topic

	startOffset         int64
	endOffset           int64
	followerStartOffset int64
	followerEndOffset   int64
	trackFollowerStart  bool
	trackFollowerEnd    bool

	msgsets []*MessageSet
	size    int
	maxSize int
	maxCnt  int

	committed map[string]*CommittedOffset // keyed by group

	leader      *Broker
	replicas    []*Broker
	followerID  int32 // preferred replica/follower, 0 if unset
}

func newPartition(t *Topic, id int32, maxSize, maxCnt int) *Partition {
	return &Partition{
		ID:                 id,
		topic:              t,
		trackFollowerStart: true,
		trackFollowerEnd:   true,
		maxSize:            maxSize,
		maxCnt:             maxCnt,
		committed:          make(map[string]*CommittedOffset),
	}
}

// EndOffset returns the leader's current high-watermark.
func (p *Partition) EndOffset() int64 { return p.endOffset }

// StartOffset returns the leader's current low-watermark.
func (p *Partition) StartOffset() int64 { return p.startOffset }

// recordBatchCount parses just the header of a v2 record batch to recover
// the number of records it contains. Returns a kerrs.InvalidRecord-worthy
// error if the header can't be parsed.
func recordBatchCount(batch []byte) (int32, error) {
	if len(batch) < recordBatchV2HeaderLen {
		return 0, errors.Errorf("record batch too short: %d bytes, need at least %d", len(batch), recordBatchV2HeaderLen)
	}
	magic := int8(batch[16])
	if magic != 2 {
		return 0, errors.Errorf("unsupported record batch magic byte %d, only v2 (magic=2) batches are accepted", magic)
	}

	declaredLen := int32(binary.BigEndian.Uint32(batch[8:12]))
	// batchLength excludes the baseOffset and batchLength fields themselves.
	if declaredLen < recordBatchV2HeaderLen-12 {
		return 0, errors.Errorf("record batch declares length %d, shorter than the %d-byte header", declaredLen, recordBatchV2HeaderLen-12)
	}
	if int(declaredLen)+12 > len(batch) {
		return 0, errors.Errorf("record batch declares length %d but only %d bytes available", declaredLen, len(batch)-12)
	}

	crcField := binary.BigEndian.Uint32(batch[17:21])
	computed := crc32.Checksum(batch[21:declaredLen+12], crcCastagnoli)
	if crcField != computed {
		return 0, errors.Errorf("record batch crc mismatch: header says %d, computed %d", crcField, computed)
	}

	count := int32(binary.BigEndian.Uint32(batch[57:61]))
	if count < 0 {
		return 0, errors.Errorf("record batch declares negative record count %d", count)
	}
	return count, nil
}

// appendBatch assigns a base offset, stores the msgset, advances endOffset,
// mirrors onto follower offsets when tracked, and enforces retention.
// Returns the assigned base offset.
func (p *Partition) appendBatch(batch []byte) (int64, error) {
	n, err := recordBatchCount(batch)
	if err != nil {
		return 0, fmt.Errorf("invalid_record: %w", err)
	}
	if n == 0 {
		n = 1 // a batch must carry at least one record's worth of offset space
	}

	base := p.endOffset
	last := base + int64(n) - 1

	// The producer always stamps baseOffset=0; a real broker rewrites it to
	// the offset actually assigned before storing the batch, so a consumer
	// decoding the served bytes recovers the partition's real offsets
	// instead of the producer's relative ones (rd_kafka_mock_partition_log_append
	// does the same baseOffset patch before persisting).
	binary.BigEndian.PutUint64(batch[0:8], uint64(base))

	p.msgsets = append(p.msgsets, &MessageSet{FirstOffset: base, LastOffset: last, Bytes: batch})
	p.size += len(batch)
	p.endOffset = last + 1

	if p.trackFollowerEnd {
		p.followerEndOffset = p.endOffset
	}

	p.trimRetention()

	return base, nil
}

// trimRetention enforces the partition's size/count bound: while
// size > maxSize or cnt > maxCnt, drop the oldest msgset and advance
// startOffset (and followerStartOffset if tracked).
func (p *Partition) trimRetention() {
	for len(p.msgsets) > 0 && (p.size > p.maxSize || len(p.msgsets) > p.maxCnt) {
		oldest := p.msgsets[0]
		p.msgsets = p.msgsets[1:]
		p.size -= len(oldest.Bytes)
		p.startOffset = oldest.LastOffset + 1
		if p.trackFollowerStart {
			p.followerStartOffset = p.startOffset
		}
	}
}

// findMsgset does an O(N) scan against bounded retention; the small,
// bounded msgset count per partition keeps this cheap in practice.
func (p *Partition) findMsgset(offset int64, onFollower bool) *MessageSet {
	start, end := p.startOffset, p.endOffset
	if onFollower {
		start, end = p.followerStartOffset, p.followerEndOffset
	}
	if offset < start || offset >= end {
		return nil
	}
	for _, ms := range p.msgsets {
		if offset >= ms.FirstOffset && offset <= ms.LastOffset {
			return ms
		}
	}
	return nil
}

// fetchFrom returns, in order, every msgset whose range intersects
// [offset, end) up to maxBytes of combined payload, honoring the
// leader/follower high-watermark the caller is entitled to see.
func (p *Partition) fetchFrom(offset int64, onFollower bool, maxBytes int) []*MessageSet {
	end := p.endOffset
	if onFollower {
		end = p.followerEndOffset
	}
	if offset >= end {
		return nil
	}

	var out []*MessageSet
	budget := maxBytes
	for _, ms := range p.msgsets {
		if ms.LastOffset < offset {
			continue
		}
		if onFollower && ms.FirstOffset >= p.followerEndOffset {
			break
		}
		if budget <= 0 && len(out) > 0 {
			break
		}
		out = append(out, ms)
		budget -= len(ms.Bytes)
	}
	return out
}

// commitOffset upserts the (group, partition) entry, retaining only the
// latest write.
func (p *Partition) commitOffset(group string, offset int64, metadata []byte) *CommittedOffset {
	md := make([]byte, len(metadata))
	copy(md, metadata)
	entry := &CommittedOffset{Group: group, Offset: offset, Metadata: md}
	p.committed[group] = entry
	return entry
}

// findCommittedOffset returns the committed entry for group, or nil.
func (p *Partition) findCommittedOffset(group string) *CommittedOffset {
	return p.committed[group]
}

// isLeader reports whether broker b is this partition's leader.
func (p *Partition) isLeader(b *Broker) bool {
	return p.leader != nil && b != nil && p.leader.ID == b.ID
}

// isPreferredFollower reports whether broker b is the partition's
// configured preferred-replica for read-only fetches.
func (p *Partition) isPreferredFollower(b *Broker) bool {
	return p.followerID != 0 && b != nil && p.followerID == b.ID
}
