package mockcluster

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTopic() *Topic {
	return &Topic{Name: "t", maxMsgsetSize: defaultPartitionMaxSize, maxMsgsetCnt: defaultPartitionMaxMsgsets}
}

// TestPartition_AppendBatch_AssignsSequentialBaseOffsets covers spec.md §8
// invariant 1: the returned base offset equals end_offset_before_call, and
// end_offset_after equals base+N.
func TestPartition_AppendBatch_AssignsSequentialBaseOffsets(t *testing.T) {
	p := newPartition(newTestTopic(), 0, defaultPartitionMaxSize, defaultPartitionMaxMsgsets)

	base, err := p.appendBatch(buildRecordBatch(1))
	require.NoError(t, err)
	assert.EqualValues(t, 0, base)
	assert.EqualValues(t, 1, p.endOffset)

	base, err = p.appendBatch(buildRecordBatch(3))
	require.NoError(t, err)
	assert.EqualValues(t, 1, base)
	assert.EqualValues(t, 4, p.endOffset)
}

// TestPartition_AppendBatch_PatchesStoredBaseOffset covers spec.md
// §8-S2: a consumer decodes record offsets straight out of the served
// bytes, so the producer's baseOffset=0 must be rewritten to the assigned
// offset before the msgset is stored — otherwise every fetched batch
// decodes as starting at 0 and a real client treats batches 2..k as
// already-consumed duplicates of batch 1.
func TestPartition_AppendBatch_PatchesStoredBaseOffset(t *testing.T) {
	p := newPartition(newTestTopic(), 0, defaultPartitionMaxSize, defaultPartitionMaxMsgsets)

	for i, want := range []int64{0, 1, 3} {
		batch := buildRecordBatch(int32([]int32{1, 2, 1}[i]))
		base, err := p.appendBatch(batch)
		require.NoError(t, err)
		require.EqualValues(t, want, base)
		assert.EqualValues(t, base, decodeBaseOffset(p.msgsets[i].Bytes),
			"stored batch bytes must carry the assigned base offset, not the producer's baseOffset=0")
	}
}

func TestPartition_AppendBatch_RejectsUnparseableBatch(t *testing.T) {
	p := newPartition(newTestTopic(), 0, defaultPartitionMaxSize, defaultPartitionMaxMsgsets)
	_, err := p.appendBatch([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestPartition_AppendBatch_MirrorsFollowerOffsetsWhenTracked(t *testing.T) {
	p := newPartition(newTestTopic(), 0, defaultPartitionMaxSize, defaultPartitionMaxMsgsets)
	require.True(t, p.trackFollowerEnd)

	_, err := p.appendBatch(buildRecordBatch(2))
	require.NoError(t, err)
	assert.EqualValues(t, p.endOffset, p.followerEndOffset)
}

// TestPartition_Retention_TrimsOldestOnSizeBound covers invariant 2.
func TestPartition_Retention_TrimsOldestOnSizeBound(t *testing.T) {
	batch := buildRecordBatch(1)
	p := newPartition(newTestTopic(), 0, len(batch)*2, 1000)

	for i := 0; i < 5; i++ {
		_, err := p.appendBatch(batch)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, p.size, p.maxSize+len(batch))
	assert.LessOrEqual(t, p.startOffset, p.endOffset)
	assert.EqualValues(t, 5, p.endOffset)
}

func TestPartition_Retention_TrimsOldestOnCountBound(t *testing.T) {
	batch := buildRecordBatch(1)
	p := newPartition(newTestTopic(), 0, 1<<30, 3)

	for i := 0; i < 10; i++ {
		_, err := p.appendBatch(batch)
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, len(p.msgsets), p.maxCnt)
	assert.LessOrEqual(t, p.startOffset, p.endOffset)
}

// TestPartition_RoundTrip_FetchReturnsConcatenatedBytes covers spec.md §8's
// round-trip property: a produce of B1..Bk followed by a fetch from offset
// 0 returns exactly the concatenated bytes of B1..Bk in order.
func TestPartition_RoundTrip_FetchReturnsConcatenatedBytes(t *testing.T) {
	p := newPartition(newTestTopic(), 0, defaultPartitionMaxSize, defaultPartitionMaxMsgsets)

	batches := [][]byte{buildRecordBatch(1), buildRecordBatch(2), buildRecordBatch(1)}
	var want []byte
	for _, b := range batches {
		_, err := p.appendBatch(b)
		require.NoError(t, err)
		want = append(want, b...)
	}

	got := p.fetchFrom(0, false, 1<<20)
	var gotBytes []byte
	for _, ms := range got {
		gotBytes = append(gotBytes, ms.Bytes...)
	}
	if diff := cmp.Diff(want, gotBytes); diff != "" {
		t.Fatalf("fetched bytes diverge from produced bytes (-want +got):\n%s", diff)
	}
}

func TestPartition_FindMsgset_OutOfRangeReturnsNil(t *testing.T) {
	p := newPartition(newTestTopic(), 0, defaultPartitionMaxSize, defaultPartitionMaxMsgsets)
	_, err := p.appendBatch(buildRecordBatch(2))
	require.NoError(t, err)

	assert.Nil(t, p.findMsgset(-1, false))
	assert.Nil(t, p.findMsgset(2, false), "offset at end_offset is not yet appended")
	assert.NotNil(t, p.findMsgset(0, false))
	assert.NotNil(t, p.findMsgset(1, false))
}

// TestPartition_CommittedOffset_UpsertLatestOnly covers invariant 6.
func TestPartition_CommittedOffset_UpsertLatestOnly(t *testing.T) {
	p := newPartition(newTestTopic(), 0, defaultPartitionMaxSize, defaultPartitionMaxMsgsets)

	p.commitOffset("g", 42, []byte("m1"))
	entry := p.findCommittedOffset("g")
	require.NotNil(t, entry)
	assert.EqualValues(t, 42, entry.Offset)
	assert.Equal(t, "m1", string(entry.Metadata))

	p.commitOffset("g", 50, []byte("m2"))
	entry = p.findCommittedOffset("g")
	require.NotNil(t, entry)
	assert.EqualValues(t, 50, entry.Offset)
	assert.Equal(t, "m2", string(entry.Metadata))
}

func TestPartition_CommittedOffset_UnknownGroupReturnsNil(t *testing.T) {
	p := newPartition(newTestTopic(), 0, defaultPartitionMaxSize, defaultPartitionMaxMsgsets)
	assert.Nil(t, p.findCommittedOffset("missing"))
}

// TestPartition_FollowerLag covers S5: a follower whose end offset lags the
// leader only serves msgsets up to its own (earlier) end offset.
func TestPartition_FollowerLag(t *testing.T) {
	p := newPartition(newTestTopic(), 0, defaultPartitionMaxSize, defaultPartitionMaxMsgsets)

	follower := &Broker{ID: 2}
	p.followerID = follower.ID
	p.replicas = []*Broker{{ID: 1}, follower}
	p.leader = p.replicas[0]

	for i := 0; i < 3; i++ {
		_, err := p.appendBatch(buildRecordBatch(1))
		require.NoError(t, err)
	}
	require.EqualValues(t, 3, p.endOffset)
	require.EqualValues(t, 3, p.followerEndOffset, "append mirrors onto the follower by default")

	// Now deliberately lag the follower behind the leader (S5: set
	// follower_end_offset behind leader, stop auto-tracking).
	p.followerEndOffset = 1
	p.trackFollowerEnd = false

	_, err := p.appendBatch(buildRecordBatch(1))
	require.NoError(t, err)
	assert.EqualValues(t, 4, p.endOffset, "leader keeps advancing")
	assert.EqualValues(t, 1, p.followerEndOffset, "follower no longer tracks leader once lag is set")

	assert.True(t, p.isPreferredFollower(follower))
	assert.False(t, p.isLeader(follower))

	msgsets := p.fetchFrom(0, true, 1<<20)
	assert.Len(t, msgsets, 1, "a follower fetch must only see msgsets up to its own end offset")
}
