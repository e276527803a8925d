package mockcluster

import "github.com/grafana/mockkafka/pkg/mockcluster/kerrs"

// Topic is owned by the Cluster. Mirrors rd_kafka_mock_topic_s: a name, a
// fixed-at-creation partition array, and a sticky error returned for every
// protocol request touching it.
type Topic struct {
	Name       string
	Partitions []*Partition
	Err        int16 // sticky error code, kerrs.None if healthy

	maxMsgsetSize int
	maxMsgsetCnt  int
}

func (c *Cluster) newTopicLocked(name string, partitionCnt, replicationFactor int) (*Topic, int16) {
	if replicationFactor > len(c.brokers) {
		return nil, kerrs.InvalidReplicationFactor
	}

	t := &Topic{
		Name:          name,
		maxMsgsetSize: c.defaultMaxPartitionSize,
		maxMsgsetCnt:  c.defaultMaxPartitionMsgsets,
	}

	for p := 0; p < partitionCnt; p++ {
		part := newPartition(t, int32(p), t.maxMsgsetSize, t.maxMsgsetCnt)

		replicas := make([]*Broker, 0, replicationFactor)
		for r := 0; r < replicationFactor; r++ {
			idx := (p + r) % len(c.brokers)
			replicas = append(replicas, c.brokers[idx])
		}
		part.replicas = replicas
		part.leader = replicas[0]

		t.Partitions = append(t.Partitions, part)
	}

	c.topics[name] = t
	c.topicOrder = append(c.topicOrder, name)
	return t, kerrs.None
}

// findTopicLocked returns the named topic, or nil. Must be called on the
// cluster goroutine (every field it reads is cluster-thread-exclusive).
func (c *Cluster) findTopicLocked(name string) *Topic {
	return c.topics[name]
}

// findOrAutoCreateTopicLocked handles a metadata request for an unknown
// topic: when auto-create is enabled, materialize it using the cluster's
// defaults instead of reporting it unknown.
func (c *Cluster) findOrAutoCreateTopicLocked(name string) (*Topic, int16) {
	if t := c.findTopicLocked(name); t != nil {
		return t, kerrs.None
	}
	if !c.autoCreateEnabled {
		return nil, kerrs.UnknownTopicOrPartition
	}
	return c.newTopicLocked(name, c.defaults.partitionCnt, c.defaults.replicationFactor)
}

// findPartitionLocked returns the partition by id within t, or nil.
func findPartitionLocked(t *Topic, id int32) *Partition {
	for _, p := range t.Partitions {
		if p.ID == id {
			return p
		}
	}
	return nil
}
