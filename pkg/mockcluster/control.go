package mockcluster

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/grafana/mockkafka/pkg/mockcluster/kerrs"
)

// This file is the public control API: a threadsafe façade whose mutating
// calls are marshalled through the control queue, and whose read-only
// accessors (Bootstrap, ID, already defined in cluster.go) bypass it.

// PushError queues injected errors for apiKey (or ApiKeyAny for a
// wildcard): the next len(errs) matching responses will carry errs[0],
// errs[1], ... in order, then revert to normal behavior.
func (c *Cluster) PushError(apiKey int16, errs ...int16) {
	// The error-stack store carries its own lock, so this bypasses the
	// control queue entirely — it is the one mutation allowed to happen
	// off the cluster goroutine.
	c.errStack.push(apiKey, errs)
}

// ApiKeyAny is the wildcard ApiKey scope for PushError: the pushed errors
// apply to the next matching request regardless of its ApiKey.
const ApiKeyAny = apiKeyAny

// CreateTopic creates a topic with the given partition count and
// replication factor.
func (c *Cluster) CreateTopic(ctx context.Context, name string, partitionCnt, replicationFactor int) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		if c.findTopicLocked(name) != nil {
			return errors.Errorf("mockcluster: topic %q already exists", name)
		}
		if _, code := c.newTopicLocked(name, partitionCnt, replicationFactor); code != kerrs.None {
			return errors.Wrap(kerrs.ErrorFromCode(code), "mockcluster: creating topic")
		}
		return nil
	}})
}

// SetTopicError makes every protocol request touching this topic report
// errCode (kerrs.None to clear).
func (c *Cluster) SetTopicError(ctx context.Context, topic string, errCode int16) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		t := c.findTopicLocked(topic)
		if t == nil {
			return errors.Errorf("mockcluster: unknown topic %q", topic)
		}
		t.Err = errCode
		return nil
	}})
}

// SetLeader reassigns partition's leader to the broker with the given id,
// which must already be one of its replicas.
func (c *Cluster) SetLeader(ctx context.Context, topic string, partition int32, brokerID int32) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		p, err := c.lookupPartitionLocked(topic, partition)
		if err != nil {
			return err
		}
		b := c.findBrokerLocked(brokerID)
		if b == nil {
			return errors.Errorf("mockcluster: unknown broker id %d", brokerID)
		}
		for _, r := range p.replicas {
			if r.ID == b.ID {
				p.leader = b
				return nil
			}
		}
		return errors.Errorf("mockcluster: broker %d is not a replica of %s/%d", brokerID, topic, partition)
	}})
}

// SetReplicas replaces partition's replica set wholesale. The current
// leader is retained only if still present in the new set; otherwise the
// first replica becomes leader.
func (c *Cluster) SetReplicas(ctx context.Context, topic string, partition int32, brokerIDs ...int32) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		p, err := c.lookupPartitionLocked(topic, partition)
		if err != nil {
			return err
		}
		replicas := make([]*Broker, 0, len(brokerIDs))
		for _, id := range brokerIDs {
			b := c.findBrokerLocked(id)
			if b == nil {
				return errors.Errorf("mockcluster: unknown broker id %d", id)
			}
			replicas = append(replicas, b)
		}
		if len(replicas) == 0 {
			return errors.New("mockcluster: replica set must be non-empty")
		}
		p.replicas = replicas

		stillLeader := false
		for _, r := range replicas {
			if p.leader != nil && r.ID == p.leader.ID {
				stillLeader = true
				break
			}
		}
		if !stillLeader {
			p.leader = replicas[0]
		}
		return nil
	}})
}

// SetPreferredFollower designates brokerID as partition's preferred read
// replica for fetches opting into follower reads. brokerID 0 clears the
// preference.
func (c *Cluster) SetPreferredFollower(ctx context.Context, topic string, partition int32, brokerID int32) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		p, err := c.lookupPartitionLocked(topic, partition)
		if err != nil {
			return err
		}
		p.followerID = brokerID
		return nil
	}})
}

// SetPartitionOffsets implements spec.md's "set partition offsets": directly
// overrides the leader start/end offsets and, for each follower offset whose
// tracking flag is set, mirrors them onto the follower offsets too (as append
// would).
func (c *Cluster) SetPartitionOffsets(ctx context.Context, topic string, partition int32, start, end int64) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		p, err := c.lookupPartitionLocked(topic, partition)
		if err != nil {
			return err
		}
		p.startOffset, p.endOffset = start, end
		if p.trackFollowerStart {
			p.followerStartOffset = start
		}
		if p.trackFollowerEnd {
			p.followerEndOffset = end
		}
		return nil
	}})
}

// SetFollowerOffsets implements the follower half of spec.md's partition
// offset control, used by S5-style scenarios that deliberately lag a
// follower behind its leader. Setting either offset here also stops that
// offset from auto-tracking the leader on subsequent appends.
func (c *Cluster) SetFollowerOffsets(ctx context.Context, topic string, partition int32, start, end int64) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		p, err := c.lookupPartitionLocked(topic, partition)
		if err != nil {
			return err
		}
		p.followerStartOffset, p.followerEndOffset = start, end
		p.trackFollowerStart, p.trackFollowerEnd = false, false
		return nil
	}})
}

// SetBrokerRack implements spec.md's "set broker rack".
func (c *Cluster) SetBrokerRack(ctx context.Context, brokerID int32, rack string) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		b := c.findBrokerLocked(brokerID)
		if b == nil {
			return errors.Errorf("mockcluster: unknown broker id %d", brokerID)
		}
		b.Rack = rack
		return nil
	}})
}

// SetAutoCreateDefaults implements spec.md's "set auto-create defaults".
func (c *Cluster) SetAutoCreateDefaults(ctx context.Context, enabled bool, partitionCnt, replicationFactor int) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		c.autoCreateEnabled = enabled
		c.defaults.partitionCnt = partitionCnt
		c.defaults.replicationFactor = replicationFactor
		return nil
	}})
}

// SetConnectionWriteDelay implements the optional write-delay timer named
// in spec.md §4.D, applied to every connection currently open on the given
// broker. Connections opened after the call are unaffected.
func (c *Cluster) SetConnectionWriteDelay(ctx context.Context, brokerID int32, delay time.Duration) error {
	return c.withContext(ctx, controlOp{done: make(chan error, 1), fn: func(c *Cluster) error {
		b := c.findBrokerLocked(brokerID)
		if b == nil {
			return errors.Errorf("mockcluster: unknown broker id %d", brokerID)
		}
		for conn := range b.conns {
			conn.writeDelay = delay
		}
		return nil
	}})
}

// lookupPartitionLocked resolves a (topic, partition) pair or returns a
// descriptive error. Must run on the cluster goroutine.
func (c *Cluster) lookupPartitionLocked(topic string, partition int32) (*Partition, error) {
	t := c.findTopicLocked(topic)
	if t == nil {
		return nil, errors.Errorf("mockcluster: unknown topic %q", topic)
	}
	p := findPartitionLocked(t, partition)
	if p == nil {
		return nil, errors.Errorf("mockcluster: unknown partition %s/%d", topic, partition)
	}
	return p, nil
}
