package mockcluster

import (
	"github.com/grafana/mockkafka/pkg/mockcluster/kerrs"
	"github.com/grafana/mockkafka/pkg/mockcluster/kwire"
)

// bufNewResponse implements spec.md's buf_new_response(request): a fresh
// writer for this connection's negotiated version (always non-flex for the
// version set this mock implements, see connection.go).
func bufNewResponse() *kwire.Writer {
	return kwire.NewWriter(false)
}

// sendResponse implements spec.md's send_response: frame body with the
// request's correlation id and enqueue it on the connection's outbound
// queue.
func sendResponse(conn *connection, correlationID int32, w *kwire.Writer) {
	conn.enqueue(kwire.FrameResponse(correlationID, w.Bytes()))
}

// injectedError consults the error-stack store per spec.md §4.E step 4.
// Must be called from the reactor goroutine (errStack has its own lock so
// this is also safe from elsewhere, but handlers always run on the reactor).
func (c *Cluster) injectedError(apiKey int16) (int16, bool) {
	return c.errStack.next(apiKey)
}

// ---- Metadata (ApiKey 3, v1) -------------------------------------------------

func handleMetadata(c *Cluster, conn *connection, req requestEvent) error {
	r := kwire.NewReader(req.body, false)

	var requested []string
	n, allTopics := r.NullableArrayLen()
	for i := 0; i < n; i++ {
		requested = append(requested, r.String())
	}
	if err := r.Complete(); err != nil {
		return err
	}

	injected, hasInjected := c.injectedError(apiKeyMetadata)
	if hasInjected {
		c.metrics.errorsInjected.WithLabelValues("3").Inc()
	}

	w := bufNewResponse()

	w.ArrayLen(len(c.brokers))
	for _, b := range c.brokers {
		w.Int32(b.ID)
		w.String(b.AdvertisedListener)
		w.Int32(int32(b.Port))
		w.NullableString(nilIfEmpty(b.Rack))
	}

	w.Int32(c.controllerID)

	var names []string
	if allTopics {
		names = append(names, c.topicOrder...)
	} else {
		names = requested
	}

	w.ArrayLen(len(names))
	for _, name := range names {
		topicErr := kerrs.None
		t := c.findTopicLocked(name)
		if t == nil {
			var code int16
			t, code = c.findOrAutoCreateTopicLocked(name)
			if t == nil {
				w.Int16(code)
				w.String(name)
				w.Bool(false)
				w.ArrayLen(0)
				continue
			}
		}
		if hasInjected {
			topicErr = injected
		} else if t.Err != kerrs.None {
			topicErr = t.Err
		}

		w.Int16(topicErr)
		w.String(t.Name)
		w.Bool(false) // is_internal

		w.ArrayLen(len(t.Partitions))
		for _, p := range t.Partitions {
			partErr := topicErr
			w.Int16(partErr)
			w.Int32(p.ID)
			leaderID := int32(-1)
			if p.leader != nil {
				leaderID = p.leader.ID
			}
			w.Int32(leaderID)

			w.ArrayLen(len(p.replicas)) // replica_nodes
			for _, rb := range p.replicas {
				w.Int32(rb.ID)
			}
			w.ArrayLen(len(p.replicas)) // isr_nodes: the mock does not model a shrinking ISR, so it always equals replicas
			for _, rb := range p.replicas {
				w.Int32(rb.ID)
			}
		}
	}

	sendResponse(conn, req.correlationID, w)
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ---- Produce (ApiKey 0, v3) --------------------------------------------------

func handleProduce(c *Cluster, conn *connection, req requestEvent) error {
	r := kwire.NewReader(req.body, false)

	_ = r.NullableString() // transactional_id, unused: transactions are a non-goal
	_ = r.Int16()          // acks
	_ = r.Int32()          // timeout_ms

	topicCnt := r.ArrayLen()
	type partResult struct {
		index int32
		code  int16
		base  int64
	}
	type topicResult struct {
		name  string
		parts []partResult
	}
	results := make([]topicResult, 0, topicCnt)

	injected, hasInjected := c.injectedError(apiKeyProduce)
	if hasInjected {
		c.metrics.errorsInjected.WithLabelValues("0").Inc()
	}

	for i := 0; i < topicCnt; i++ {
		topicName := r.String()
		partCnt := r.ArrayLen()
		tr := topicResult{name: topicName, parts: make([]partResult, 0, partCnt)}

		topic := c.findTopicLocked(topicName)

		for j := 0; j < partCnt; j++ {
			idx := r.Int32()
			records := r.Bytes()

			var code int16
			var base int64

			switch {
			case hasInjected:
				code = injected
			case topic == nil:
				code = kerrs.UnknownTopicOrPartition
			case topic.Err != kerrs.None:
				code = topic.Err
			default:
				part := findPartitionLocked(topic, idx)
				if part == nil {
					code = kerrs.UnknownTopicOrPartition
					break
				}
				var err error
				base, err = part.appendBatch(records)
				if err != nil {
					code = kerrs.InvalidRecord
					break
				}
				c.metrics.bytesAppended.Add(float64(len(records)))
			}

			tr.parts = append(tr.parts, partResult{index: idx, code: code, base: base})
		}
		results = append(results, tr)
	}
	if err := r.Complete(); err != nil {
		return err
	}

	w := bufNewResponse()
	w.ArrayLen(len(results))
	for _, tr := range results {
		w.String(tr.name)
		w.ArrayLen(len(tr.parts))
		for _, pr := range tr.parts {
			w.Int32(pr.index)
			w.Int16(pr.code)
			w.Int64(pr.base)
			w.Int64(-1) // log_append_time: unknown, the mock does not stamp wall-clock times on records
		}
	}
	w.Int32(0) // throttle_time_ms

	sendResponse(conn, req.correlationID, w)
	return nil
}

// ---- Fetch (ApiKey 1, v4) ------------------------------------------------

func handleFetch(c *Cluster, conn *connection, req requestEvent) error {
	r := kwire.NewReader(req.body, false)

	replicaID := r.Int32()
	_ = r.Int32() // max_wait_ms
	_ = r.Int32() // min_bytes
	maxBytes := int(r.Int32())
	_ = r.Int8() // isolation_level

	var requestingBroker *Broker
	if replicaID >= 0 {
		requestingBroker = c.findBrokerLocked(replicaID)
	}

	type partResult struct {
		index           int32
		code            int16
		highWatermark   int64
		lastStableOff   int64
		records         []byte
	}
	type topicResult struct {
		name  string
		parts []partResult
	}

	injected, hasInjected := c.injectedError(apiKeyFetch)
	if hasInjected {
		c.metrics.errorsInjected.WithLabelValues("1").Inc()
	}

	topicCnt := r.ArrayLen()
	results := make([]topicResult, 0, topicCnt)
	for i := 0; i < topicCnt; i++ {
		topicName := r.String()
		partCnt := r.ArrayLen()
		tr := topicResult{name: topicName, parts: make([]partResult, 0, partCnt)}
		topic := c.findTopicLocked(topicName)

		for j := 0; j < partCnt; j++ {
			idx := r.Int32()
			offset := r.Int64()
			_ = r.Int32() // partition_max_bytes, budget is applied at request level below

			pr := partResult{index: idx}
			switch {
			case hasInjected:
				pr.code = injected
			case topic == nil:
				pr.code = kerrs.UnknownTopicOrPartition
			case topic.Err != kerrs.None:
				pr.code = topic.Err
			default:
				part := findPartitionLocked(topic, idx)
				if part == nil {
					pr.code = kerrs.UnknownTopicOrPartition
					break
				}
				onFollower := part.isPreferredFollower(requestingBroker) && !part.isLeader(requestingBroker)
				if !onFollower && !part.isLeader(requestingBroker) && requestingBroker != nil {
					pr.code = kerrs.NotLeaderForPartition
					break
				}
				start, end := part.startOffset, part.endOffset
				if onFollower {
					start, end = part.followerStartOffset, part.followerEndOffset
				}
				if offset < start || offset > end {
					pr.code = kerrs.OffsetOutOfRange
					break
				}
				pr.highWatermark = end
				pr.lastStableOff = end
				for _, ms := range part.fetchFrom(offset, onFollower, maxBytes) {
					pr.records = append(pr.records, ms.Bytes...)
				}
			}
			tr.parts = append(tr.parts, pr)
		}
		results = append(results, tr)
	}
	if err := r.Complete(); err != nil {
		return err
	}

	w := bufNewResponse()
	w.Int32(0) // throttle_time_ms
	w.ArrayLen(len(results))
	for _, tr := range results {
		w.String(tr.name)
		w.ArrayLen(len(tr.parts))
		for _, pr := range tr.parts {
			w.Int32(pr.index)
			w.Int16(pr.code)
			w.Int64(pr.highWatermark)
			w.Int64(pr.lastStableOff)
			w.ArrayLen(0) // aborted_transactions: transactions are a non-goal
			w.Bytes(pr.records)
		}
	}

	sendResponse(conn, req.correlationID, w)
	return nil
}

// ---- ListOffsets (ApiKey 2, v1) -------------------------------------------

const (
	listOffsetsEarliest = int64(-2)
	listOffsetsLatest   = int64(-1)
)

func handleListOffsets(c *Cluster, conn *connection, req requestEvent) error {
	r := kwire.NewReader(req.body, false)
	_ = r.Int32() // replica_id

	injected, hasInjected := c.injectedError(apiKeyListOffsets)
	if hasInjected {
		c.metrics.errorsInjected.WithLabelValues("2").Inc()
	}

	type partResult struct {
		index     int32
		code      int16
		timestamp int64
		offset    int64
	}
	type topicResult struct {
		name  string
		parts []partResult
	}

	topicCnt := r.ArrayLen()
	results := make([]topicResult, 0, topicCnt)
	for i := 0; i < topicCnt; i++ {
		topicName := r.String()
		partCnt := r.ArrayLen()
		tr := topicResult{name: topicName, parts: make([]partResult, 0, partCnt)}
		topic := c.findTopicLocked(topicName)

		for j := 0; j < partCnt; j++ {
			idx := r.Int32()
			ts := r.Int64()

			pr := partResult{index: idx, timestamp: -1, offset: -1}
			switch {
			case hasInjected:
				pr.code = injected
			case topic == nil:
				pr.code = kerrs.UnknownTopicOrPartition
			case topic.Err != kerrs.None:
				pr.code = topic.Err
			default:
				part := findPartitionLocked(topic, idx)
				if part == nil {
					pr.code = kerrs.UnknownTopicOrPartition
					break
				}
				switch ts {
				case listOffsetsEarliest:
					pr.offset = part.startOffset
				case listOffsetsLatest:
					pr.offset = part.endOffset
				default:
					// Timestamp lookup: the mock does not index per-record
					// timestamps (batches are opaque), so fall back to the
					// latest offset, matching librdkafka's mock behavior of
					// treating unsupported timestamp queries as "latest".
					pr.offset = part.endOffset
				}
			}
			tr.parts = append(tr.parts, pr)
		}
		results = append(results, tr)
	}
	if err := r.Complete(); err != nil {
		return err
	}

	w := bufNewResponse()
	w.ArrayLen(len(results))
	for _, tr := range results {
		w.String(tr.name)
		w.ArrayLen(len(tr.parts))
		for _, pr := range tr.parts {
			w.Int32(pr.index)
			w.Int16(pr.code)
			w.Int64(pr.timestamp)
			w.Int64(pr.offset)
		}
	}

	sendResponse(conn, req.correlationID, w)
	return nil
}

// ---- OffsetCommit (ApiKey 8, v2) ------------------------------------------

func handleOffsetCommit(c *Cluster, conn *connection, req requestEvent) error {
	r := kwire.NewReader(req.body, false)
	group := r.String()
	_ = r.Int32()         // generation_id
	_ = r.String()        // member_id
	_ = r.Int64()         // retention_time_ms

	injected, hasInjected := c.injectedError(apiKeyOffsetCommit)
	if hasInjected {
		c.metrics.errorsInjected.WithLabelValues("8").Inc()
	}

	type partResult struct {
		index int32
		code  int16
	}
	type topicResult struct {
		name  string
		parts []partResult
	}

	topicCnt := r.ArrayLen()
	results := make([]topicResult, 0, topicCnt)
	for i := 0; i < topicCnt; i++ {
		topicName := r.String()
		partCnt := r.ArrayLen()
		tr := topicResult{name: topicName, parts: make([]partResult, 0, partCnt)}
		topic := c.findTopicLocked(topicName)

		for j := 0; j < partCnt; j++ {
			idx := r.Int32()
			offset := r.Int64()
			metadata := r.NullableString()

			var code int16
			switch {
			case hasInjected:
				code = injected
			case topic == nil:
				code = kerrs.UnknownTopicOrPartition
			default:
				part := findPartitionLocked(topic, idx)
				if part == nil {
					code = kerrs.UnknownTopicOrPartition
					break
				}
				var md []byte
				if metadata != nil {
					md = []byte(*metadata)
				}
				part.commitOffset(group, offset, md)
			}
			tr.parts = append(tr.parts, partResult{index: idx, code: code})
		}
		results = append(results, tr)
	}
	if err := r.Complete(); err != nil {
		return err
	}

	w := bufNewResponse()
	w.ArrayLen(len(results))
	for _, tr := range results {
		w.String(tr.name)
		w.ArrayLen(len(tr.parts))
		for _, pr := range tr.parts {
			w.Int32(pr.index)
			w.Int16(pr.code)
		}
	}

	sendResponse(conn, req.correlationID, w)
	return nil
}

// ---- OffsetFetch (ApiKey 9, v1) -------------------------------------------

func handleOffsetFetch(c *Cluster, conn *connection, req requestEvent) error {
	r := kwire.NewReader(req.body, false)
	group := r.String()

	injected, hasInjected := c.injectedError(apiKeyOffsetFetch)
	if hasInjected {
		c.metrics.errorsInjected.WithLabelValues("9").Inc()
	}

	type partResult struct {
		index    int32
		offset   int64
		metadata *string
		code     int16
	}
	type topicResult struct {
		name  string
		parts []partResult
	}

	topicCnt := r.ArrayLen()
	results := make([]topicResult, 0, topicCnt)
	for i := 0; i < topicCnt; i++ {
		topicName := r.String()
		partCnt := r.ArrayLen()
		tr := topicResult{name: topicName, parts: make([]partResult, 0, partCnt)}
		topic := c.findTopicLocked(topicName)

		for j := 0; j < partCnt; j++ {
			idx := r.Int32()

			pr := partResult{index: idx, offset: -1}
			switch {
			case hasInjected:
				pr.code = injected
			case topic == nil:
				pr.code = kerrs.UnknownTopicOrPartition
			default:
				part := findPartitionLocked(topic, idx)
				if part == nil {
					pr.code = kerrs.UnknownTopicOrPartition
					break
				}
				if entry := part.findCommittedOffset(group); entry != nil {
					pr.offset = entry.Offset
					if len(entry.Metadata) > 0 {
						s := string(entry.Metadata)
						pr.metadata = &s
					}
				}
			}
			tr.parts = append(tr.parts, pr)
		}
		results = append(results, tr)
	}
	if err := r.Complete(); err != nil {
		return err
	}

	w := bufNewResponse()
	w.ArrayLen(len(results))
	for _, tr := range results {
		w.String(tr.name)
		w.ArrayLen(len(tr.parts))
		for _, pr := range tr.parts {
			w.Int32(pr.index)
			w.Int64(pr.offset)
			w.NullableString(pr.metadata)
			w.Int16(pr.code)
		}
	}

	sendResponse(conn, req.correlationID, w)
	return nil
}

// ---- FindCoordinator (ApiKey 10, v1) --------------------------------------

func handleFindCoordinator(c *Cluster, conn *connection, req requestEvent) error {
	r := kwire.NewReader(req.body, false)
	key := r.String()
	_ = r.Int8() // key_type: group vs transaction, both resolve identically here
	if err := r.Complete(); err != nil {
		return err
	}

	injected, hasInjected := c.injectedError(apiKeyFindCoordinator)
	if hasInjected {
		c.metrics.errorsInjected.WithLabelValues("10").Inc()
	}

	w := bufNewResponse()
	w.Int32(0) // throttle_time_ms

	if hasInjected {
		w.Int16(injected)
		w.NullableString(nil)
		w.Int32(-1)
		w.String("")
		w.Int32(-1)
		sendResponse(conn, req.correlationID, w)
		return nil
	}

	coord := c.getCoordLocked([]byte(key))
	w.Int16(kerrs.None)
	w.NullableString(nil)
	w.Int32(coord.ID)
	w.String(coord.AdvertisedListener)
	w.Int32(int32(coord.Port))

	sendResponse(conn, req.correlationID, w)
	return nil
}

// ---- ApiVersions (ApiKey 18, v0) -------------------------------------------

func handleApiVersions(c *Cluster, conn *connection, req requestEvent) error {
	if err := (kwire.NewReader(req.body, false)).Complete(); err != nil {
		return err
	}

	injected, hasInjected := c.injectedError(apiKeyApiVersions)
	if hasInjected {
		c.metrics.errorsInjected.WithLabelValues("18").Inc()
	}

	w := bufNewResponse()
	if hasInjected {
		w.Int16(injected)
		w.ArrayLen(0)
		sendResponse(conn, req.correlationID, w)
		return nil
	}

	implemented := 0
	for _, h := range handlerTable {
		if h.handle != nil {
			implemented++
		}
	}

	w.Int16(kerrs.None)
	w.ArrayLen(implemented)
	for apiKey, h := range handlerTable {
		if h.handle == nil {
			continue
		}
		w.Int16(int16(apiKey))
		w.Int16(h.minVersion)
		w.Int16(h.maxVersion)
	}

	sendResponse(conn, req.correlationID, w)
	return nil
}
