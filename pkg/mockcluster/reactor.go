package mockcluster

import (
	"strconv"

	"github.com/go-kit/log/level"

	"github.com/grafana/mockkafka/pkg/mockcluster/kerrs"
	"github.com/grafana/mockkafka/pkg/mockcluster/kwire"
	"github.com/grafana/mockkafka/pkg/mockkafkalog"
)

// Kafka ApiKeys for the handler set spec.md §4.E names as the minimum:
// Metadata, Produce, Fetch, ListOffsets, OffsetCommit, OffsetFetch,
// FindCoordinator, ApiVersions. Numeric values match the real protocol.
const (
	apiKeyProduce         = int16(0)
	apiKeyFetch           = int16(1)
	apiKeyListOffsets     = int16(2)
	apiKeyMetadata        = int16(3)
	apiKeyOffsetCommit    = int16(8)
	apiKeyOffsetFetch     = int16(9)
	apiKeyFindCoordinator = int16(10)
	apiKeyApiVersions     = int16(18)
)

// apiHandler is one entry in the dense handler table (spec.md §4.E): a
// supported version range plus the function that parses the request,
// mutates the model, and sends a response.
type apiHandler struct {
	minVersion int16
	maxVersion int16
	handle     func(c *Cluster, conn *connection, req requestEvent) error
}

// handlerTable is indexed by ApiKey up to the protocol's maximum ApiKey
// this mock knows about (spec.md §4.E "dense indexed table").
var handlerTable = buildHandlerTable()

// Each range below is deliberately narrow: it names the exact version whose
// request/response shape the handler body parses and writes, not the
// broadest range the ApiKey has ever supported. A real client negotiates
// down to whatever ApiVersions advertises, so a handler that only speaks
// one wire shape must only advertise that one version — advertising a
// wider range than is actually parsed would silently desync field-by-field
// decoding against a client sending a newer (or older) shape.
func buildHandlerTable() []apiHandler {
	t := make([]apiHandler, apiKeyApiVersions+1)
	t[apiKeyProduce] = apiHandler{3, 3, handleProduce}
	t[apiKeyFetch] = apiHandler{4, 4, handleFetch}
	t[apiKeyListOffsets] = apiHandler{1, 1, handleListOffsets}
	t[apiKeyMetadata] = apiHandler{1, 1, handleMetadata}
	t[apiKeyOffsetCommit] = apiHandler{2, 2, handleOffsetCommit}
	t[apiKeyOffsetFetch] = apiHandler{1, 1, handleOffsetFetch}
	t[apiKeyFindCoordinator] = apiHandler{1, 1, handleFindCoordinator}
	t[apiKeyApiVersions] = apiHandler{0, 0, handleApiVersions}
	return t
}

// acceptEvent crosses from a broker's accept goroutine into the reactor.
type acceptEvent struct {
	broker *Broker
	conn   *connection
}

// requestEvent crosses from a connection's read goroutine into the
// reactor: one fully-framed, header-parsed request.
type requestEvent struct {
	conn          *connection
	apiKey        int16
	apiVersion    int16
	correlationID int32
	body          []byte // bytes after the common request header
}

// controlOp is one operation enqueued by a foreign goroutine calling a
// Cluster control-plane method (spec.md §4.F "Control ops"). fn runs on the
// reactor goroutine; done receives its result.
type controlOp struct {
	fn   func(c *Cluster) error
	done chan error
}

// run is the cluster's single dedicated goroutine (spec.md §4.F "Thread"):
// it is the only code that ever mutates brokers/topics/partitions/logs/
// connections/timers, so no locking is needed across handlers.
func (c *Cluster) run() {
	defer close(c.stopped)
	for {
		select {
		case ev := <-c.acceptCh:
			c.handleAccept(ev)
		case req := <-c.requestCh:
			c.dispatch(req)
		case op := <-c.controlCh:
			op.done <- op.fn(c)
		case <-c.stopCh:
			c.shutdown()
			return
		}
	}
}

func (c *Cluster) handleAccept(ev acceptEvent) {
	ev.broker.conns[ev.conn] = struct{}{}
	c.metrics.connectionsAccepted.Inc()
	go ev.conn.writeLoop()
	go c.readLoop(ev.conn)
}

func (c *Cluster) shutdown() {
	for _, b := range c.brokers {
		if b.listener != nil {
			_ = b.listener.Close()
		}
		for conn := range b.conns {
			conn.close()
		}
	}
}

// acceptLoop runs on its own goroutine per broker, accepting connections
// and handing them to the reactor via acceptCh (spec.md §4.D "Accept").
func (c *Cluster) acceptLoop(b *Broker) {
	for {
		nc, err := b.listener.Accept()
		if err != nil {
			return
		}
		conn := newConnection(nc, b, c.outboundQueueCap)
		select {
		case c.acceptCh <- acceptEvent{broker: b, conn: conn}:
		case <-c.stopCh:
			_ = nc.Close()
			return
		}
	}
}

// readLoop runs on its own goroutine per connection: it blocks on socket
// reads (Go's substitute for readiness-driven non-blocking I/O, see
// SPEC_FULL.md §2), frames each request, parses the common header, and
// hands the result to the reactor over requestCh. Spec.md invariant: "at
// most one request being assembled at a time" per connection — trivially
// true since this loop is single-goroutine-per-connection and processes
// one frame fully before reading the next.
func (c *Cluster) readLoop(conn *connection) {
	defer c.closeConnection(conn)
	for {
		body, err := readRequestFrame(conn.conn)
		if err != nil {
			return
		}

		apiKey, apiVersion, correlationID, _, rest, err := kwire.ReadRequestFrame(body, requestHeaderVersion)
		if err != nil {
			level.Debug(mockkafkalog.Logger).Log("msg", "mockcluster: malformed request header, closing connection", "peer", conn.peer, "err", err)
			return
		}

		select {
		case c.requestCh <- requestEvent{conn: conn, apiKey: apiKey, apiVersion: apiVersion, correlationID: correlationID, body: rest}:
		case <-c.stopCh:
			return
		}
	}
}

// closeConnection removes conn from its broker's set and closes its
// sockets/goroutines. It is called from the read-goroutine on EOF, so it
// must cross back into the reactor via the control queue to mutate
// broker.conns safely.
func (c *Cluster) closeConnection(conn *connection) {
	conn.close()
	done := make(chan error, 1)
	select {
	case c.controlCh <- controlOp{done: done, fn: func(c *Cluster) error {
		delete(conn.broker.conns, conn)
		c.metrics.connectionsClosed.Inc()
		return nil
	}}:
		<-done
	case <-c.stopCh:
	case <-c.stopped:
	}
}

// dispatch implements spec.md §4.E's dispatcher contract.
func (c *Cluster) dispatch(req requestEvent) {
	conn := req.conn
	apiKeyStr := strconv.Itoa(int(req.apiKey))

	if req.apiKey < 0 || int(req.apiKey) >= len(handlerTable) || handlerTable[req.apiKey].handle == nil {
		c.sendUnsupportedVersion(conn, req)
		return
	}
	h := handlerTable[req.apiKey]
	if req.apiVersion < h.minVersion || req.apiVersion > h.maxVersion {
		c.sendUnsupportedVersion(conn, req)
		return
	}

	c.metrics.requestsHandled.WithLabelValues(apiKeyStr).Inc()

	if err := h.handle(c, conn, req); err != nil {
		level.Warn(mockkafkalog.Logger).Log("msg", "mockcluster: handler error, closing connection", "api_key", req.apiKey, "peer", conn.peer, "err", err)
		conn.close()
	}
}

// sendUnsupportedVersion implements step 2/3 of spec.md §4.E's dispatcher
// contract: an out-of-range ApiKey, an absent handler, or a version
// outside [MinVersion, MaxVersion] gets an ApiVersions-shaped error
// response rather than a connection drop, since the header itself parsed
// fine.
func (c *Cluster) sendUnsupportedVersion(conn *connection, req requestEvent) {
	w := kwire.NewWriter(false)
	w.Int16(kerrs.UnsupportedVersion)
	w.ArrayLen(0) // api_keys
	frame := kwire.FrameResponse(req.correlationID, w.Bytes())
	conn.enqueue(frame)
}
