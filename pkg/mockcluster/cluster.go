// Package mockcluster is the core of the in-process mock Kafka cluster: a
// self-contained simulator that speaks the Kafka wire protocol over real
// TCP sockets.
package mockcluster

import (
	"context"
	"hash/crc32"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultClusterIDLen          = 16
	defaultPartitionMaxSize      = 1 << 20 // 1 MiB per partition, matches the mock broker's conservative default
	defaultPartitionMaxMsgsets   = 10000
	defaultOutboundQueueCapacity = 1000 // bounds per-connection memory under a stalled client
)

// autoCreateDefaults mirrors rd_kafka_mock_cluster_s's "defaults" struct.
type autoCreateDefaults struct {
	partitionCnt      int
	replicationFactor int
}

// Cluster is the process-wide long-lived mock Kafka cluster. All fields
// below this comment are cluster-goroutine-exclusive except errStack,
// which carries its own lock.
type Cluster struct {
	id           string
	controllerID int32

	brokers    []*Broker
	topics     map[string]*Topic
	topicOrder []string // preserves creation order for deterministic metadata listing

	autoCreateEnabled bool
	defaults          autoCreateDefaults

	defaultMaxPartitionSize    int
	defaultMaxPartitionMsgsets int

	errStack errorStackStore

	metrics *metrics

	// reactor plumbing: the single goroutine in run() is reached only
	// through these channels, never by direct field access.
	controlCh chan controlOp
	requestCh chan requestEvent
	acceptCh  chan acceptEvent
	stopCh    chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	outboundQueueCap int
}

// Option configures a Cluster at construction time, following the
// functional-options idiom used elsewhere for constructing in-process
// Kafka test fakes (e.g. NewCluster(NumBrokers(n))).
type Option func(*clusterOpts)

type clusterOpts struct {
	numBrokers        int
	autoCreate        bool
	autoPartitionCnt  int
	autoReplFactor    int
	listenHost        string
	maxPartitionSize  int
	maxPartitionCount int
	outboundQueueCap  int
}

// NumBrokers sets how many brokers the cluster starts with. Default 1.
func NumBrokers(n int) Option { return func(o *clusterOpts) { o.numBrokers = n } }

// WithAutoCreate enables auto-creation of topics referenced by an unknown
// name in a Metadata request, using partitionCnt partitions and
// replicationFactor replicas.
func WithAutoCreate(partitionCnt, replicationFactor int) Option {
	return func(o *clusterOpts) {
		o.autoCreate = true
		o.autoPartitionCnt = partitionCnt
		o.autoReplFactor = replicationFactor
	}
}

// WithListenHost overrides the advertised host brokers bind and advertise
// (default 127.0.0.1).
func WithListenHost(host string) Option { return func(o *clusterOpts) { o.listenHost = host } }

// WithPartitionRetention bounds every partition's log by size (bytes) and
// message-set count.
func WithPartitionRetention(maxSize, maxCnt int) Option {
	return func(o *clusterOpts) { o.maxPartitionSize, o.maxPartitionCount = maxSize, maxCnt }
}

// WithOutboundQueueCapacity overrides the per-connection outbound queue
// cap, bounding how much a slow-reading client can make the cluster buffer
// on its behalf.
func WithOutboundQueueCapacity(n int) Option {
	return func(o *clusterOpts) { o.outboundQueueCap = n }
}

// New creates a Cluster with the given brokers and starts its reactor
// goroutine.
func New(opts ...Option) (*Cluster, error) {
	o := clusterOpts{
		numBrokers:        1,
		listenHost:        "127.0.0.1",
		maxPartitionSize:  defaultPartitionMaxSize,
		maxPartitionCount: defaultPartitionMaxMsgsets,
		outboundQueueCap:  defaultOutboundQueueCapacity,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.numBrokers < 1 {
		return nil, errors.New("mockcluster: at least one broker is required")
	}

	c := &Cluster{
		id:                         newClusterID(),
		topics:                     make(map[string]*Topic),
		autoCreateEnabled:          o.autoCreate,
		defaults:                  autoCreateDefaults{partitionCnt: o.autoPartitionCnt, replicationFactor: o.autoReplFactor},
		defaultMaxPartitionSize:    o.maxPartitionSize,
		defaultMaxPartitionMsgsets: o.maxPartitionCount,
		metrics:                    newMetrics(),
		controlCh:                  make(chan controlOp),
		requestCh:                  make(chan requestEvent, 256),
		acceptCh:                   make(chan acceptEvent, 16),
		stopCh:                     make(chan struct{}),
		stopped:                    make(chan struct{}),
		outboundQueueCap:           o.outboundQueueCap,
	}

	for i := 0; i < o.numBrokers; i++ {
		b, err := c.startBroker(int32(i+1), o.listenHost)
		if err != nil {
			c.closeBrokersBestEffort()
			return nil, errors.Wrap(err, "mockcluster: starting broker")
		}
		c.brokers = append(c.brokers, b)
	}
	c.controllerID = c.lowestBrokerIDLocked()

	go c.run()

	return c, nil
}

func newClusterID() string {
	u := uuid.New().String()
	u = strings.ReplaceAll(u, "-", "")
	if len(u) > defaultClusterIDLen {
		u = u[:defaultClusterIDLen]
	}
	return "mock-" + u
}

func (c *Cluster) startBroker(id int32, host string) (*Broker, error) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP(host), Port: 0})
	if err != nil {
		return nil, err
	}
	b := &Broker{
		ID:                 id,
		AdvertisedListener: host,
		Port:               ln.Addr().(*net.TCPAddr).Port,
		listener:           ln,
		conns:              make(map[*connection]struct{}),
	}
	go c.acceptLoop(b)
	return b, nil
}

func (c *Cluster) closeBrokersBestEffort() {
	for _, b := range c.brokers {
		if b.listener != nil {
			_ = b.listener.Close()
		}
	}
}

func (c *Cluster) lowestBrokerIDLocked() int32 {
	lowest := c.brokers[0].ID
	for _, b := range c.brokers[1:] {
		if b.ID < lowest {
			lowest = b.ID
		}
	}
	return lowest
}

// ID returns the cluster's generated identifier. Immutable after New, so
// it may be read directly without going through the control queue.
func (c *Cluster) ID() string { return c.id }

// Bootstrap returns the "host:port,host:port,..." string clients dial to
// reach the cluster. Immutable broker set after New means this is also
// safe to read directly.
func (c *Cluster) Bootstrap() string {
	addrs := make([]string, len(c.brokers))
	for i, b := range c.brokers {
		addrs[i] = b.Addr()
	}
	return strings.Join(addrs, ",")
}

// Close stops the reactor, joins it, and closes every listener and
// connection. Safe to call more than once.
func (c *Cluster) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		<-c.stopped
	})
	return nil
}

// getCoordLocked resolves a coordinator for key by hashing it (CRC32 IEEE)
// modulo the broker count. Must be called on the cluster goroutine.
func (c *Cluster) getCoordLocked(key []byte) *Broker {
	sum := crc32.ChecksumIEEE(key)
	idx := int(sum) % len(c.brokers)
	if idx < 0 {
		idx += len(c.brokers)
	}
	return c.brokers[idx]
}

// findBrokerLocked returns the broker with the given id, or nil.
func (c *Cluster) findBrokerLocked(id int32) *Broker {
	for _, b := range c.brokers {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// withContext is a small helper used by control-plane calls that want to
// respect a caller-supplied context while waiting for the reactor to apply
// an op, so a stuck reactor can't hang a caller forever in tests.
func (c *Cluster) withContext(ctx context.Context, op controlOp) error {
	select {
	case c.controlCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return errors.New("mockcluster: cluster is shut down")
	}
	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

