package mockcluster

import (
	"net"
	"strconv"
)

// Broker is owned by the Cluster. Mirrors rd_kafka_mock_broker_s: an id, an
// advertised listener, a listen socket, and its set of open connections.
type Broker struct {
	ID                 int32
	AdvertisedListener string // host, <=127 chars
	Port               int
	Rack               string

	listener *net.TCPListener
	conns    map[*connection]struct{}
}

// Addr returns the "host:port" string clients dial to reach this broker.
func (b *Broker) Addr() string {
	return net.JoinHostPort(b.AdvertisedListener, strconv.Itoa(b.Port))
}
