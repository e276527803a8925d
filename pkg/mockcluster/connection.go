package mockcluster

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log/level"

	"github.com/grafana/mockkafka/pkg/mockkafkalog"
)

// requestHeaderVersion is the request header shape used for every API this
// mock implements (spec.md's minimum handler set, see buildHandlerTable in
// reactor.go): every
// MaxVersion advertised there predates KIP-482 flexible encoding, so the
// header is always the non-tagged shape with a ClientId string (header
// version 1). kwire still implements the compact/flex codec in full
// (spec.md §6's buffer abstraction names compact variants explicitly) for
// any handler added later that needs a newer, flexible version.
const requestHeaderVersion = int16(1)

// connection is owned by its Broker. Mirrors rd_kafka_mock_connection_s: a
// transport handle, an inbound assembly buffer (handled inline by readLoop
// since net.Conn read is blocking in Go), an outbound queue, and an
// optional write-delay timer.
type connection struct {
	conn   net.Conn
	broker *Broker
	peer   string

	outCh chan []byte // outbound queue (spec.md's outbufs), FIFO

	writeDelay time.Duration // optional, simulates a slow broker

	closeOnce chan struct{} // closed exactly once, signals writeLoop/enqueue to stop
	closer    sync.Once     // guards the close(closeOnce) call: close() runs concurrently
	// from the read goroutine (readLoop's defer), from enqueue's go conn.close()
	// on a full queue, and from the reactor goroutine (dispatch/shutdown) —
	// without this, two racing callers could both close an already-closed
	// channel and panic.
}

func newConnection(nc net.Conn, b *Broker, queueCap int) *connection {
	return &connection{
		conn:      nc,
		broker:    b,
		peer:      nc.RemoteAddr().String(),
		outCh:     make(chan []byte, queueCap),
		closeOnce: make(chan struct{}),
	}
}

// readRequestFrame blocks until one full length-prefixed request frame has
// been read from the socket, or returns an error on EOF/malformed framing
// (spec.md §4.D / §7: framing errors close the connection, no recovery).
func readRequestFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	const maxFrameSize = 100 << 20 // 100 MiB, a generous ceiling against a hostile length prefix
	if n == 0 || n > maxFrameSize {
		return nil, io.ErrUnexpectedEOF
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// writeLoop drains outCh onto the socket in order, honoring an in-flight
// write-delay timer. It is the per-connection goroutine that keeps a slow
// client from blocking the reactor (spec.md §4.D "Write-delay timer").
func (conn *connection) writeLoop() {
	for {
		select {
		case frame, ok := <-conn.outCh:
			if !ok {
				return
			}
			if conn.writeDelay > 0 {
				time.Sleep(conn.writeDelay)
			}
			if _, err := conn.conn.Write(frame); err != nil {
				level.Debug(mockkafkalog.Logger).Log("msg", "mockcluster: write failed, closing connection", "peer", conn.peer, "err", err)
				conn.close()
				return
			}
		case <-conn.closeOnce:
			return
		}
	}
}

// enqueue implements spec.md's send_response: push frame onto outCh. enqueue
// is called from the single reactor goroutine (dispatch -> sendResponse), so
// it must never block: a full queue (SPEC_FULL.md REDESIGN FLAGS: bounded
// outbufs) means this one connection's reader is pathologically slow, and
// the fix is to close that connection, not to stall every other connection
// behind it. The frame is dropped and the connection closed asynchronously
// so the reactor goroutine itself never waits on a peer.
func (conn *connection) enqueue(frame []byte) bool {
	select {
	case conn.outCh <- frame:
		return true
	default:
		go conn.close()
		return false
	}
}

func (conn *connection) close() {
	conn.closer.Do(func() { close(conn.closeOnce) })
	_ = conn.conn.Close()
}
