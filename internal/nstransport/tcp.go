package nstransport

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"time"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/util"
	"github.com/kuerant/hypertable/util/log"
)

// dialRetryOption bounds reconnect attempts to the namespace master: the
// master process may still be starting up (or mid-election) right when a
// client tries its first dial, so a single failed connect should not be
// fatal.
var dialRetryOption = util.RetryOption{
	MaxRetries:  3,
	InitBackoff: 100 * time.Millisecond,
	MaxBackoff:  2 * time.Second,
	MaskBackoff: 2,
	RandFactor:  0.15,
}

// TCPTransport is a minimal length-prefixed request/reply transport: each
// message on the wire is a u32 byte-length prefix followed by that many
// payload bytes. It keeps one persistent connection per peer address and
// serializes writes; replies are matched to requests strictly in send
// order, since the namespace protocol has no per-request correlation id at
// the transport layer (that's carried, if at all, inside the payload the
// caller supplies).
type TCPTransport struct {
	dialTimeout time.Duration

	mu    sync.Mutex
	conns map[string]*tcpConn
}

type tcpConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func NewTCPTransport(dialTimeout time.Duration) *TCPTransport {
	return &TCPTransport{dialTimeout: dialTimeout, conns: make(map[string]*tcpConn)}
}

func (t *TCPTransport) getConn(addr string) (*tcpConn, error) {
	t.mu.Lock()
	c, ok := t.conns[addr]
	t.mu.Unlock()
	if ok {
		return c, nil
	}

	var conn net.Conn
	opt := dialRetryOption
	dialErr := util.RetryMaxAttempt(&opt, func() error {
		var err error
		conn, err = net.DialTimeout("tcp", addr, t.dialTimeout)
		return err
	})
	if dialErr != nil {
		return nil, nserrors.Wrap(nserrors.New(nserrors.EXTERNAL, dialErr.Error()), nserrors.COMM_CONNECT_ERROR, "dial "+addr)
	}

	t.mu.Lock()
	if existing, ok := t.conns[addr]; ok {
		t.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	c = &tcpConn{conn: conn}
	t.conns[addr] = c
	t.mu.Unlock()
	return c, nil
}

func (t *TCPTransport) drop(addr string, c *tcpConn) {
	t.mu.Lock()
	if t.conns[addr] == c {
		delete(t.conns, addr)
	}
	t.mu.Unlock()
	c.conn.Close()
}

// SendRequest writes buf as one length-prefixed frame and blocks for the
// matching length-prefixed reply, invoking handler exactly once with the
// reply payload or a comm/timeout failure.
func (t *TCPTransport) SendRequest(ctx context.Context, addr string, timeout time.Duration, buf []byte, handler ReplyHandler) error {
	c, err := t.getConn(addr)
	if err != nil {
		handler(ReplyEvent{Err: err})
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(timeout)
	c.conn.SetDeadline(deadline)

	if err := writeFrame(c.conn, buf); err != nil {
		t.drop(addr, c)
		e := nserrors.Wrap(nserrors.New(nserrors.EXTERNAL, err.Error()), nserrors.COMM_SEND_ERROR, "send to "+addr)
		handler(ReplyEvent{Err: e})
		return e
	}

	reply, err := readFrame(c.conn)
	if err != nil {
		t.drop(addr, c)
		code := nserrors.COMM_BROKEN_CONNECTION
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			code = nserrors.COMM_REQUEST_TIMEOUT
		}
		e := nserrors.Wrap(nserrors.New(nserrors.EXTERNAL, err.Error()), code, "reply from "+addr)
		handler(ReplyEvent{Err: e})
		return e
	}

	handler(ReplyEvent{Payload: reply})
	return nil
}

func writeFrame(w io.Writer, buf []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(buf)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close tears down every pooled connection.
func (t *TCPTransport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, c := range t.conns {
		c.conn.Close()
		delete(t.conns, addr)
	}
	log.Debug("tcp transport closed all connections")
}
