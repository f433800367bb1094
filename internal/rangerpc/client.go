package rangerpc

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/util/log"
)

const (
	defaultDialTimeout    = 3 * time.Second
	defaultRequestTimeout = 10 * time.Second
)

// Client is the master's pooled connection to range servers, grounded on
// master/ps_rpc_client.go's getConn-caches-by-address pattern.
type Client struct {
	dialTimeout    time.Duration
	requestTimeout time.Duration

	mu       sync.Mutex
	connPool map[string]*grpc.ClientConn

	// dialer overrides the network dialer; set only by tests to dial an
	// in-memory bufconn listener instead of a real socket.
	dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// NewClient builds a pooled Range-server RPC client. Zero timeouts fall
// back to sensible defaults.
func NewClient(dialTimeout, requestTimeout time.Duration) *Client {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Client{
		dialTimeout:    dialTimeout,
		requestTimeout: requestTimeout,
		connPool:       make(map[string]*grpc.ClientConn),
	}
}

func (c *Client) getConn(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.connPool[addr]; ok {
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.dialTimeout)
	defer cancel()
	opts := []grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithBlock(),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	}
	if c.dialer != nil {
		opts = append(opts, grpc.WithContextDialer(c.dialer))
	}
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		log.Error("rangerpc: failed to dial %v: %v", addr, err)
		return nil, nserrors.Wrap(nserrors.New(nserrors.EXTERNAL, err.Error()), nserrors.RANGESERVER_UNAVAILABLE, addr)
	}
	c.connPool[addr] = conn
	return conn, nil
}

func (c *Client) drop(addr string, conn *grpc.ClientConn) {
	c.mu.Lock()
	if c.connPool[addr] == conn {
		delete(c.connPool, addr)
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) invoke(ctx context.Context, addr, method string, req, resp interface{}, timeout time.Duration) error {
	conn, err := c.getConn(addr)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = c.requestTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err = conn.Invoke(callCtx, "/"+serviceName+"/"+method, req, resp)
	if err != nil {
		if st, ok := status.FromError(err); ok {
			err = st.Err()
		}
		c.drop(addr, conn)
		return nserrors.Wrap(nserrors.New(nserrors.EXTERNAL, err.Error()), nserrors.RANGESERVER_UNAVAILABLE, addr)
	}
	return nil
}

// LoadRange issues load_range(addr, table, range, transfer_log,
// range_state, timeout?) (spec §6.4).
func (c *Client) LoadRange(ctx context.Context, addr string, tableID int64, tableName string, rng RangeSpec, transferLog string, softLimit int64, timeout time.Duration) error {
	req := &LoadRangeRequest{
		TableID:     tableID,
		TableName:   tableName,
		Range:       rng,
		TransferLog: transferLog,
		RangeState:  RangeState{SoftLimit: softLimit},
	}
	resp := new(LoadRangeResponse)
	if err := c.invoke(ctx, addr, "LoadRange", req, resp, timeout); err != nil {
		return err
	}
	if resp.Code != 0 {
		return nserrors.New(nserrors.Code(resp.Code), resp.Message)
	}
	return nil
}

// DropTable issues drop_table(addr, table) (spec §6.4).
func (c *Client) DropTable(ctx context.Context, addr string, tableID int64) error {
	req := &DropTableRequest{TableID: tableID}
	resp := new(DropTableResponse)
	if err := c.invoke(ctx, addr, "DropTable", req, resp, 0); err != nil {
		return err
	}
	if resp.Code != 0 {
		return nserrors.New(nserrors.Code(resp.Code), resp.Message)
	}
	return nil
}

// Shutdown issues shutdown(addr) (spec §6.4).
func (c *Client) Shutdown(ctx context.Context, addr string) error {
	resp := new(ShutdownResponse)
	if err := c.invoke(ctx, addr, "Shutdown", &ShutdownRequest{}, resp, 0); err != nil {
		return err
	}
	if resp.Code != 0 {
		return nserrors.New(nserrors.Code(resp.Code), resp.Message)
	}
	return nil
}

// Close tears down every pooled connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, conn := range c.connPool {
		conn.Close()
		delete(c.connPool, addr)
	}
}
