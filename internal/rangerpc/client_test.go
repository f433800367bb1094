package rangerpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	nserrors "github.com/kuerant/hypertable/internal/errors"
)

type fakeHandler struct {
	loadRangeCalls int
	dropTableCalls []int64
	shutdownCalls  int
	failDropTable  bool
}

func (f *fakeHandler) LoadRange(ctx context.Context, req *LoadRangeRequest) (*LoadRangeResponse, error) {
	f.loadRangeCalls++
	return &LoadRangeResponse{Code: 0}, nil
}

func (f *fakeHandler) DropTable(ctx context.Context, req *DropTableRequest) (*DropTableResponse, error) {
	f.dropTableCalls = append(f.dropTableCalls, req.TableID)
	if f.failDropTable {
		return &DropTableResponse{Code: int32(nserrors.RANGESERVER_RANGE_NOT_FOUND), Message: "no such range"}, nil
	}
	return &DropTableResponse{Code: 0}, nil
}

func (f *fakeHandler) Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error) {
	f.shutdownCalls++
	return &ShutdownResponse{Code: 0}, nil
}

// newTestServer starts an in-memory grpc server (bufconn, no real socket)
// serving h, and returns a Client dialed against it through a bufconn
// resolver-free dialer override.
func newTestServer(t *testing.T, h Handler) (*Client, func()) {
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	RegisterHandler(s, h)
	go s.Serve(lis)

	c := NewClient(time.Second, time.Second)
	c.dialer = func(ctx context.Context, addr string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}

	return c, func() {
		s.Stop()
		c.Close()
	}
}

func TestLoadRangeRoundTrip(t *testing.T) {
	h := &fakeHandler{}
	c, stop := newTestServer(t, h)
	defer stop()

	err := c.LoadRange(context.Background(), "bufnet", 5, "METADATA", RangeSpec{TableID: 5, EndRow: "m"}, "", 1024, 0)
	require.NoError(t, err)
	require.Equal(t, 1, h.loadRangeCalls)
}

func TestDropTablePropagatesServerSideCode(t *testing.T) {
	h := &fakeHandler{failDropTable: true}
	c, stop := newTestServer(t, h)
	defer stop()

	err := c.DropTable(context.Background(), "bufnet", 5)
	require.Error(t, err)
	require.True(t, nserrors.HasCode(err, nserrors.RANGESERVER_RANGE_NOT_FOUND))
	require.Equal(t, []int64{5}, h.dropTableCalls)
}

func TestShutdownRoundTrip(t *testing.T) {
	h := &fakeHandler{}
	c, stop := newTestServer(t, h)
	defer stop()

	err := c.Shutdown(context.Background(), "bufnet")
	require.NoError(t, err)
	require.Equal(t, 1, h.shutdownCalls)
}

func TestUnreachableAddressSurfacesRangeServerUnavailable(t *testing.T) {
	c := NewClient(50*time.Millisecond, 50*time.Millisecond)
	err := c.Shutdown(context.Background(), "127.0.0.1:1")
	require.Error(t, err)
	require.True(t, nserrors.HasCode(err, nserrors.RANGESERVER_UNAVAILABLE))
}
