package nsmaster

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"github.com/stretchr/testify/require"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/namespace"
	"github.com/kuerant/hypertable/internal/nstransport"
)

// newTestSession starts a Server backed by a real etcd-backed Store on a
// loopback port and returns a namespace.Session connected to it, giving an
// end-to-end path from the client session down through the wire protocol
// into the store. Skips if HYPERTABLE_TEST_ETCD_ENDPOINT is unset, matching
// store_test.go's convention.
func newTestSession(t *testing.T) (*namespace.Session, func()) {
	endpoint := os.Getenv("HYPERTABLE_TEST_ETCD_ENDPOINT")
	if endpoint == "" {
		t.Skip("HYPERTABLE_TEST_ETCD_ENDPOINT not set; skipping etcd-backed test")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	store := NewStore(client)
	srv := NewServer(store)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(ctx, conn)
		}
	}()

	transport := nstransport.NewTCPTransport(2 * time.Second)
	sess := namespace.New(namespace.Config{
		MasterAddr:    addr,
		LeaseInterval: time.Second,
		GracePeriod:   time.Second,
	}, transport, namespace.Callbacks{})
	sess.StateTransition(namespace.Safe)

	cleanup := func() {
		cancel()
		ln.Close()
		transport.Close()
		client.Close()
	}
	return sess, cleanup
}

func TestSessionMkdirCreateAttrRoundTrip(t *testing.T) {
	sess, cleanup := newTestSession(t)
	defer cleanup()

	dir := "/hypertable-test/session-" + t.Name()
	require.NoError(t, sess.Mkdir(dir))
	exists, err := sess.Exists(dir)
	require.NoError(t, err)
	require.True(t, exists)

	file := dir + "/f"
	handle, err := sess.Create(file, namespace.OpenFlagWrite)
	require.NoError(t, err)

	require.NoError(t, sess.AttrSet(handle, "k", []byte("v")))
	v, err := sess.AttrGet(handle, "k")
	require.NoError(t, err)
	require.Equal(t, "v", string(v))

	require.NoError(t, sess.Close(handle))
}

func TestSessionTryLockConflictReturnsNoneStatus(t *testing.T) {
	sess, cleanup := newTestSession(t)
	defer cleanup()

	file := "/hypertable-test/lock-" + t.Name()
	h1, err := sess.Create(file, namespace.OpenFlagWrite|namespace.OpenFlagLock)
	require.NoError(t, err)

	status, seq, err := sess.TryLock(h1, namespace.LockExclusive)
	require.NoError(t, err)
	require.Equal(t, namespace.LockGranted, status)
	require.NotNil(t, seq)
	require.EqualValues(t, 1, seq.Generation)

	h2, err := sess.Open(file, namespace.OpenFlagWrite|namespace.OpenFlagLock)
	require.NoError(t, err)
	status2, _, err := sess.TryLock(h2, namespace.LockExclusive)
	require.NoError(t, err)
	require.Equal(t, namespace.LockNone, status2)
}

func TestSessionCheckSequencerIsNotImplemented(t *testing.T) {
	sess, cleanup := newTestSession(t)
	defer cleanup()

	err := sess.CheckSequencer(&namespace.LockSequencer{Name: "/x", Mode: namespace.LockExclusive, Generation: 1})
	require.Error(t, err)
	require.True(t, nserrors.HasCode(err, nserrors.NOT_IMPLEMENTED))
}
