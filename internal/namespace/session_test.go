package namespace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/nstransport"
	"github.com/kuerant/hypertable/internal/wire"
)

// scriptedTransport replays a fixed sequence of outcomes, one per call to
// SendRequest, ignoring addr/buf — enough to drive Session's state machine
// and reply-decoding paths without a real namespace master.
type scriptedTransport struct {
	mu    sync.Mutex
	calls int
	steps []func() nstransport.ReplyEvent
}

func (t *scriptedTransport) SendRequest(ctx context.Context, addr string, timeout time.Duration, buf []byte, handler nstransport.ReplyHandler) error {
	t.mu.Lock()
	i := t.calls
	t.calls++
	t.mu.Unlock()

	if i >= len(t.steps) {
		i = len(t.steps) - 1
	}
	ev := t.steps[i]()
	handler(ev)
	if ev.Err != nil {
		return ev.Err
	}
	return nil
}

func okReply(payload func(*wire.Encoder)) nstransport.ReplyEvent {
	e := wire.NewEncoder()
	e.PutResponseCode(nserrors.OK)
	if payload != nil {
		payload(e)
	}
	return nstransport.ReplyEvent{Payload: e.Bytes()}
}

func TestPathNormalizationScenario1(t *testing.T) {
	cases := map[string]string{
		"/":     "/",
		"foo":   "/foo",
		"/foo":  "/foo",
		"/foo/": "/foo",
		"//foo": "//foo",
	}
	for in, want := range cases {
		require.Equal(t, want, normalize(in), "normalize(%q)", in)
	}
}

func TestNormalizeIsIdempotentR1(t *testing.T) {
	for _, in := range []string{"/", "foo", "/foo", "/foo/", "//foo"} {
		once := normalize(in)
		require.Equal(t, once, normalize(once))
	}
}

func newTestSession(transport nstransport.Transport, cb Callbacks) *Session {
	return New(Config{
		MasterAddr:    "fake:0",
		LeaseInterval: 50 * time.Millisecond,
		GracePeriod:   200 * time.Millisecond,
		ClientTimeout: time.Second,
	}, transport, cb)
}

func TestJeopardyRecoveryScenario4(t *testing.T) {
	var mu sync.Mutex
	var order []string
	var s *Session

	cb := Callbacks{
		Safe: func() { mu.Lock(); order = append(order, "safe"); mu.Unlock() },
		Jeopardy: func() {
			mu.Lock()
			order = append(order, "jeopardy")
			mu.Unlock()
			// Simulates the keepalive collaborator independently observing
			// recovered connectivity and driving the session back to SAFE
			// (spec: transitions are "caused by the keepalive handler...
			// and by send failures from operation threads" — recovery is
			// the keepalive's job, not the retrying operation's).
			go s.StateTransition(Safe)
		},
	}

	transport := &scriptedTransport{
		steps: []func() nstransport.ReplyEvent{
			func() nstransport.ReplyEvent {
				return nstransport.ReplyEvent{Err: nserrors.New(nserrors.COMM_SEND_ERROR, "boom")}
			},
			func() nstransport.ReplyEvent {
				return okReply(nil)
			},
		},
	}

	s = newTestSession(transport, cb)
	s.StateTransition(Safe) // session starts reachable

	err := s.Mkdir("/a")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"safe", "jeopardy", "safe"}, order)
}

func TestExpiredSessionFailsOperations(t *testing.T) {
	s := newTestSession(&scriptedTransport{}, Callbacks{})
	s.StateTransition(Expired)

	err := s.Mkdir("/a")
	require.Error(t, err)
	require.True(t, nserrors.HasCode(err, nserrors.NAMESPACE_EXPIRED_SESSION))
}

func TestOpenReturnsHandleAndTracksIt(t *testing.T) {
	transport := &scriptedTransport{
		steps: []func() nstransport.ReplyEvent{
			func() nstransport.ReplyEvent {
				return okReply(func(e *wire.Encoder) {
					e.PutI64(42)
					e.PutBool(true)
					e.PutI64(0)
				})
			},
		},
	}
	s := newTestSession(transport, Callbacks{})
	s.StateTransition(Safe)

	handle, err := s.Open("/hypertable/master", OpenFlagRead|OpenFlagWrite|OpenFlagLock)
	require.NoError(t, err)
	require.EqualValues(t, 42, handle)

	_, ok := s.lookupHandle(handle)
	require.True(t, ok)
}

func TestLockHandoffScenario5(t *testing.T) {
	transport := &scriptedTransport{
		steps: []func() nstransport.ReplyEvent{
			func() nstransport.ReplyEvent {
				return okReply(func(e *wire.Encoder) { e.PutI64(1); e.PutBool(true); e.PutI64(0) })
			},
			func() nstransport.ReplyEvent {
				return okReply(func(e *wire.Encoder) {
					e.PutI32(int32(LockPending))
				})
			},
		},
	}
	s := newTestSession(transport, Callbacks{})
	s.StateTransition(Safe)

	handle, err := s.Open("/hypertable/servers/a", OpenFlagRead|OpenFlagLock)
	require.NoError(t, err)

	done := make(chan struct{})
	var seq *LockSequencer
	var lockErr error
	go func() {
		seq, lockErr = s.Lock(handle, LockExclusive)
		close(done)
	}()

	// give the goroutine time to reach the PENDING wait
	time.Sleep(20 * time.Millisecond)
	s.DeliverLockGrant(handle, 7)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock did not return after grant delivery")
	}

	require.NoError(t, lockErr)
	require.NotNil(t, seq)
	require.EqualValues(t, 7, seq.Generation)
}

func TestLockCancellationFailsWaiter(t *testing.T) {
	transport := &scriptedTransport{
		steps: []func() nstransport.ReplyEvent{
			func() nstransport.ReplyEvent {
				return okReply(func(e *wire.Encoder) { e.PutI64(1); e.PutBool(true); e.PutI64(0) })
			},
			func() nstransport.ReplyEvent {
				return okReply(func(e *wire.Encoder) { e.PutI32(int32(LockPending)) })
			},
		},
	}
	s := newTestSession(transport, Callbacks{})
	s.StateTransition(Safe)

	handle, err := s.Open("/hypertable/servers/b", OpenFlagRead|OpenFlagLock)
	require.NoError(t, err)

	done := make(chan struct{})
	var lockErr error
	go func() {
		_, lockErr = s.Lock(handle, LockExclusive)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	s.DeliverLockCancellation(handle)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock did not return after cancellation")
	}
	require.Error(t, lockErr)
	require.True(t, nserrors.HasCode(lockErr, nserrors.NAMESPACE_REQUEST_CANCELLED))
}

func TestAlreadyLockedFailsFast(t *testing.T) {
	transport := &scriptedTransport{
		steps: []func() nstransport.ReplyEvent{
			func() nstransport.ReplyEvent {
				return okReply(func(e *wire.Encoder) { e.PutI64(1); e.PutBool(true); e.PutI64(0) })
			},
			func() nstransport.ReplyEvent {
				return okReply(func(e *wire.Encoder) {
					e.PutI32(int32(LockGranted))
					e.PutI64(5)
				})
			},
		},
	}
	s := newTestSession(transport, Callbacks{})
	s.StateTransition(Safe)

	handle, err := s.Open("/hypertable/servers/c", OpenFlagRead|OpenFlagLock)
	require.NoError(t, err)

	_, err = s.Lock(handle, LockExclusive)
	require.NoError(t, err)

	_, err = s.Lock(handle, LockExclusive)
	require.Error(t, err)
	require.True(t, nserrors.HasCode(err, nserrors.NAMESPACE_ALREADY_LOCKED))
}

func TestGetSequencerFailsWhenNotLocked(t *testing.T) {
	transport := &scriptedTransport{
		steps: []func() nstransport.ReplyEvent{
			func() nstransport.ReplyEvent {
				return okReply(func(e *wire.Encoder) { e.PutI64(9); e.PutBool(true); e.PutI64(0) })
			},
		},
	}
	s := newTestSession(transport, Callbacks{})
	s.StateTransition(Safe)

	handle, err := s.Open("/hypertable/root", OpenFlagRead)
	require.NoError(t, err)

	_, err = s.GetSequencer(handle)
	require.Error(t, err)
	require.True(t, nserrors.HasCode(err, nserrors.NAMESPACE_NOT_LOCKED))
}
