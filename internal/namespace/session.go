// Package namespace implements the namespace-service client session: a
// long-lived, leased connection to a replicated lock/namespace master that
// survives transient disconnections and multiplexes file, attribute, and
// advisory-lock operations over a single request/reply channel (spec §4.1).
//
// Grounded line-for-line on original_source/src/cc/Hyperspace/Session.cc:
// every operation follows that file's try_again/wait_for_safe/send_message/
// state_transition(JEOPARDY) template.
package namespace

import (
	"context"
	"sync"
	"time"

	"go.opencensus.io/trace"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/metrics"
	"github.com/kuerant/hypertable/internal/nstransport"
	"github.com/kuerant/hypertable/internal/wire"
	"github.com/kuerant/hypertable/util/atomic"
	"github.com/kuerant/hypertable/util/log"
	"github.com/kuerant/hypertable/util/uuid"
)

// SessionState is the namespace session's three-state machine (spec §4.1).
// It is nstransport.State under the hood so the Keepalive collaborator can
// drive it without this package importing back into nstransport's caller.
type SessionState = nstransport.State

const (
	Jeopardy = nstransport.Jeopardy
	Safe     = nstransport.Safe
	Expired  = nstransport.Expired
)

// Callbacks fire on state-entry transitions only (spec §4.1: "On entry
// (from ...), notify ...").
type Callbacks struct {
	Safe     func()
	Jeopardy func()
	Expired  func()
}

// Config bundles the addressing and timing parameters a Session needs.
type Config struct {
	MasterAddr    string
	LeaseInterval time.Duration
	GracePeriod   time.Duration
	// ClientTimeout defaults to 2*LeaseInterval when zero (spec §4.1).
	ClientTimeout time.Duration
}

// Session is the namespace-service client session (spec §4.1).
type Session struct {
	cfg       Config
	transport nstransport.Transport
	callbacks Callbacks

	mu         sync.Mutex
	cond       *sync.Cond
	state      SessionState
	expireTime time.Time

	handlesMu sync.Mutex
	handles   map[int64]*ClientHandleState

	// nextRequestID is a log-correlation counter only: the transport
	// matches replies to requests strictly by send order, not by id.
	nextRequestID *atomic.AtomicInt64

	// instanceID identifies this Session in log output; it has no
	// protocol meaning and is never sent on the wire.
	instanceID string
}

// New constructs a Session in the initial JEOPARDY state (spec §4.1:
// "JEOPARDY (initial)").
func New(cfg Config, transport nstransport.Transport, callbacks Callbacks) *Session {
	if cfg.ClientTimeout == 0 {
		cfg.ClientTimeout = 2 * cfg.LeaseInterval
	}
	s := &Session{
		cfg:           cfg,
		transport:     transport,
		callbacks:     callbacks,
		state:         Jeopardy,
		handles:       make(map[int64]*ClientHandleState),
		nextRequestID: atomic.NewAtomicInt64(0),
		instanceID:    uuid.FlakeUUID(),
	}
	log.Info("namespace: session %v created for master %v", s.instanceID, cfg.MasterAddr)
	s.cond = sync.NewCond(&s.mu)
	s.expireTime = time.Now().Add(cfg.GracePeriod)
	return s
}

// StateTransition updates the session's state under the session mutex and
// fires the entry callback for JEOPARDY/SAFE/EXPIRED, matching
// Session::state_transition. It is invoked externally by the Keepalive
// collaborator (spec §6.4) and satisfies nstransport.KeepaliveTarget.
func (s *Session) StateTransition(newState SessionState) {
	s.mu.Lock()
	old := s.state
	if old == Expired {
		// terminal; ignore further transitions (I2: no waking after expiry
		// beyond the single notification already delivered).
		s.mu.Unlock()
		return
	}
	if old == newState {
		s.mu.Unlock()
		return
	}
	s.state = newState
	if newState == Jeopardy {
		s.expireTime = time.Now().Add(s.cfg.GracePeriod)
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	metrics.SessionState.WithLabelValues(s.cfg.MasterAddr).Set(float64(newState))

	switch newState {
	case Safe:
		log.Info("namespace session %v SAFE", s.instanceID)
		if s.callbacks.Safe != nil {
			s.callbacks.Safe()
		}
	case Jeopardy:
		log.Warn("namespace session %v JEOPARDY", s.instanceID)
		if s.callbacks.Jeopardy != nil {
			s.callbacks.Jeopardy()
		}
	case Expired:
		log.Error("namespace session %v EXPIRED", s.instanceID)
		if s.callbacks.Expired != nil {
			s.callbacks.Expired()
		}
		s.expireAllHandles()
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Expired reports whether the session is EXPIRED, or is in JEOPARDY with
// now >= expire_time (spec §4.1).
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Expired || (s.state == Jeopardy && !time.Now().Before(s.expireTime))
}

// WaitForConnection blocks up to maxWait for SAFE, returning false on
// timeout or EXPIRED (spec §4.1).
func (s *Session) WaitForConnection(maxWait time.Duration) bool {
	deadline := time.Now().Add(maxWait)
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state != Safe {
		if s.state == Expired {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		s.waitWithTimeout(remaining)
	}
	return true
}

// WaitForSafe blocks indefinitely for SAFE, returning false only on
// EXPIRED (spec §4.1).
func (s *Session) WaitForSafe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.state != Safe {
		if s.state == Expired {
			return false
		}
		s.cond.Wait()
	}
	return true
}

// waitWithTimeout waits on s.cond for at most d, must be called with s.mu
// held. sync.Cond has no native timeout, so a helper goroutine broadcasts
// after d elapses; this mirrors the bounded wait_for_connection semantics
// without introducing a channel-based wait primitive throughout Session.
func (s *Session) waitWithTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer timer.Stop()
	s.cond.Wait()
}

// normalize applies the exact path-normalization rules from spec §4.1 /
// Session::normalize_name: "/" is preserved; otherwise ensure a leading
// "/"; strip exactly one trailing "/" if present. No other normalization.
func normalize(name string) string {
	if name == "/" {
		return name
	}
	if len(name) == 0 || name[0] != '/' {
		name = "/" + name
	}
	if len(name) > 1 && name[len(name)-1] == '/' {
		name = name[:len(name)-1]
	}
	return name
}

// do implements the per-operation template from spec §4.1: build request,
// wait for SAFE, submit with client_timeout, retry through JEOPARDY on
// transport failure without bound, decode on reply.
func (s *Session) do(opCode int32, encode func(*wire.Encoder), decode func(*wire.Decoder) error, opName string) error {
	_, span := trace.StartSpan(context.Background(), "namespace."+opName)
	defer span.End()

	reqID := s.nextRequestID.Incr()

	enc := wire.NewEncoder()
	enc.PutFrameHeader(wire.FrameHeader{Version: ProtocolVersion, OpCode: opCode})
	if encode != nil {
		encode(enc)
	}
	req := enc.Bytes()

	for {
		if !s.WaitForSafe() {
			return nserrors.Newf(nserrors.NAMESPACE_EXPIRED_SESSION, "session expired: %s", opName)
		}

		type result struct {
			payload []byte
			err     error
		}
		done := make(chan result, 1)

		ctx, cancel := context2WithTimeout(s.cfg.ClientTimeout)
		sendErr := s.transport.SendRequest(ctx, s.cfg.MasterAddr, s.cfg.ClientTimeout, req, func(ev nstransport.ReplyEvent) {
			done <- result{payload: ev.Payload, err: ev.Err}
		})
		cancel()

		if sendErr != nil {
			log.Warn("namespace session %v: request %d (%s) send failed: %v", s.instanceID, reqID, opName, sendErr)
			s.StateTransition(Jeopardy)
			continue
		}

		r := <-done
		if r.err != nil {
			log.Warn("namespace session %v: request %d (%s) reply failed: %v", s.instanceID, reqID, opName, r.err)
			s.StateTransition(Jeopardy)
			continue
		}

		dec := wire.NewDecoder(r.payload)
		code, err := dec.GetResponseCode()
		if err != nil {
			log.Warn("namespace session %v: request %d (%s) malformed reply: %v", s.instanceID, reqID, opName, err)
			s.StateTransition(Jeopardy)
			continue
		}
		if code != nserrors.OK {
			return nserrors.Newf(code, "%s: %s", opName, nserrors.GetText(code))
		}
		if decode != nil {
			if err := decode(dec); err != nil {
				return err
			}
		}
		return nil
	}
}

func context2WithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), d)
}

// RegisterHandle / UnregisterHandle / DeliverLockGrant /
// DeliverLockCancellation implement nstransport.KeepaliveTarget, through
// which asynchronous lock events are delivered. Open/create already record
// each handle in s.handles on a successful reply (trackHandle), so
// RegisterHandle itself does nothing.

func (s *Session) RegisterHandle(handle int64) {}

func (s *Session) UnregisterHandle(handle int64) {
	s.handlesMu.Lock()
	delete(s.handles, handle)
	s.handlesMu.Unlock()
}

func (s *Session) DeliverLockGrant(handle int64, generation int64) {
	s.handlesMu.Lock()
	h, ok := s.handles[handle]
	s.handlesMu.Unlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.LockStatus = LockGranted
	h.LockGeneration = generation
	h.cond.Broadcast()
	h.mu.Unlock()
}

func (s *Session) DeliverLockCancellation(handle int64) {
	s.handlesMu.Lock()
	h, ok := s.handles[handle]
	s.handlesMu.Unlock()
	if !ok {
		return
	}
	h.mu.Lock()
	h.LockStatus = LockCancelled
	h.cond.Broadcast()
	h.mu.Unlock()
}

// expireAllHandles wakes every handle waiting on a PENDING lock so no
// waiter is left blocked past session expiry (spec I2: "all waiters
// unblock within a single notification"). Called from StateTransition
// after the session mutex has already been released, since the lock
// state machine never holds the session mutex and a handle mutex at once.
func (s *Session) expireAllHandles() {
	s.handlesMu.Lock()
	handles := make([]*ClientHandleState, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handlesMu.Unlock()

	for _, h := range handles {
		h.mu.Lock()
		if h.LockStatus == LockPending {
			h.LockStatus = LockCancelled
		}
		h.cond.Broadcast()
		h.mu.Unlock()
	}
}

func (s *Session) trackHandle(h *ClientHandleState) {
	s.handlesMu.Lock()
	s.handles[h.Handle] = h
	s.handlesMu.Unlock()
}

func (s *Session) lookupHandle(handle int64) (*ClientHandleState, bool) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()
	h, ok := s.handles[handle]
	return h, ok
}
