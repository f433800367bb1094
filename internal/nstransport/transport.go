// Package nstransport defines the two collaborator contracts the namespace
// session depends on but does not implement itself (spec §6.4: Transport,
// Keepalive), plus one concrete TCP-based Transport and one concrete
// lease-based Keepalive.
//
// The RPC transport's framing, timeouts, and connection pooling are named
// out of scope by the spec (§1); this package exists only so Session has a
// real peer to run end-to-end against, grounded on the request/reply
// dispatch shape in pikaia79-baud/master/ps_rpc_client.go and the
// lease-keepalive loop in pikaia79-baud/topo/etcd3topo/ephemeral.go.
package nstransport

import (
	"context"
	"time"
)

// State mirrors the namespace session's three-state machine (spec §4.1).
// It lives here, not in internal/namespace, so this package's Keepalive
// contract can name it without importing back into internal/namespace.
type State int32

const (
	Jeopardy State = iota
	Safe
	Expired
)

func (s State) String() string {
	switch s {
	case Jeopardy:
		return "JEOPARDY"
	case Safe:
		return "SAFE"
	case Expired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// ReplyEvent is delivered to a ReplyHandler when a submitted request
// completes, times out, or the connection breaks.
type ReplyEvent struct {
	Payload []byte
	Err     error
}

// ReplyHandler receives exactly one ReplyEvent per SendRequest call.
type ReplyHandler func(ReplyEvent)

// Transport is the collaborator that carries a namespace-protocol request
// to addr and delivers the reply (or a timeout/comm failure) to handler
// (spec §6.4: "send_request(addr, timeout, buf, handler) -> code").
type Transport interface {
	SendRequest(ctx context.Context, addr string, timeout time.Duration, buf []byte, handler ReplyHandler) error
}

// KeepaliveTarget is the subset of Session's surface the Keepalive
// collaborator drives: state transitions and asynchronous lock delivery
// (spec §6.4: "invokes session.state_transition(...); registers/
// unregisters client handles; delivers lock grants and cancellations to
// handle condvars").
type KeepaliveTarget interface {
	StateTransition(state State)
	DeliverLockGrant(handle int64, generation int64)
	DeliverLockCancellation(handle int64)
	RegisterHandle(handle int64)
	UnregisterHandle(handle int64)
}

// Keepalive periodically challenges the namespace master and drives the
// bound Session's state machine from the replies (or their absence).
type Keepalive interface {
	Start(target KeepaliveTarget) error
	Stop()
}
