package namespace

import "sync"

// Lock status values mirrored on the client side (spec §3, §4.1).
const (
	LockNone LockStatus = iota
	LockPending
	LockGranted
	LockCancelled
)

// LockStatus is the client-observed state of a handle's advisory lock.
type LockStatus int32

func (s LockStatus) String() string {
	switch s {
	case LockNone:
		return "NONE"
	case LockPending:
		return "PENDING"
	case LockGranted:
		return "GRANTED"
	case LockCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// LockMode is the advisory lock mode requested by lock/try_lock.
type LockMode int32

const (
	LockShared LockMode = iota + 1
	LockExclusive
)

// LockSequencer proves lock authority at a given epoch (spec §3, GLOSSARY).
// Generation is assigned by the namespace master at each successful grant.
type LockSequencer struct {
	Name       string
	Mode       LockMode
	Generation int64
}

// EventMask selects which asynchronous notifications a handle receives
// from the keepalive channel. Only the lock events below are defined.
type EventMask int32

const (
	EventLockAcquired EventMask = 1 << iota
	EventLockReleased
	EventLockGranted
	EventLockCancelled
)

// HandleCallback is invoked for asynchronous events delivered on a handle
// by the keepalive collaborator.
type HandleCallback func(event EventMask)

// ClientHandleState is the client-side mirror of a server-assigned
// ClientHandle: the open file's normalized path, its lock state, and the
// mutex/condvar pair the lock protocol waits on (spec §3, §5 — "each
// ClientHandleState carries its own mutex/condvar; the lock state machine
// never holds both the session mutex and a handle mutex simultaneously").
type ClientHandleState struct {
	mu   sync.Mutex
	cond *sync.Cond

	Handle         int64
	NormalizedPath string
	OpenFlags      int32
	EventMask      EventMask
	Callback       HandleCallback

	LockMode       LockMode
	LockStatus     LockStatus
	LockGeneration int64
	pendingSeq     *LockSequencer
}

func newClientHandleState(handle int64, path string, flags int32) *ClientHandleState {
	h := &ClientHandleState{
		Handle:         handle,
		NormalizedPath: path,
		OpenFlags:      flags,
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// sequencerLocked returns the mirrored lock sequencer and true, or nil and
// false when no lock has ever been granted on this handle; GetSequencer
// turns false into NOT_LOCKED (spec §4.1: get_sequencer). h.mu must be held.
func (h *ClientHandleState) sequencerLocked() (*LockSequencer, bool) {
	if h.LockGeneration == 0 {
		return nil, false
	}
	return &LockSequencer{Name: h.NormalizedPath, Mode: h.LockMode, Generation: h.LockGeneration}, true
}
