package namespace

import (
	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/internal/wire"
)

// Lock implements the blocking lock protocol (spec §4.1 steps 1-5): a
// PENDING reply blocks the caller on the handle condvar until an
// asynchronous grant or cancellation arrives via the keepalive channel.
func (s *Session) Lock(handle int64, mode LockMode) (*LockSequencer, error) {
	return s.lock(handle, mode, false)
}

// TryLock is the non-blocking variant (spec §4.1 step 6): it never returns
// PENDING to the caller.
func (s *Session) TryLock(handle int64, mode LockMode) (LockStatus, *LockSequencer, error) {
	seq, err := s.lock(handle, mode, true)
	if err != nil {
		return LockNone, nil, err
	}
	h, ok := s.lookupHandle(handle)
	if !ok {
		return LockNone, nil, nserrors.New(nserrors.NAMESPACE_INVALID_HANDLE, "unknown handle")
	}
	h.mu.Lock()
	status := h.LockStatus
	h.mu.Unlock()
	return status, seq, nil
}

func (s *Session) lock(handle int64, mode LockMode, nonBlocking bool) (*LockSequencer, error) {
	h, ok := s.lookupHandle(handle)
	if !ok {
		return nil, nserrors.New(nserrors.NAMESPACE_INVALID_HANDLE, "unknown handle")
	}

	h.mu.Lock()
	if h.LockStatus != LockNone {
		h.mu.Unlock()
		return nil, nserrors.New(nserrors.NAMESPACE_ALREADY_LOCKED, h.NormalizedPath)
	}
	h.pendingSeq = &LockSequencer{Name: h.NormalizedPath, Mode: mode}
	h.LockMode = mode
	h.mu.Unlock()

	op := OpLock
	if nonBlocking {
		op = OpTryLock
	}

	var status LockStatus
	var generation int64
	err := s.do(op, func(e *wire.Encoder) {
		e.PutI64(handle)
		e.PutI32(int32(mode))
	}, func(d *wire.Decoder) error {
		st, err := d.GetI32()
		if err != nil {
			return err
		}
		status = LockStatus(st)
		if status == LockGranted {
			gen, err := d.GetI64()
			if err != nil {
				return err
			}
			generation = gen
		}
		return nil
	}, "lock "+h.NormalizedPath)
	if err != nil {
		h.mu.Lock()
		h.pendingSeq = nil
		h.mu.Unlock()
		return nil, err
	}

	h.mu.Lock()
	h.LockStatus = status
	if status == LockGranted {
		h.LockGeneration = generation
	}
	h.mu.Unlock()

	if status != LockPending {
		h.mu.Lock()
		seq, _ := h.sequencerLocked()
		h.mu.Unlock()
		return seq, nil
	}

	// PENDING: wait on the handle condvar for an asynchronous grant or
	// cancellation delivered by the keepalive channel (spec §4.1 step 5).
	h.mu.Lock()
	for h.LockStatus == LockPending {
		h.cond.Wait()
	}
	final := h.LockStatus
	seq, _ := h.sequencerLocked()
	h.mu.Unlock()

	if final == LockCancelled {
		return nil, nserrors.New(nserrors.NAMESPACE_REQUEST_CANCELLED, h.NormalizedPath)
	}
	return seq, nil
}

// Release clears the handle's lock state and broadcasts its condvar
// (spec §4.1: "send release, clear lock_status on reply, broadcast
// condvar").
func (s *Session) Release(handle int64) error {
	h, ok := s.lookupHandle(handle)
	if !ok {
		return nserrors.New(nserrors.NAMESPACE_INVALID_HANDLE, "unknown handle")
	}

	err := s.do(OpRelease, func(e *wire.Encoder) {
		e.PutI64(handle)
	}, nil, "release "+h.NormalizedPath)
	if err != nil {
		return err
	}

	h.mu.Lock()
	h.LockStatus = LockNone
	h.pendingSeq = nil
	h.cond.Broadcast()
	h.mu.Unlock()
	return nil
}

// GetSequencer is local-only: fails NOT_LOCKED when lock_generation == 0,
// else returns the mirrored sequencer (spec §4.1).
func (s *Session) GetSequencer(handle int64) (*LockSequencer, error) {
	h, ok := s.lookupHandle(handle)
	if !ok {
		return nil, nserrors.New(nserrors.NAMESPACE_INVALID_HANDLE, "unknown handle")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	seq, ok := h.sequencerLocked()
	if !ok {
		return nil, nserrors.New(nserrors.NAMESPACE_NOT_LOCKED, h.NormalizedPath)
	}
	return seq, nil
}

// CheckSequencer round-trips to the namespace master to verify a presented
// sequencer is still current. The original source stubs this
// ("not implemented"); per spec §9's instruction not to guess at
// unspecified server-side verification semantics, this returns a named,
// typed NOT_IMPLEMENTED failure rather than a silent no-op (see DESIGN.md).
func (s *Session) CheckSequencer(seq *LockSequencer) error {
	return s.do(OpCheckSequencer, func(e *wire.Encoder) {
		e.PutVstr(seq.Name)
		e.PutI32(int32(seq.Mode))
		e.PutI64(seq.Generation)
	}, nil, "check_sequencer "+seq.Name)
}

// Status round-trips a liveness challenge to the namespace master.
func (s *Session) Status() error {
	return s.do(OpStatus, nil, nil, "status")
}
