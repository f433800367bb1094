package master

import (
	"github.com/kuerant/hypertable/internal/namespace"
	"github.com/kuerant/hypertable/internal/wire"
)

// Namespace is the subset of namespace.Session the master's bootstrap and
// admission logic depends on. A narrow local interface (mirroring the
// pattern in internal/location) keeps startup/admission testable against a
// fake without dragging in the full lock/keepalive surface.
type Namespace interface {
	Open(name string, flags namespace.OpenFlag) (int64, error)
	Create(name string, flags namespace.OpenFlag) (int64, error)
	Close(handle int64) error
	Mkdir(name string) error
	Unlink(name string) error
	Exists(name string) (bool, error)
	AttrSet(handle int64, attr string, value []byte) error
	AttrGet(handle int64, attr string) ([]byte, error)
	Readdir(handle int64) ([]wire.DirEntry, error)
	TryLock(handle int64, mode namespace.LockMode) (namespace.LockStatus, *namespace.LockSequencer, error)
	WaitForConnection(maxWait int) bool
}

var _ Namespace = (*sessionAdapter)(nil)

// sessionAdapter narrows a *namespace.Session to the Namespace interface;
// WaitForConnection takes seconds in the spec's "block up to 30s" idiom
// but the session itself works in time.Duration.
type sessionAdapter struct {
	*namespace.Session
}

func (a sessionAdapter) WaitForConnection(maxWaitSeconds int) bool {
	return a.Session.WaitForConnection(secondsToDuration(maxWaitSeconds))
}

// NewNamespace adapts a concrete session to the Namespace interface used
// throughout this package.
func NewNamespace(s *namespace.Session) Namespace {
	return sessionAdapter{s}
}
