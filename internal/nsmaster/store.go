// Package nsmaster implements the namespace master server itself: a
// hierarchical directory tree, files carrying string/i32 attributes,
// advisory locks with a monotonically increasing generation counter, and
// change watches, backed by etcd. This gives Session, internal/master, and
// internal/location a real peer to run against end-to-end; the spec treats
// the namespace master as an external collaborator and does not name its
// storage backend.
//
// Grounded on pikaia79-baud/topo/etcd3topo/{server,lock,election,
// directory,ephemeral}.go: directory listing via key-prefix scan, watch via
// clientv3.Watch with revision tracking. Advisory locking is a single etcd
// Txn that creates the lock key only if it does not exist yet, with no
// lease and no waiter queue, plus a per-path generation counter advanced by
// compare-and-swap (lock.go).
package nsmaster

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	nserrors "github.com/kuerant/hypertable/internal/errors"
	"github.com/kuerant/hypertable/util/log"
)

const (
	nodePrefix   = "/ns"      // etcd key prefix for directory/file nodes
	attrPrefix   = "/nsattr"  // etcd key prefix for per-file attributes
	lockPrefix   = "/nslock"  // etcd key prefix for advisory lock holder records
	generationKey = "/nsgen/" // per-path monotonic generation counters
)

// Store is the namespace master's etcd-backed persistent state.
type Store struct {
	client *clientv3.Client
}

func NewStore(client *clientv3.Client) *Store {
	return &Store{client: client}
}

func nodeKey(path string) string { return nodePrefix + path }
func attrKey(path, name string) string { return attrPrefix + path + "\x00" + name }
func lockKey(path string) string { return lockPrefix + path }

// Exists reports whether a directory or file node exists at path.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	resp, err := s.client.Get(ctx, nodeKey(path))
	if err != nil {
		return false, wrapEtcdErr(err)
	}
	return len(resp.Kvs) > 0, nil
}

// nodeKind distinguishes files from directories in the node value.
const (
	kindFile = "f"
	kindDir  = "d"
)

// Mkdir creates a directory node, failing NAMESPACE_FILE_EXISTS if a node
// already exists at path.
func (s *Store) Mkdir(ctx context.Context, path string) error {
	return s.createNode(ctx, path, kindDir)
}

// CreateFile creates a file node, failing NAMESPACE_FILE_EXISTS if a node
// already exists at path.
func (s *Store) CreateFile(ctx context.Context, path string) error {
	return s.createNode(ctx, path, kindFile)
}

func (s *Store) createNode(ctx context.Context, path, kind string) error {
	key := nodeKey(path)
	txn := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(key), "=", 0)).
		Then(clientv3.OpPut(key, kind))
	resp, err := txn.Commit()
	if err != nil {
		return wrapEtcdErr(err)
	}
	if !resp.Succeeded {
		return nserrors.New(nserrors.NAMESPACE_FILE_EXISTS, path)
	}
	return nil
}

// EnsureDir creates path as a directory if absent, tolerating a concurrent
// creation racing it (used by master startup, spec §4.2 step 2).
func (s *Store) EnsureDir(ctx context.Context, path string) error {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := s.Mkdir(ctx, path); err != nil && !nserrors.HasCode(err, nserrors.NAMESPACE_FILE_EXISTS) {
		return err
	}
	return nil
}

// EnsureFile creates path as a file if absent.
func (s *Store) EnsureFile(ctx context.Context, path string) (created bool, err error) {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.CreateFile(ctx, path); err != nil {
		if nserrors.HasCode(err, nserrors.NAMESPACE_FILE_EXISTS) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Unlink removes a file or directory node and its attributes.
func (s *Store) Unlink(ctx context.Context, path string) error {
	exists, err := s.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return nserrors.New(nserrors.NAMESPACE_FILE_NOT_FOUND, path)
	}
	if _, err := s.client.Delete(ctx, nodeKey(path)); err != nil {
		return wrapEtcdErr(err)
	}
	if _, err := s.client.Delete(ctx, attrPrefix+path+"\x00", clientv3.WithPrefix()); err != nil {
		return wrapEtcdErr(err)
	}
	return nil
}

// AttrSet writes a string attribute on path.
func (s *Store) AttrSet(ctx context.Context, path, name string, value []byte) error {
	if _, err := s.client.Put(ctx, attrKey(path, name), string(value)); err != nil {
		return wrapEtcdErr(err)
	}
	return nil
}

// AttrGet reads an attribute, failing NAMESPACE_ATTR_NOT_FOUND if absent.
func (s *Store) AttrGet(ctx context.Context, path, name string) ([]byte, error) {
	resp, err := s.client.Get(ctx, attrKey(path, name))
	if err != nil {
		return nil, wrapEtcdErr(err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nserrors.New(nserrors.NAMESPACE_ATTR_NOT_FOUND, name)
	}
	return resp.Kvs[0].Value, nil
}

// AttrDel removes an attribute, tolerating absence.
func (s *Store) AttrDel(ctx context.Context, path, name string) error {
	_, err := s.client.Delete(ctx, attrKey(path, name))
	return wrapEtcdErr(err)
}

// Readdir lists the direct children of a directory node, mirroring
// etcd3topo/directory.go's ListDir (prefix scan, strip prefix, first
// segment only, dedupe).
func (s *Store) Readdir(ctx context.Context, path string) ([]DirEntry, error) {
	prefix := nodeKey(path)
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, wrapEtcdErr(err)
	}

	seen := make(map[string]DirEntry)
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), prefix)
		if rest == "" {
			continue
		}
		name := rest
		isDir := false
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			name = rest[:idx]
			isDir = true
		} else if string(kv.Value) == kindDir {
			isDir = true
		}
		seen[name] = DirEntry{Name: name, IsDir: isDir}
	}

	entries := make([]DirEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	return entries, nil
}

// DirEntry mirrors wire.DirEntry without importing the wire package into
// the storage layer.
type DirEntry struct {
	Name  string
	IsDir bool
}

// WatchEvent is delivered to directory/file watchers.
type WatchEvent struct {
	Path    string
	Deleted bool
}

// WatchDir streams change events under path until ctx is cancelled,
// adapted from etcd3topo/directory.go's WatchDir.
func (s *Store) WatchDir(ctx context.Context, path string) <-chan WatchEvent {
	out := make(chan WatchEvent, 8)
	prefix := nodeKey(path)
	wch := s.client.Watch(ctx, prefix, clientv3.WithPrefix())

	go func() {
		defer close(out)
		for resp := range wch {
			if resp.Err() != nil {
				log.Warn("namespace watch on %v failed: %v", path, resp.Err())
				return
			}
			for _, ev := range resp.Events {
				out <- WatchEvent{
					Path:    strings.TrimPrefix(string(ev.Kv.Key), nodePrefix),
					Deleted: ev.Type == mvccpb.DELETE,
				}
			}
		}
	}()
	return out
}

// wrapEtcdErr folds a raw etcd client error into the Exception chain.
// errors.Wrap prefixes the etcd error's message with "etcd request failed";
// only that message text (wrapped.Error()) is copied into the wire-stable
// Exception, so no stack trace is carried.
func wrapEtcdErr(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*nserrors.Exception); ok {
		return e
	}
	wrapped := errors.Wrap(err, "etcd request failed")
	return nserrors.Wrap(nserrors.New(nserrors.EXTERNAL, wrapped.Error()), nserrors.NAMESPACE_BERKELEYDB_ERROR, "namespace store")
}
