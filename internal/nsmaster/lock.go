package nsmaster

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"

	nserrors "github.com/kuerant/hypertable/internal/errors"
)

// LockMode mirrors namespace.LockMode without importing that package (the
// namespace client and the namespace master are independent peers; this
// avoids a dependency cycle between them).
type LockMode int32

const (
	LockShared LockMode = iota + 1
	LockExclusive
)

// LockResult is returned by TryLock: Granted reports whether the lock was
// acquired immediately, and Generation is the sequencer generation on a
// grant (spec §3: "a monotonically increasing 64-bit value assigned by the
// namespace master at each successful lock grant").
type LockResult struct {
	Granted    bool
	Generation int64
}

// TryLock attempts to acquire path's advisory lock for holder, never
// blocking (spec §4.1 step 6, §4.2 step 2 "try_lock exclusive"). On grant,
// the generation counter for path is incremented and persisted first
// (etcd Txn compare-and-swap), satisfying I3 and I4.
func (s *Store) TryLock(ctx context.Context, path, holder string, mode LockMode) (LockResult, error) {
	key := lockKey(path)

	txn := s.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Version(key), "=", 0)).
		Then(clientv3.OpPut(key, holder))
	resp, err := txn.Commit()
	if err != nil {
		return LockResult{}, wrapEtcdErr(err)
	}
	if !resp.Succeeded {
		return LockResult{Granted: false}, nil
	}

	gen, err := s.nextGeneration(ctx, path)
	if err != nil {
		return LockResult{}, err
	}
	return LockResult{Granted: true, Generation: gen}, nil
}

// Release clears path's advisory lock if held by holder.
func (s *Store) Release(ctx context.Context, path, holder string) error {
	key := lockKey(path)
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return wrapEtcdErr(err)
	}
	if len(resp.Kvs) == 0 {
		return nserrors.New(nserrors.NAMESPACE_NOT_LOCKED, path)
	}
	if string(resp.Kvs[0].Value) != holder {
		return nserrors.New(nserrors.NAMESPACE_LOCK_CONFLICT, path)
	}
	if _, err := s.client.Delete(ctx, key); err != nil {
		return wrapEtcdErr(err)
	}
	return nil
}

// LockHolder returns the current holder of path's advisory lock, or "" if
// unlocked.
func (s *Store) LockHolder(ctx context.Context, path string) (string, error) {
	resp, err := s.client.Get(ctx, lockKey(path))
	if err != nil {
		return "", wrapEtcdErr(err)
	}
	if len(resp.Kvs) == 0 {
		return "", nil
	}
	return string(resp.Kvs[0].Value), nil
}

// nextGeneration atomically increments path's generation counter via an
// etcd compare-and-swap loop. Generations are per-path and monotonic for
// the lifetime of the namespace master's etcd keyspace.
func (s *Store) nextGeneration(ctx context.Context, path string) (int64, error) {
	key := generationKey + path
	for {
		resp, err := s.client.Get(ctx, key)
		if err != nil {
			return 0, wrapEtcdErr(err)
		}

		var cur int64
		var cmp clientv3.Cmp
		if len(resp.Kvs) == 0 {
			cur = 0
			cmp = clientv3.Compare(clientv3.Version(key), "=", 0)
		} else {
			cur = decodeInt64(resp.Kvs[0].Value)
			cmp = clientv3.Compare(clientv3.ModRevision(key), "=", resp.Kvs[0].ModRevision)
		}

		next := cur + 1
		txn := s.client.Txn(ctx).If(cmp).Then(clientv3.OpPut(key, encodeInt64(next)))
		txnResp, err := txn.Commit()
		if err != nil {
			return 0, wrapEtcdErr(err)
		}
		if txnResp.Succeeded {
			return next, nil
		}
		// lost the race against a concurrent grant on the same path; retry.
	}
}

func encodeInt64(v int64) string {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return string(buf)
}

func decodeInt64(b []byte) int64 {
	var v int64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= int64(b[i]) << (8 * i)
	}
	return v
}
