package nstransport

import (
	"context"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/kuerant/hypertable/util/log"
)

// LeaseKeepalive drives a Session's state machine from an etcd lease's
// keepalive channel: as long as keepalive responses arrive the session is
// SAFE; if the channel closes (lease lost, or etcd unreachable) the session
// moves to JEOPARDY, and once gracePeriod passes with no keepalive response
// the session is declared EXPIRED. Adapted from the lease-grant/
// keepalive-drain loop in etcd3topo/ephemeral.go's newLease.
type LeaseKeepalive struct {
	client        *clientv3.Client
	leaseInterval time.Duration
	gracePeriod   time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	leaseID clientv3.LeaseID
}

func NewLeaseKeepalive(client *clientv3.Client, leaseInterval, gracePeriod time.Duration) *LeaseKeepalive {
	return &LeaseKeepalive{client: client, leaseInterval: leaseInterval, gracePeriod: gracePeriod}
}

func (k *LeaseKeepalive) Start(target KeepaliveTarget) error {
	ttlSeconds := int64((k.leaseInterval + k.gracePeriod).Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	lease, err := k.client.Grant(ctx, ttlSeconds)
	if err != nil {
		cancel()
		return err
	}

	ch, err := k.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		return err
	}

	k.mu.Lock()
	k.cancel = cancel
	k.leaseID = lease.ID
	k.mu.Unlock()

	go k.drain(ctx, ch, target)
	target.StateTransition(Safe)
	return nil
}

func (k *LeaseKeepalive) drain(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse, target KeepaliveTarget) {
	graceTimer := time.NewTimer(k.gracePeriod)
	defer graceTimer.Stop()

	for {
		select {
		case resp, ok := <-ch:
			if !ok || resp == nil {
				target.StateTransition(Jeopardy)
				if !graceTimer.Stop() {
					<-graceTimer.C
				}
				graceTimer.Reset(k.gracePeriod)
				// A closed channel is always ready; stop selecting on it so
				// the grace timer can fire.
				ch = nil
				continue
			}
			if !graceTimer.Stop() {
				select {
				case <-graceTimer.C:
				default:
				}
			}
			graceTimer.Reset(k.gracePeriod)
			target.StateTransition(Safe)

		case <-graceTimer.C:
			log.Warn("namespace session grace period elapsed, declaring expired")
			target.StateTransition(Expired)
			return

		case <-ctx.Done():
			return
		}
	}
}

func (k *LeaseKeepalive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cancel != nil {
		k.cancel()
		k.cancel = nil
	}
	if k.leaseID != 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := k.client.Revoke(ctx, k.leaseID); err != nil {
			log.Warn("failed to revoke namespace session lease: %v", err)
		}
		k.leaseID = 0
	}
}
