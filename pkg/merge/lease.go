package merge

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
)

// Lease is a held advisory lock.
type Lease interface {
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// Locker is a cross-process advisory lock.
type Locker interface {
	// TryLock returns ok=false when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// leaseSet holds the locks of one run, one per user, keyed by lock key.
type leaseSet struct {
	keys   []string
	leases map[string]Lease
	ttl    time.Duration
	logger ectologger.Logger
}

func newLeaseSet(ttl time.Duration, logger ectologger.Logger) *leaseSet {
	return &leaseSet{leases: map[string]Lease{}, ttl: ttl, logger: logger}
}

func (l *leaseSet) add(key string, lease Lease) {
	l.keys = append(l.keys, key)
	l.leases[key] = lease
}

// renew pushes every lease's expiry out by a full TTL. A lease that was lost is logged and the
// run carries on.
func (l *leaseSet) renew(ctx context.Context) {
	for _, key := range l.keys {
		if err := l.leases[key].Extend(ctx, l.ttl); err != nil {
			l.logger.WithContext(ctx).WithError(err).WithField("lock_key", key).Warn("Failed to extend merge lock")
		}
	}
}

// release frees the leases in reverse acquisition order, even when ctx was cancelled.
func (l *leaseSet) release(ctx context.Context) {
	releaseCtx := context.WithoutCancel(ctx)
	for i := len(l.keys) - 1; i >= 0; i-- {
		key := l.keys[i]
		if err := l.leases[key].Release(releaseCtx); err != nil {
			l.logger.WithContext(ctx).WithError(err).WithField("lock_key", key).Warn("Failed to release merge lock")
		}
	}
}

func lockOrder(sourceID, targetID string) []string {
	ids := []string{sourceID, targetID}
	sort.Strings(ids)
	return ids
}

type checkpointKey struct{}

// withCheckpoint attaches fn to ctx. The migrator calls it after every pair and the phase
// runner before every phase.
func withCheckpoint(ctx context.Context, fn func(context.Context)) context.Context {
	return context.WithValue(ctx, checkpointKey{}, fn)
}

func checkpoint(ctx context.Context) {
	if fn, ok := ctx.Value(checkpointKey{}).(func(context.Context)); ok {
		fn(ctx)
	}
}
