package paygate

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// UpdateExecutor serializes read-modify-write sequences against the shared
// store, scoped per entity key. Acquisition is FIFO per key, so no mutation
// can starve while competitors keep arriving; mutations for different keys
// proceed independently. The lock registry is retained per key, bounded by
// the number of distinct entities seen by the process.
type UpdateExecutor struct {
	locks *xsync.MapOf[string, *fifoLock]
}

// NewUpdateExecutor returns an executor with an empty lock registry.
func NewUpdateExecutor() *UpdateExecutor {
	return &UpdateExecutor{
		locks: xsync.NewMapOf[string, *fifoLock](),
	}
}

// Do runs fn while holding exclusive access to key. Queued callers are
// admitted in arrival order. Acquisition honors context cancellation;
// fn itself is responsible for its own deadlines.
func (e *UpdateExecutor) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lock, _ := e.locks.LoadOrCompute(key, func() *fifoLock {
		return &fifoLock{}
	})

	if err := lock.acquire(ctx); err != nil {
		return err
	}
	defer lock.release()

	return fn(ctx)
}

type lockWaiter struct {
	ready     chan struct{}
	abandoned bool
}

// fifoLock is a mutual-exclusion lock with strict FIFO handoff. Ownership
// is transferred directly to the head waiter on release instead of letting
// goroutines race for re-acquisition.
type fifoLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []*lockWaiter
}

func (l *fifoLock) acquire(ctx context.Context) error {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return nil
	}

	w := &lockWaiter{ready: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		select {
		case <-w.ready:
			// Ownership arrived while we were cancelling; pass it on.
			l.mu.Unlock()
			l.release()
		default:
			w.abandoned = true
			l.mu.Unlock()
		}
		return ctx.Err()
	}
}

func (l *fifoLock) release() {
	l.mu.Lock()
	for len(l.waiters) > 0 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		if w.abandoned {
			continue
		}
		close(w.ready)
		l.mu.Unlock()
		return
	}
	l.locked = false
	l.mu.Unlock()
}
