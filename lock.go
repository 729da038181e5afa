package modbusnet

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

var errLockBusy = errors.New("link is locked")

var lockTokens atomic.Uint64

type ownerKey struct {
	l *linkLock
}

// linkLock fair (FIFO) lock guarding one physical link. Ownership travels in the
// context, so an action that already holds the lock can call back into the
// network without deadlocking.
type linkLock struct {
	sem   *semaphore.Weighted
	owner atomic.Uint64
}

func newLinkLock() *linkLock {
	return &linkLock{sem: semaphore.NewWeighted(1)}
}

// held reports whether ctx carries the current ownership of l
func (l *linkLock) held(ctx context.Context) bool {
	token, ok := ctx.Value(ownerKey{l}).(uint64)
	return ok && token != 0 && l.owner.Load() == token
}

// acquire wait up to timeout for the lock. A zero timeout only tries, a negative
// one waits until ctx is done. The returned context carries the ownership;
// reentered is true when ctx already owned the lock, and then release must not
// be called.
func (l *linkLock) acquire(ctx context.Context, timeout time.Duration) (owned context.Context, reentered bool, err error) {
	if l.held(ctx) {
		return ctx, true, nil
	}
	switch {
	case timeout == 0:
		if !l.sem.TryAcquire(1) {
			return nil, false, errLockBusy
		}
	case timeout > 0:
		wctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err = l.sem.Acquire(wctx, 1); err != nil {
			return nil, false, err
		}
	default:
		if err = l.sem.Acquire(ctx, 1); err != nil {
			return nil, false, err
		}
	}
	token := lockTokens.Add(1)
	l.owner.Store(token)
	return context.WithValue(ctx, ownerKey{l}, token), false, nil
}

// tryAcquire take the lock only if nobody holds or waits for it
func (l *linkLock) tryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.owner.Store(lockTokens.Add(1))
	return true
}

func (l *linkLock) release() {
	l.owner.Store(0)
	l.sem.Release(1)
}
