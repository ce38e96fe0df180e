// Package lock serializes work on a key, such as bookings against one
// doctor's schedule. Two implementations exist: an in-process keyed mutex and
// a Redis lock for multi-instance deployments.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned when a lock could not be acquired within the wait
// budget.
var ErrTimeout = errors.New("lock: acquire timed out")

// Locker acquires a named lock, waiting at most wait. The returned release
// function must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string, wait time.Duration) (release func(), err error)
}

// Local is an in-process keyed mutex.
type Local struct {
	mu    sync.Mutex
	slots map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

func NewLocal() *Local {
	return &Local{slots: make(map[string]*entry)}
}

func (l *Local) Acquire(ctx context.Context, key string, wait time.Duration) (func(), error) {
	l.mu.Lock()
	e, ok := l.slots[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.slots[key] = e
	}
	e.refs++
	l.mu.Unlock()

	release := func() func() {
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.unref(key, e)
			})
		}
	}

	select {
	case e.ch <- struct{}{}:
		return release(), nil
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case e.ch <- struct{}{}:
		return release(), nil
	case <-timer.C:
		l.unref(key, e)
		return nil, ErrTimeout
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}
}

func (l *Local) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.slots, key)
	}
}
