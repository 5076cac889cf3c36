// Package loop provides the single-threaded owner that every observable state
// change runs on. Work may happen on other goroutines, but its continuation is
// always posted back and executed here, one task at a time, in post order.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cordum/extcore/core/infra/logging"
)

var errClosed = errors.New("loop closed")

// Loop is a FIFO task queue drained by exactly one goroutine at a time.
type Loop struct {
	mu       sync.Mutex
	queue    []func()
	inflight int
	closed   bool
	wake     chan struct{}
}

// New returns an empty loop.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn to run on the loop. Posting to a closed loop is a no-op.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Spawn runs work on its own goroutine and posts then(result) back to the loop.
// The loop counts the work as in flight until the continuation is queued, so
// Drain does not return early.
func Spawn[T any](l *Loop, work func() T, then func(T)) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.inflight++
	l.mu.Unlock()

	go func() {
		var result T
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("loop", "spawned work panicked", "panic", r)
				}
			}()
			result = work()
		}()
		l.mu.Lock()
		l.inflight--
		if !l.closed && then != nil {
			l.queue = append(l.queue, func() { then(result) })
		}
		l.mu.Unlock()
		l.signal()
	}()
}

// Pending reports queued tasks plus in-flight spawned work.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) + l.inflight
}

// RunOnce executes every task queued at call time and returns how many ran.
func (l *Loop) RunOnce() int {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, fn := range batch {
		l.exec(fn)
	}
	return len(batch)
}

// Drain runs tasks until the queue is empty and no spawned work is in flight.
func (l *Loop) Drain(ctx context.Context) error {
	for {
		l.RunOnce()
		l.mu.Lock()
		idle := len(l.queue) == 0 && l.inflight == 0
		closed := l.closed
		l.mu.Unlock()
		if idle {
			return nil
		}
		if closed {
			return errClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Run drains tasks until ctx is cancelled or the loop is closed.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunOnce()
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Close stops accepting tasks. Queued tasks are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("loop", "task panicked", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
