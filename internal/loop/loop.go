// Package loop provides the single logical thread the physical count core
// runs on. Every component is confined to one Loop: handlers run to
// completion, and blocking I/O happens in goroutines that Post their
// continuation back.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is an unbounded FIFO of tasks executed by whoever calls Run (or Step).
// Post is safe from any goroutine; tasks may Post further tasks.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	closed bool
}

// New returns an empty loop.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn. Returns false once the loop has been closed.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run executes tasks until ctx is done, then closes the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.close()
	for {
		if err := l.Step(ctx); err != nil {
			return err
		}
	}
}

// Step waits for the next task and runs it.
func (l *Loop) Step(ctx context.Context) error {
	for {
		if fn, ok := l.pop(); ok {
			fn()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain runs every task that is queued, including tasks posted while
// draining, and returns how many ran.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn, ok := l.pop()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// After posts fn once d has elapsed. The returned cancel func must be called
// from the loop; a cancelled task that was already queued is skipped.
func (l *Loop) After(d time.Duration, fn func()) (cancel func()) {
	var cancelled atomic.Bool
	timer := time.AfterFunc(d, func() {
		l.Post(func() {
			if !cancelled.Load() {
				fn()
			}
		})
	})
	return func() {
		cancelled.Store(true)
		timer.Stop()
	}
}

// Every posts fn each period until cancelled. Ticks are not queued up
// behind a slow loop: at most one tick is pending at a time.
func (l *Loop) Every(d time.Duration, fn func()) (cancel func()) {
	var cancelled, pending atomic.Bool
	ticker := time.NewTicker(d)
	stop := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !pending.CompareAndSwap(false, true) {
					continue
				}
				l.Post(func() {
					pending.Store(false)
					if !cancelled.Load() {
						fn()
					}
				})
			}
		}
	}()

	var once sync.Once
	return func() {
		cancelled.Store(true)
		once.Do(func() { close(stop) })
	}
}

func (l *Loop) pop() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) close() {
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
}
