// Package looptest provides a hand-cranked loop for deterministic tests of
// loop-confined components.
package looptest

import (
	"sync"
	"time"
)

// Manual implements Post, After and Every without real time. Tests drive it
// with RunPending, FireTimers and Tick. Post is safe from any goroutine so
// async continuations can be awaited with Await.
type Manual struct {
	mu      sync.Mutex
	queue   []func()
	timers  []*entry
	tickers []*entry
	signal  chan struct{}
}

type entry struct {
	d         time.Duration
	fn        func()
	cancelled bool
}

// New returns an idle manual loop.
func New() *Manual {
	return &Manual{signal: make(chan struct{}, 1)}
}

// Post queues fn.
func (m *Manual) Post(fn func()) bool {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

// After registers a one-shot timer fired by FireTimers.
func (m *Manual) After(d time.Duration, fn func()) func() {
	e := &entry{d: d, fn: fn}
	m.mu.Lock()
	m.timers = append(m.timers, e)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		e.cancelled = true
		m.mu.Unlock()
	}
}

// Every registers a periodic task fired by Tick.
func (m *Manual) Every(d time.Duration, fn func()) func() {
	e := &entry{d: d, fn: fn}
	m.mu.Lock()
	m.tickers = append(m.tickers, e)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		e.cancelled = true
		m.mu.Unlock()
	}
}

// RunPending runs queued tasks until the queue is empty.
func (m *Manual) RunPending() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
		n++
	}
}

// Await blocks until at least one task is queued or timeout elapses, then
// runs everything queued. Returns the number of tasks run.
func (m *Manual) Await(timeout time.Duration) int {
	deadline := time.After(timeout)
	for {
		if n := m.RunPending(); n > 0 {
			return n
		}
		select {
		case <-m.signal:
		case <-deadline:
			return 0
		}
	}
}

// FireTimers fires every live one-shot timer registered so far, then runs
// pending tasks. Timers registered while firing wait for the next call.
func (m *Manual) FireTimers() int {
	m.mu.Lock()
	timers := m.timers
	m.timers = nil
	m.mu.Unlock()

	fired := 0
	for _, e := range timers {
		m.mu.Lock()
		live := !e.cancelled
		e.cancelled = true
		m.mu.Unlock()
		if live {
			e.fn()
			fired++
		}
	}
	m.RunPending()
	return fired
}

// PendingTimers counts live one-shot timers.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.timers {
		if !e.cancelled {
			n++
		}
	}
	return n
}

// Tick runs every live periodic task once, then runs pending tasks.
func (m *Manual) Tick() int {
	m.mu.Lock()
	tickers := append([]*entry(nil), m.tickers...)
	m.mu.Unlock()

	ran := 0
	for _, e := range tickers {
		m.mu.Lock()
		live := !e.cancelled
		m.mu.Unlock()
		if live {
			e.fn()
			ran++
		}
	}
	m.RunPending()
	return ran
}

// ActiveTickers counts live periodic tasks.
func (m *Manual) ActiveTickers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.tickers {
		if !e.cancelled {
			n++
		}
	}
	return n
}
