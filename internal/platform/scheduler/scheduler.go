// Package scheduler abstracts periodic background work behind a small
// interface so services can swap the real ticker for a manual clock in tests.
package scheduler

import (
	"sync"
	"time"
)

// CancelFunc stops a scheduled task. Calling it more than once is safe.
type CancelFunc func()

// Scheduler runs a function repeatedly at a fixed interval until cancelled.
type Scheduler interface {
	ScheduleEvery(interval time.Duration, fn func()) CancelFunc
}

// Ticker is the production Scheduler backed by time.Ticker goroutines.
type Ticker struct{}

// NewTicker creates a ticker-backed scheduler.
func NewTicker() *Ticker {
	return &Ticker{}
}

// ScheduleEvery runs fn every interval until the returned CancelFunc is called.
func (t *Ticker) ScheduleEvery(interval time.Duration, fn func()) CancelFunc {
	if interval <= 0 || fn == nil {
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

// Manual is a test scheduler that fires tasks only when Tick is called.
type Manual struct {
	mu    sync.Mutex
	tasks map[int]func()
	next  int
}

// NewManual creates a manually driven scheduler for tests.
func NewManual() *Manual {
	return &Manual{tasks: make(map[int]func())}
}

// ScheduleEvery registers fn; the interval is ignored.
func (m *Manual) ScheduleEvery(interval time.Duration, fn func()) CancelFunc {
	if fn == nil {
		return func() {}
	}
	m.mu.Lock()
	key := m.next
	m.next++
	m.tasks[key] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.tasks, key)
			m.mu.Unlock()
		})
	}
}

// Tick fires every registered task once, synchronously.
func (m *Manual) Tick() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.tasks))
	for _, fn := range m.tasks {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
