// Package timeutil lets frame timing and storage backoff run against a
// scripted clock in tests.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the subset of the time package used for per-frame timing and
// retry backoff.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	Sleep(d time.Duration)
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }
func (RealClock) Sleep(d time.Duration)           { time.Sleep(d) }

// MockClock only moves when told to. With a non-zero step each Now reading
// is step later than the previous one, which gives every tracked frame the
// same duration.
type MockClock struct {
	mu     sync.Mutex
	now    time.Time
	step   time.Duration
	sleeps []time.Duration
}

// NewMockClock returns a clock frozen at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

// SetStep sets how far the clock moves after each Now.
func (m *MockClock) SetStep(step time.Duration) {
	m.mu.Lock()
	m.step = step
	m.mu.Unlock()
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.now
	m.now = t.Add(m.step)
	return t
}

// Advance jumps the clock forward without recording a sleep.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *MockClock) Since(t time.Time) time.Duration { return m.Now().Sub(t) }

// Sleep returns at once; the duration is recorded and the clock jumps by it.
func (m *MockClock) Sleep(d time.Duration) {
	m.mu.Lock()
	m.sleeps = append(m.sleeps, d)
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Sleeps returns a copy of every duration passed to Sleep, in call order.
func (m *MockClock) Sleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.sleeps...)
}
