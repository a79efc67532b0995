// Package clock provides time abstraction for testing and production use.
// Components that poll, debounce or expire state take a Clock so tests can
// drive them with a MockClock instead of sleeping.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Singapore is the wall-clock zone arrival times are displayed in.
var Singapore = loadSingapore()

func loadSingapore() *time.Location {
	if loc, err := time.LoadLocation("Asia/Singapore"); err == nil {
		return loc
	}
	return time.FixedZone("SGT", 8*60*60)
}

// Clock provides an abstraction for time operations.
// Use RealClock in production and MockClock in tests.
type Clock interface {
	// Now returns the current time
	Now() time.Time
	// NowUnixMilli returns the current time as Unix milliseconds
	NowUnixMilli() int64
	// AfterFunc calls f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
	// NewTicker delivers ticks every d until stopped.
	NewTicker(d time.Duration) Ticker
}

// Timer is the stoppable handle returned by AfterFunc.
type Timer interface {
	Stop() bool
}

// Ticker is the handle returned by NewTicker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock implements Clock using actual system time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (RealClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// MockClock implements Clock and provides a controllable, thread-safe time for tests.
// Timers and tickers fire synchronously from Advance and Set, in deadline order.
type MockClock struct {
	mu          sync.Mutex
	currentTime time.Time
	waiters     []*mockWaiter
	seq         int
}

type mockWaiter struct {
	clock   *MockClock
	when    time.Time
	seq     int
	fn      func()
	ch      chan time.Time
	period  time.Duration
	stopped bool
}

// NewMockClock creates a new MockClock set to the specified time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{currentTime: t}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *MockClock) NowUnixMilli() int64 {
	return m.Now().UnixMilli()
}

func (m *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &mockWaiter{clock: m, when: m.currentTime.Add(d), fn: f}
	m.addLocked(w)
	return mockTimer{w}
}

func (m *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w := &mockWaiter{clock: m, when: m.currentTime.Add(d), period: d, ch: make(chan time.Time, 1)}
	m.addLocked(w)
	return mockTicker{w}
}

func (m *MockClock) addLocked(w *mockWaiter) {
	m.seq++
	w.seq = m.seq
	m.waiters = append(m.waiters, w)
}

// Set changes the mock clock's current time, firing anything that came due.
func (m *MockClock) Set(t time.Time) {
	m.advanceTo(t)
}

// Advance moves the mock clock by the specified duration.
// Negative durations move the clock back without firing anything.
func (m *MockClock) Advance(d time.Duration) {
	m.advanceTo(m.Now().Add(d))
}

// PendingTimers reports how many timers and tickers are still armed.
func (m *MockClock) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, w := range m.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

func (m *MockClock) advanceTo(target time.Time) {
	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.currentTime = target
			m.mu.Unlock()
			return
		}
		if next.when.After(m.currentTime) {
			m.currentTime = next.when
		}
		fireAt := m.currentTime
		fn := next.fn
		if next.period > 0 {
			next.when = next.when.Add(next.period)
		} else {
			next.stopped = true
			m.removeLocked(next)
		}
		ch := next.ch
		m.mu.Unlock()

		if ch != nil {
			select {
			case ch <- fireAt:
			default:
			}
		}
		if fn != nil {
			fn()
		}
	}
}

func (m *MockClock) nextDueLocked(target time.Time) *mockWaiter {
	due := make([]*mockWaiter, 0, len(m.waiters))
	for _, w := range m.waiters {
		if !w.stopped && !w.when.After(target) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].seq < due[j].seq
		}
		return due[i].when.Before(due[j].when)
	})
	return due[0]
}

func (m *MockClock) removeLocked(w *mockWaiter) {
	for i, other := range m.waiters {
		if other == w {
			m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
			return
		}
	}
}

type mockTimer struct{ w *mockWaiter }

func (t mockTimer) Stop() bool { return t.w.stop() }

type mockTicker struct{ w *mockWaiter }

func (t mockTicker) C() <-chan time.Time { return t.w.ch }
func (t mockTicker) Stop()               { t.w.stop() }

func (w *mockWaiter) stop() bool {
	w.clock.mu.Lock()
	defer w.clock.mu.Unlock()
	if w.stopped {
		return false
	}
	w.stopped = true
	w.clock.removeLocked(w)
	return true
}
