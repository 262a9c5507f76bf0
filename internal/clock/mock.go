package clock

import (
	"sort"
	"sync"
	"time"
)

// Mock is a manually advanced Clock for tests.
//
// Timers fire synchronously inside Add, in deadline order, on the calling
// goroutine. Callbacks may create new timers; those fire within the same Add
// call if they fall due before the target time.
type Mock struct {
	now    time.Time
	timers []*mockTimer
	mu     sync.Mutex
	seq    int64
}

type mockTimer struct {
	at    time.Time
	f     func()
	clock *Mock
	seq   int64
	done  bool
}

// NewMock creates a mock clock set to start.
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

// Now returns the mock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc schedules f to run once the mock has advanced by d.
func (m *Mock) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &mockTimer{at: m.now.Add(d), f: f, clock: m, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

// Add advances the clock by d and fires every timer that falls due.
func (m *Mock) Add(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		next.done = true
		m.now = next.at
		m.removeLocked(next)
		m.mu.Unlock()

		// Вызываем без блокировки: колбэк может создавать новые таймеры
		next.f()
	}
}

// Pending returns the number of timers that have not fired or been stopped.
func (m *Mock) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Mock) nextDueLocked(target time.Time) *mockTimer {
	if len(m.timers) == 0 {
		return nil
	}
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	if m.timers[0].at.After(target) {
		return nil
	}
	return m.timers[0]
}

func (m *Mock) removeLocked(t *mockTimer) {
	for i, cand := range m.timers {
		if cand == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return
		}
	}
}

func (t *mockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.done {
		return false
	}
	t.done = true
	t.clock.removeLocked(t)
	return true
}
