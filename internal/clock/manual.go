package clock

import (
	"sync"
	"time"
)

// Manual is a Clock whose time only moves when Advance is called. Tests use
// it to cross the submission cooldown boundary without sleeping.
type Manual struct {
	mu      sync.Mutex
	current time.Time
	waiters []waiter
}

type waiter struct {
	due time.Time
	ch  chan time.Time
}

// NewManual returns a Manual clock positioned at start, normalized to UTC.
func NewManual(start time.Time) *Manual {
	return &Manual{current: start.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// After returns a channel that receives once Advance has moved the clock at
// least d past the current position. Non-positive durations fire immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if d <= 0 {
		ch <- m.current
		return ch
	}
	m.waiters = append(m.waiters, waiter{due: m.current.Add(d), ch: ch})
	return ch
}

// Sleep blocks until the clock has been advanced by at least d. Only call it
// from a goroutine other than the one driving Advance.
func (m *Manual) Sleep(d time.Duration) {
	<-m.After(d)
}

// Advance moves the clock forward by d, delivers every timer that came due,
// and returns the new current time. Negative durations are treated as zero.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
	kept := m.waiters[:0]
	for _, w := range m.waiters {
		if w.due.After(m.current) {
			kept = append(kept, w)
			continue
		}
		w.ch <- m.current
	}
	m.waiters = kept
	return m.current
}

// Pending reports how many timers have not yet fired.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
