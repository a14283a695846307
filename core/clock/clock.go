// Package clock abstracts wall-clock time and one-shot timers so components
// that coalesce or expire on intervals can be tested against a manual clock
// instead of real timers.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a cancellable one-shot timer handle.
type Timer interface {
	// Stop cancels the timer. It returns false if the timer already fired
	// or was already stopped.
	Stop() bool
}

// Clock provides the current time and scheduled callbacks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc schedules fn to run after d elapses and returns a handle
	// that can cancel the callback before it fires.
	AfterFunc(d time.Duration, fn func()) Timer
}

// =============================================================================
// Real clock
// =============================================================================

type realClock struct{}

type realTimer struct {
	t *time.Timer
}

func (rt *realTimer) Stop() bool { return rt.t.Stop() }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return &realTimer{t: time.AfterFunc(d, fn)}
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

// =============================================================================
// Manual clock
// =============================================================================

// Manual is a deterministic Clock driven by explicit Advance calls. Scheduled
// callbacks fire synchronously, in deadline order, from within Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers []*manualTimer
}

type manualTimer struct {
	clk      *Manual
	id       int
	deadline time.Time
	fn       func()
	stopped  bool
}

func (mt *manualTimer) Stop() bool {
	mt.clk.mu.Lock()
	defer mt.clk.mu.Unlock()
	if mt.stopped {
		return false
	}
	mt.stopped = true
	return true
}

// NewManual returns a Manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the manual clock's current time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc registers fn to fire once the clock has been advanced past d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	mt := &manualTimer{
		clk:      m,
		id:       m.nextID,
		deadline: m.now.Add(d),
		fn:       fn,
	}
	m.timers = append(m.timers, mt)
	return mt
}

// Advance moves the clock forward by d, firing every due timer in deadline
// order. Callbacks run without the clock's lock held, so a callback may
// schedule further timers.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	due := m.takeDue()
	m.mu.Unlock()

	for _, mt := range due {
		mt.fn()
	}
}

// takeDue removes and returns unexpired-but-due timers. Caller holds mu.
func (m *Manual) takeDue() []*manualTimer {
	var due []*manualTimer
	var remaining []*manualTimer
	for _, mt := range m.timers {
		if mt.stopped {
			continue
		}
		if !mt.deadline.After(m.now) {
			mt.stopped = true
			due = append(due, mt)
		} else {
			remaining = append(remaining, mt)
		}
	}
	m.timers = remaining
	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].id < due[j].id
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	return due
}
