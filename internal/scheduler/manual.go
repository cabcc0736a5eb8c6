package scheduler

import (
	"sync"
	"time"
)

// DefaultFrameInterval is the virtual frame length used by Manual
const DefaultFrameInterval = 16 * time.Millisecond

// Manual is a Loop on a virtual clock. Time only moves when Step,
// Advance or Sleep are called, which makes animations and timeouts
// reproducible in tests.
type Manual struct {
	*Loop

	Interval time.Duration

	mu  sync.Mutex
	now time.Time
}

// NewManual creates a virtual loop starting at start
func NewManual(start time.Time) *Manual {
	m := &Manual{Interval: DefaultFrameInterval, now: start}
	m.Loop = newLoop(m.clock)
	return m
}

func (m *Manual) clock() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Sleep moves the clock forward without running anything
func (m *Manual) Sleep(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Step advances one frame interval and runs the frame
func (m *Manual) Step() time.Time {
	m.Sleep(m.Interval)
	m.RunFrame()
	return m.Now()
}

// Advance steps frames until d has elapsed
func (m *Manual) Advance(d time.Duration) {
	end := m.Now().Add(d)
	for m.Now().Before(end) {
		m.Step()
	}
}

// RunIdle runs every queued idle task, including ones queued by them
func (m *Manual) RunIdle() {
	for {
		m.Loop.mu.Lock()
		idle := m.Loop.idle
		m.Loop.idle = nil
		m.Loop.mu.Unlock()

		if len(idle) == 0 {
			return
		}
		for _, t := range idle {
			if !t.cancelled.Load() {
				t.fn()
			}
		}
	}
}
