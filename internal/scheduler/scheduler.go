// Package scheduler serializes all viewport work onto one loop with three
// priorities: per-frame callbacks, idle (background) tasks and delayed
// timers. Work from other goroutines enters through Post.
package scheduler

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultIdleBudget bounds how long idle tasks may run after a frame
const DefaultIdleBudget = 4 * time.Millisecond

// Task is a scheduled callback that can be cancelled before it runs
type Task interface {
	Cancel()
}

// Scheduler is the cooperative loop the map runs on
type Scheduler interface {
	Now() time.Time

	// RequestFrame runs fn once on the next frame
	RequestFrame(fn func(now time.Time)) Task

	// Idle runs fn after frame work, at low priority
	Idle(fn func()) Task

	// After runs fn on the first frame at or after now+d
	After(d time.Duration, fn func()) Task

	// Post queues fn to run on the loop. Safe from any goroutine.
	Post(fn func())
}

type task struct {
	cancelled atomic.Bool
	seq       uint64
	due       time.Time
	frame     func(time.Time)
	fn        func()
}

func (t *task) Cancel() {
	t.cancelled.Store(true)
}

// Loop is a Scheduler driven by its host calling RunFrame once per display
// frame.
type Loop struct {
	clock      func() time.Time
	IdleBudget time.Duration

	mu     sync.Mutex
	seq    uint64
	frames []*task
	idle   []*task
	timers []*task
	posted []func()
}

// NewLoop creates a loop on the wall clock
func NewLoop() *Loop {
	return newLoop(time.Now)
}

func newLoop(clock func() time.Time) *Loop {
	return &Loop{
		clock:      clock,
		IdleBudget: DefaultIdleBudget,
	}
}

// Now returns the loop clock
func (l *Loop) Now() time.Time {
	return l.clock()
}

// RequestFrame implements Scheduler
func (l *Loop) RequestFrame(fn func(now time.Time)) Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &task{seq: l.nextSeq(), frame: fn}
	l.frames = append(l.frames, t)
	return t
}

// Idle implements Scheduler
func (l *Loop) Idle(fn func()) Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := &task{seq: l.nextSeq(), fn: fn}
	l.idle = append(l.idle, t)
	return t
}

// After implements Scheduler
func (l *Loop) After(d time.Duration, fn func()) Task {
	due := l.clock().Add(d)

	l.mu.Lock()
	defer l.mu.Unlock()

	t := &task{seq: l.nextSeq(), due: due, fn: fn}
	i := sort.Search(len(l.timers), func(i int) bool {
		return l.timers[i].due.After(due)
	})
	l.timers = append(l.timers, nil)
	copy(l.timers[i+1:], l.timers[i:])
	l.timers[i] = t
	return t
}

// Post implements Scheduler
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.posted = append(l.posted, fn)
	l.mu.Unlock()
}

// Pending reports whether any work is queued
func (l *Loop) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.frames)+len(l.idle)+len(l.timers)+len(l.posted) > 0
}

// RunFrame runs, in order: posted tasks, due timers, the frame callbacks
// requested before this frame, then idle tasks until the idle budget is
// spent. Work queued while running waits for the next frame.
func (l *Loop) RunFrame() {
	now := l.clock()

	l.Flush()
	l.runTimers(now)
	l.runFrames(now)
	l.runIdle(now)
}

// Flush runs every posted task
func (l *Loop) Flush() {
	l.mu.Lock()
	posted := l.posted
	l.posted = nil
	l.mu.Unlock()

	for _, fn := range posted {
		fn()
	}
}

func (l *Loop) runTimers(now time.Time) {
	l.mu.Lock()
	n := 0
	for n < len(l.timers) && !l.timers[n].due.After(now) {
		n++
	}
	due := make([]*task, n)
	copy(due, l.timers[:n])
	l.timers = l.timers[n:]
	l.mu.Unlock()

	for _, t := range due {
		if !t.cancelled.Load() {
			t.fn()
		}
	}
}

func (l *Loop) runFrames(now time.Time) {
	l.mu.Lock()
	frames := l.frames
	l.frames = nil
	l.mu.Unlock()

	for _, t := range frames {
		if !t.cancelled.Load() {
			t.frame(now)
		}
	}
}

func (l *Loop) runIdle(start time.Time) {
	l.mu.Lock()
	idle := l.idle
	l.idle = nil
	l.mu.Unlock()

	for i, t := range idle {
		if i > 0 && l.clock().Sub(start) > l.IdleBudget {
			l.mu.Lock()
			l.idle = append(idle[i:len(idle):len(idle)], l.idle...)
			l.mu.Unlock()
			return
		}
		if !t.cancelled.Load() {
			t.fn()
		}
	}
}

func (l *Loop) nextSeq() uint64 {
	l.seq++
	return l.seq
}
