// Package schedule provides the deferred-callback primitive the batcher
// uses for frame flushes and animation expiry.
package schedule

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Timer is a cancellable scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. Reports false if it already ran
	// or was already stopped.
	Stop() bool
}

// Scheduler runs callbacks later on the caller's execution context.
type Scheduler interface {
	// NextFrame runs fn on the next frame boundary.
	NextFrame(fn func()) Timer
	// After runs fn once d has elapsed.
	After(d time.Duration, fn func()) Timer
}

// DefaultFrame approximates one display refresh.
const DefaultFrame = 16 * time.Millisecond

// Loop is a wall-clock Scheduler. Callbacks fire on timer goroutines and are
// handed to post, which must run them on the owning goroutine.
type Loop struct {
	frame time.Duration
	post  func(func())
}

// NewLoop creates a Loop. A non-positive frame falls back to DefaultFrame.
func NewLoop(frame time.Duration, post func(func())) *Loop {
	if frame <= 0 {
		frame = DefaultFrame
	}
	return &Loop{frame: frame, post: post}
}

func (l *Loop) NextFrame(fn func()) Timer {
	return l.After(l.frame, fn)
}

func (l *Loop) After(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.post(func() {
			// Stop may race the post; the flag is checked on the owner goroutine
			if t.fired.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

type loopTimer struct {
	timer *time.Timer
	fired atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return t.fired.CompareAndSwap(false, true)
}

// Manual is a Scheduler driven explicitly by tests. Nothing runs until
// RunFrames or Advance is called.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	frames []*manualTimer
	timers []*manualTimer
}

// NewManual creates a Manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

type manualTimer struct {
	fn      func()
	due     time.Duration
	seq     int
	stopped atomic.Bool
}

func (t *manualTimer) Stop() bool {
	return t.stopped.CompareAndSwap(false, true)
}

func (m *Manual) NextFrame(fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{fn: fn, seq: m.next()}
	m.frames = append(m.frames, t)
	return t
}

func (m *Manual) After(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{fn: fn, due: m.now + d, seq: m.next()}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) next() int {
	m.seq++
	return m.seq
}

// RunFrames runs every frame callback queued before the call. Callbacks
// queued while running wait for the next RunFrames.
func (m *Manual) RunFrames() int {
	m.mu.Lock()
	due := m.frames
	m.frames = nil
	m.mu.Unlock()

	ran := 0
	for _, t := range due {
		if t.stopped.CompareAndSwap(false, true) {
			t.fn()
			ran++
		}
	}
	return ran
}

// Advance moves virtual time forward by d and runs timers that came due,
// in due-time order.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	m.now += d
	now := m.now
	var due, rest []*manualTimer
	for _, t := range m.timers {
		if t.due <= now {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	m.timers = rest
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].due != due[j].due {
			return due[i].due < due[j].due
		}
		return due[i].seq < due[j].seq
	})

	ran := 0
	for _, t := range due {
		if t.stopped.CompareAndSwap(false, true) {
			t.fn()
			ran++
		}
	}
	return ran
}

// Pending counts queued callbacks that have not been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range append(append([]*manualTimer{}, m.frames...), m.timers...) {
		if !t.stopped.Load() {
			n++
		}
	}
	return n
}

// Now returns the virtual clock.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}
