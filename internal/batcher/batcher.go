// Package batcher coalesces bursts of seat updates into one commit per frame
// and tracks which seats were newly occupied by the latest commit.
package batcher

import (
	"sort"
	"time"

	"seatboard/internal/schedule"
	"seatboard/pkg/types"
)

// DefaultAnimationDuration is how long a newly seated set stays exposed.
const DefaultAnimationDuration = time.Second

// Store is the committed seat state a Batcher writes into.
type Store interface {
	Capacity() int
	Occupant(seat int) types.Occupant
	Place(seat int, occ types.Occupant) bool
}

// Result describes one flush.
type Result struct {
	Committed []int // every seat written, ascending
	Animated  []int // seats classified newly seated, ascending; nil if none
}

// Hooks are invoked from scheduled callbacks only. A direct Flush call
// returns its Result instead.
type Hooks struct {
	Flushed          func(Result)
	AnimationCleared func()
}

// Batcher holds pending seat writes for one class.
// FUNCTIONAL DISCOVERY: classification compares each pending entry against
// the committed value at that seat, never against other entries in the
// same batch, so last-write-wins inside a burst cannot hide a new arrival.
type Batcher struct {
	store     Store
	scheduler schedule.Scheduler
	duration  time.Duration
	hooks     Hooks

	pending    map[int]types.Occupant
	flushTimer schedule.Timer

	animated   []int
	generation uint64
	clearTimer schedule.Timer
}

// New creates a Batcher writing into store. A non-positive duration falls
// back to DefaultAnimationDuration.
func New(store Store, scheduler schedule.Scheduler, duration time.Duration, hooks Hooks) *Batcher {
	if duration <= 0 {
		duration = DefaultAnimationDuration
	}
	return &Batcher{
		store:     store,
		scheduler: scheduler,
		duration:  duration,
		hooks:     hooks,
		pending:   make(map[int]types.Occupant),
	}
}

// Enqueue records occ as the latest value for seat and schedules a flush if
// none is outstanding. Out of range seats are ignored.
func (b *Batcher) Enqueue(seat int, occ types.Occupant) bool {
	if seat < 1 || seat > b.store.Capacity() {
		return false
	}
	b.pending[seat] = occ
	if b.flushTimer == nil {
		b.flushTimer = b.scheduler.NextFrame(b.scheduledFlush)
	}
	return true
}

// Scheduled reports whether a flush is outstanding.
func (b *Batcher) Scheduled() bool {
	return b.flushTimer != nil
}

func (b *Batcher) scheduledFlush() {
	// The timer has fired; clear it before Flush so a re-entrant Enqueue
	// from a hook schedules a fresh one.
	b.flushTimer = nil
	result := b.Flush()
	if len(result.Committed) > 0 && b.hooks.Flushed != nil {
		b.hooks.Flushed(result)
	}
}

// Flush commits every pending entry. Flushing an empty queue is a no-op.
func (b *Batcher) Flush() Result {
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	if len(b.pending) == 0 {
		return Result{}
	}

	seats := b.pendingSeats()
	var result Result
	for _, seat := range seats {
		occ := b.pending[seat]
		prev := b.store.Occupant(seat)
		if !occ.IsEmpty() && (prev.IsEmpty() || !prev.SameIdentity(occ)) {
			result.Animated = append(result.Animated, seat)
		}
		if b.store.Place(seat, occ) {
			result.Committed = append(result.Committed, seat)
		}
	}
	b.pending = make(map[int]types.Occupant)

	if len(result.Animated) > 0 {
		b.animate(result.Animated)
	}
	return result
}

// animate replaces the exposed set and restarts the clear timer. The clear
// callback only acts on the generation it was armed for.
func (b *Batcher) animate(seats []int) {
	b.animated = append([]int(nil), seats...)
	b.generation++
	if b.clearTimer != nil {
		b.clearTimer.Stop()
	}
	armed := b.generation
	b.clearTimer = b.scheduler.After(b.duration, func() {
		if b.generation != armed {
			return
		}
		b.clearTimer = nil
		b.animated = nil
		if b.hooks.AnimationCleared != nil {
			b.hooks.AnimationCleared()
		}
	})
}

// Animation returns the currently exposed newly seated set.
func (b *Batcher) Animation() []int {
	return append([]int(nil), b.animated...)
}

// IsAnimated reports whether seat is in the exposed set.
func (b *Batcher) IsAnimated(seat int) bool {
	for _, s := range b.animated {
		if s == seat {
			return true
		}
	}
	return false
}

// Cancel drops pending entries, the outstanding flush and the exposed
// animation set together with its clear timer.
func (b *Batcher) Cancel() {
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}
	if b.clearTimer != nil {
		b.clearTimer.Stop()
		b.clearTimer = nil
	}
	b.pending = make(map[int]types.Occupant)
	b.animated = nil
	b.generation++
}

// Capacity and Occupant expose committed state overlaid with pending
// entries, so seat resolution sees seats already promised in this burst.
func (b *Batcher) Capacity() int { return b.store.Capacity() }

func (b *Batcher) Occupant(seat int) types.Occupant {
	if occ, ok := b.pending[seat]; ok {
		return occ
	}
	return b.store.Occupant(seat)
}

// Pending returns the number of queued seats.
func (b *Batcher) Pending() int {
	return len(b.pending)
}

// PendingOccupant returns the queued value for seat.
func (b *Batcher) PendingOccupant(seat int) (types.Occupant, bool) {
	occ, ok := b.pending[seat]
	return occ, ok
}

// FindPending returns the queued seat of an enrolled id.
func (b *Batcher) FindPending(id int64) (int, types.Occupant, bool) {
	for _, seat := range b.pendingSeats() {
		occ := b.pending[seat]
		if oid, ok := occ.ID(); ok && oid == id {
			return seat, occ, true
		}
	}
	return 0, types.Empty(), false
}

// Drop removes the queued value for seat.
func (b *Batcher) Drop(seat int) bool {
	if _, ok := b.pending[seat]; !ok {
		return false
	}
	delete(b.pending, seat)
	return true
}

// DropOccupant removes every queued entry for an enrolled id.
func (b *Batcher) DropOccupant(id int64) []int {
	var dropped []int
	for _, seat := range b.pendingSeats() {
		if oid, ok := b.pending[seat].ID(); ok && oid == id {
			delete(b.pending, seat)
			dropped = append(dropped, seat)
		}
	}
	return dropped
}

// Rewrite replaces queued values in place. fn returning false leaves the
// entry unchanged.
func (b *Batcher) Rewrite(fn func(seat int, occ types.Occupant) (types.Occupant, bool)) {
	for _, seat := range b.pendingSeats() {
		if next, ok := fn(seat, b.pending[seat]); ok {
			b.pending[seat] = next
		}
	}
}

func (b *Batcher) pendingSeats() []int {
	seats := make([]int, 0, len(b.pending))
	for seat := range b.pending {
		seats = append(seats, seat)
	}
	sort.Ints(seats)
	return seats
}
