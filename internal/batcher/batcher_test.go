package batcher

import (
	"reflect"
	"testing"
	"time"

	"seatboard/internal/schedule"
	"seatboard/internal/seatmap"
	"seatboard/pkg/types"
)

type mapStore struct {
	*seatmap.SeatMap
	places int
}

func (s *mapStore) Place(seat int, occ types.Occupant) bool {
	s.places++
	return s.Set(seat, occ)
}

type recorder struct {
	flushes []Result
	cleared int
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Flushed:          func(res Result) { r.flushes = append(r.flushes, res) },
		AnimationCleared: func() { r.cleared++ },
	}
}

func newTestBatcher(capacity int) (*Batcher, *mapStore, *schedule.Manual, *recorder) {
	store := &mapStore{SeatMap: seatmap.New("C1", capacity)}
	sched := schedule.NewManual()
	rec := &recorder{}
	return New(store, sched, time.Second, rec.hooks()), store, sched, rec
}

func TestBatcher_EnqueueCoalesces(t *testing.T) {
	b, store, sched, rec := newTestBatcher(5)

	b.Enqueue(1, types.Enrolled(1, "John", 0))
	b.Enqueue(2, types.Enrolled(2, "Jane", 0))
	b.Enqueue(3, types.Guest("Guest"))

	if !b.Scheduled() || sched.Pending() != 1 {
		t.Fatalf("Expected exactly one scheduled flush, got %d", sched.Pending())
	}
	if store.AvailableSlots() != 5 {
		t.Error("Nothing should be committed before the flush")
	}

	sched.RunFrames()

	if len(rec.flushes) != 1 {
		t.Fatalf("Expected one flush, got %d", len(rec.flushes))
	}
	if want := []int{1, 2, 3}; !reflect.DeepEqual(rec.flushes[0].Animated, want) {
		t.Errorf("Animated = %v, want %v", rec.flushes[0].Animated, want)
	}
	if store.AvailableSlots() != 2 {
		t.Errorf("Expected 2 available after commit, got %d", store.AvailableSlots())
	}
	if b.Scheduled() || b.Pending() != 0 {
		t.Error("Flush should clear pending state and the scheduled flag")
	}
}

func TestBatcher_LastWriteWins(t *testing.T) {
	b, store, sched, _ := newTestBatcher(3)
	b.Enqueue(1, types.Enrolled(1, "John", 0))
	b.Enqueue(1, types.Enrolled(2, "Jane", 0))
	sched.RunFrames()

	if got := store.Get(1).Occupant.Name(); got != "Jane" {
		t.Errorf("Expected last write to win, got %q", got)
	}
	if store.places != 1 {
		t.Errorf("Expected a single commit for seat 1, got %d", store.places)
	}
}

func TestBatcher_SameOccupantIsRefresh(t *testing.T) {
	b, store, sched, rec := newTestBatcher(5)
	b.Enqueue(1, types.Enrolled(1, "John", 0))
	b.Enqueue(2, types.Enrolled(2, "Jane", 0))
	b.Enqueue(3, types.Guest("Guest"))
	sched.RunFrames()

	// Same occupant at seat 1 with a new score, plus a new arrival at seat 4
	b.Enqueue(1, types.Enrolled(1, "John", 7))
	b.Enqueue(4, types.Enrolled(4, "Sam", 0))
	sched.RunFrames()

	last := rec.flushes[len(rec.flushes)-1]
	if want := []int{4}; !reflect.DeepEqual(last.Animated, want) {
		t.Errorf("Animated = %v, want %v", last.Animated, want)
	}
	if store.Get(1).Occupant.Score() != 7 {
		t.Error("Refresh should still commit the new data")
	}
	if !reflect.DeepEqual(b.Animation(), []int{4}) {
		t.Errorf("Later flush should replace the exposed set, got %v", b.Animation())
	}
}

func TestBatcher_SilentRefreshKeepsAnimation(t *testing.T) {
	b, _, sched, rec := newTestBatcher(3)
	b.Enqueue(1, types.Enrolled(1, "John", 0))
	sched.RunFrames()

	b.Enqueue(1, types.Enrolled(1, "John", 5))
	sched.RunFrames()

	if rec.flushes[1].Animated != nil {
		t.Errorf("Refresh-only flush should not animate, got %v", rec.flushes[1].Animated)
	}
	if !b.IsAnimated(1) {
		t.Error("Refresh-only flush must not touch the exposed set")
	}
}

func TestBatcher_DifferentGuestNameAnimates(t *testing.T) {
	b, _, sched, rec := newTestBatcher(2)
	b.Enqueue(1, types.Guest("Ann"))
	sched.RunFrames()
	b.Enqueue(1, types.Guest("Bob"))
	sched.RunFrames()

	if !reflect.DeepEqual(rec.flushes[1].Animated, []int{1}) {
		t.Errorf("A different guest in the seat should animate, got %v", rec.flushes[1].Animated)
	}
}

func TestBatcher_AnimationClears(t *testing.T) {
	b, _, sched, rec := newTestBatcher(3)
	b.Enqueue(1, types.Guest("Guest"))
	sched.RunFrames()

	sched.Advance(999 * time.Millisecond)
	if !b.IsAnimated(1) {
		t.Fatal("Animation should still be exposed before the duration elapses")
	}
	sched.Advance(time.Millisecond)
	if len(b.Animation()) != 0 || rec.cleared != 1 {
		t.Errorf("Animation should clear after 1s, set=%v cleared=%d", b.Animation(), rec.cleared)
	}
}

func TestBatcher_StaleClearDoesNotWipeNewerSet(t *testing.T) {
	b, _, sched, rec := newTestBatcher(3)
	b.Enqueue(1, types.Guest("Guest"))
	sched.RunFrames()

	sched.Advance(600 * time.Millisecond)
	b.Enqueue(2, types.Guest("Guest"))
	sched.RunFrames()

	// First timer would have fired at 1s
	sched.Advance(500 * time.Millisecond)
	if !reflect.DeepEqual(b.Animation(), []int{2}) {
		t.Fatalf("Newer set must survive the stale timer, got %v", b.Animation())
	}
	if rec.cleared != 0 {
		t.Error("Stale timer must not report a clear")
	}

	sched.Advance(500 * time.Millisecond)
	if len(b.Animation()) != 0 || rec.cleared != 1 {
		t.Error("Newer set should clear on its own timer")
	}
}

func TestBatcher_FlushEmptyIsNoop(t *testing.T) {
	b, store, _, _ := newTestBatcher(3)
	res := b.Flush()
	if res.Committed != nil || res.Animated != nil || store.places != 0 {
		t.Error("Flushing an empty queue should do nothing")
	}
}

func TestBatcher_DirectFlushStopsScheduled(t *testing.T) {
	b, _, sched, rec := newTestBatcher(3)
	b.Enqueue(2, types.Guest("Guest"))

	res := b.Flush()
	if !reflect.DeepEqual(res.Committed, []int{2}) {
		t.Errorf("Committed = %v", res.Committed)
	}
	sched.RunFrames()
	if len(rec.flushes) != 0 {
		t.Error("Scheduled flush should be cancelled by a direct Flush")
	}
}

func TestBatcher_Cancel(t *testing.T) {
	b, store, sched, rec := newTestBatcher(3)
	b.Enqueue(1, types.Guest("Guest"))
	sched.RunFrames()
	b.Enqueue(2, types.Guest("Guest"))

	b.Cancel()
	sched.RunFrames()
	sched.Advance(2 * time.Second)

	if !store.Get(2).Occupant.IsEmpty() {
		t.Error("Cancelled entry must not be committed")
	}
	if len(b.Animation()) != 0 || rec.cleared != 0 {
		t.Error("Cancel should drop the animation set without a clear notification")
	}
	if len(rec.flushes) != 1 {
		t.Errorf("Expected only the pre-cancel flush, got %d", len(rec.flushes))
	}
}

func TestBatcher_OverlayView(t *testing.T) {
	b, store, _, _ := newTestBatcher(3)
	store.Set(1, types.Guest("Guest"))
	b.Enqueue(2, types.Enrolled(9, "Ann", 0))

	if b.Occupant(1).IsEmpty() || b.Occupant(2).IsEmpty() || !b.Occupant(3).IsEmpty() {
		t.Error("Overlay should merge pending entries over committed state")
	}
	if b.Capacity() != 3 {
		t.Errorf("Capacity = %d", b.Capacity())
	}
}

func TestBatcher_EnqueueOutOfRange(t *testing.T) {
	b, _, sched, _ := newTestBatcher(2)
	if b.Enqueue(0, types.Guest("Guest")) || b.Enqueue(3, types.Guest("Guest")) {
		t.Error("Out of range seats must be rejected")
	}
	if sched.Pending() != 0 {
		t.Error("Rejected enqueue must not schedule a flush")
	}
}

func TestBatcher_DropOccupantAndRewrite(t *testing.T) {
	b, _, _, _ := newTestBatcher(4)
	b.Enqueue(1, types.Enrolled(1, "John", 3))
	b.Enqueue(2, types.Enrolled(2, "Jane", 4))

	if seat, occ, ok := b.FindPending(2); !ok || seat != 2 || occ.Score() != 4 {
		t.Errorf("FindPending(2) = %d, %v", seat, ok)
	}

	b.Rewrite(func(_ int, occ types.Occupant) (types.Occupant, bool) {
		return occ.WithScore(0), occ.IsEnrolled()
	})
	if occ, _ := b.PendingOccupant(1); occ.Score() != 0 {
		t.Error("Rewrite should update queued values")
	}

	if dropped := b.DropOccupant(1); !reflect.DeepEqual(dropped, []int{1}) {
		t.Errorf("DropOccupant = %v", dropped)
	}
	if b.Pending() != 1 {
		t.Errorf("Expected 1 pending entry, got %d", b.Pending())
	}
	if !b.Drop(2) || b.Drop(2) {
		t.Error("Drop should report whether an entry was removed")
	}
}
