// Package engine reconciles snapshots, real-time occupant events and local
// instructor commands into per-class seat maps.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"seatboard/internal/assign"
	"seatboard/internal/batcher"
	"seatboard/internal/registry"
	"seatboard/internal/schedule"
	"seatboard/internal/seatmap"
	"seatboard/pkg/types"
)

// Config tunes engine behaviour.
type Config struct {
	// GuestName replaces every guest's display name. Empty keeps the name
	// carried by the event.
	GuestName         string
	ScoreMin          int
	ScoreMax          int
	AnimationDuration time.Duration
}

// DefaultConfig returns the dashboard defaults.
func DefaultConfig() Config {
	return Config{
		GuestName:         "Guest",
		ScoreMin:          0,
		ScoreMax:          100,
		AnimationDuration: batcher.DefaultAnimationDuration,
	}
}

type class struct {
	id          string
	initialized bool
	batch       *batcher.Batcher
}

// store adapts one registry class to the batcher's Store.
type store struct {
	reg     *registry.Registry
	classID string
}

func (s store) Capacity() int {
	if m, ok := s.reg.Map(s.classID); ok {
		return m.Capacity()
	}
	return 0
}

func (s store) Occupant(seat int) types.Occupant {
	if m, ok := s.reg.Map(s.classID); ok {
		return m.Occupant(seat)
	}
	return types.Empty()
}

func (s store) Place(seat int, occ types.Occupant) bool {
	return s.reg.Place(s.classID, seat, occ)
}

// Engine is the reconciliation core. It is a single-threaded state machine:
// every method, and every scheduler callback, must run on one goroutine.
// ARCHITECTURAL DISCOVERY: the engine never blocks and never returns errors
// for plausible-but-malformed input; such input degrades to a defined no-op.
type Engine struct {
	config    Config
	scheduler schedule.Scheduler
	logger    *zap.SugaredLogger

	registry *registry.Registry
	classes  map[string]*class

	// Last score known per enrolled id, kept across evictions and resets
	scores map[int64]int

	subscribers map[int]func(types.Notification)
	nextSub     int
}

// New creates an Engine. A nil logger is replaced with a no-op logger.
func New(config Config, scheduler schedule.Scheduler, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if config.ScoreMax < config.ScoreMin {
		config.ScoreMin, config.ScoreMax = config.ScoreMax, config.ScoreMin
	}
	return &Engine{
		config:      config,
		scheduler:   scheduler,
		logger:      logger,
		registry:    registry.New(),
		classes:     make(map[string]*class),
		scores:      make(map[int64]int),
		subscribers: make(map[int]func(types.Notification)),
	}
}

// Subscribe registers fn for every notification. The returned func removes it.
func (e *Engine) Subscribe(fn func(types.Notification)) func() {
	id := e.nextSub
	e.nextSub++
	e.subscribers[id] = fn
	return func() { delete(e.subscribers, id) }
}

func (e *Engine) notify(classID string, kind types.NotificationKind, seats []int) {
	if len(e.subscribers) == 0 {
		return
	}
	n := types.Notification{
		ID:        uuid.NewString(),
		ClassID:   classID,
		Kind:      kind,
		Seats:     seats,
		Animated:  e.AnimationSet(classID),
		Timestamp: time.Now(),
	}
	ids := make([]int, 0, len(e.subscribers))
	for id := range e.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		e.subscribers[id](n)
	}
}

// track returns the class state, creating an uninitialized zero-capacity
// class for ids first seen through an event.
func (e *Engine) track(classID string) *class {
	if c, ok := e.classes[classID]; ok {
		return c
	}
	e.registry.Track(classID, 0)
	c := &class{id: classID}
	c.batch = batcher.New(store{reg: e.registry, classID: classID}, e.scheduler, e.config.AnimationDuration, batcher.Hooks{
		Flushed: func(r batcher.Result) {
			e.logger.Debugw("Flushed seat updates", "class_id", classID, "committed", r.Committed, "animated", r.Animated)
			e.notify(classID, types.NotifyFlush, r.Committed)
		},
		AnimationCleared: func() {
			e.notify(classID, types.NotifyAnimationCleared, nil)
		},
	})
	e.classes[classID] = c
	return c
}

// Initialize prepares a class at capacity. An already initialized class is
// left untouched unless forceReset is set. Reports whether seats were reset.
func (e *Engine) Initialize(classID string, capacity int, forceReset bool) bool {
	if !e.initialize(classID, capacity, forceReset) {
		return false
	}
	kind := types.NotifyInitialized
	if forceReset {
		kind = types.NotifyReset
	}
	e.notify(classID, kind, nil)
	return true
}

func (e *Engine) initialize(classID string, capacity int, forceReset bool) bool {
	c := e.track(classID)
	if c.initialized && !forceReset {
		return false
	}
	c.batch.Cancel()
	e.rememberScores(classID)
	e.registry.Reset(classID, capacity)
	c.initialized = true
	e.logger.Debugw("Class initialized", "class_id", classID, "capacity", capacity, "force_reset", forceReset)
	return true
}

// rememberScores copies the scores of enrolled occupants in classID into
// the score memory before their seats are cleared.
func (e *Engine) rememberScores(classID string) {
	m, ok := e.registry.Map(classID)
	if !ok {
		return
	}
	for _, seat := range m.Seats() {
		if id, ok := seat.Occupant.ID(); ok {
			e.scores[id] = seat.Occupant.Score()
		}
	}
}

// ApplySnapshot initializes the class from a REST snapshot. Occupants are
// placed directly, without animation, and only when the class was
// (re)initialized by this call. Occupants without a valid empty seat
// number are skipped.
func (e *Engine) ApplySnapshot(snapshot types.Snapshot) bool {
	if !e.initialize(snapshot.ClassID, snapshot.TotalCapacity, false) {
		return false
	}
	m, _ := e.registry.Map(snapshot.ClassID)

	var placed []int
	for _, p := range snapshot.Occupants {
		if p.SeatNumber == nil {
			continue
		}
		seat := *p.SeatNumber
		if !m.InRange(seat) || !m.Occupant(seat).IsEmpty() {
			e.logger.Debugw("Snapshot occupant skipped", "class_id", snapshot.ClassID, "seat", seat, "name", p.Name)
			continue
		}

		occ := e.guestOccupant(p)
		if id, ok := p.EnrolledID(); ok {
			score := types.Clamp(p.Score, e.config.ScoreMin, e.config.ScoreMax)
			occ = types.Enrolled(id, p.Name, score)
			e.scores[id] = score
			e.evictElsewhere(id, snapshot.ClassID)
		}
		e.registry.Place(snapshot.ClassID, seat, occ)
		placed = append(placed, seat)
	}

	e.notify(snapshot.ClassID, types.NotifySnapshot, placed)
	return true
}

func (e *Engine) guestOccupant(p types.OccupantPayload) types.Occupant {
	if e.config.GuestName != "" {
		return types.Guest(e.config.GuestName)
	}
	return types.Guest(p.Name)
}

// OnOccupantEvent seats an arriving occupant. Enrolled occupants are evicted
// from every other class first; the seat is resolved against committed
// state overlaid with the pending batch and the write is queued for the
// next flush. Reports false when the event was dropped.
func (e *Engine) OnOccupantEvent(classID string, p types.OccupantPayload) bool {
	c := e.track(classID)
	preferred := p.PreferredSeat()

	id, enrolled := p.EnrolledID()
	if !enrolled {
		seat := assign.Resolve(c.batch, preferred)
		if seat == assign.None {
			e.logger.Debugw("No seat available, dropping guest", "class_id", classID, "capacity", c.batch.Capacity())
			return false
		}
		return c.batch.Enqueue(seat, e.guestOccupant(p))
	}

	score, known := e.scores[id]
	if !known {
		score = types.Clamp(p.Score, e.config.ScoreMin, e.config.ScoreMax)
	}
	occ := types.Enrolled(id, p.Name, score)

	e.evictElsewhere(id, classID)

	current, seated := e.seatInClass(c, id)
	var seat int
	switch {
	case seated && preferred != current && preferred >= 1 && preferred <= c.batch.Capacity() && c.batch.Occupant(preferred).IsEmpty():
		// Moving within the class to a free preferred seat. A committed old
		// seat is vacated through the batch so the flush reports it.
		c.batch.Drop(current)
		if loc, ok := e.registry.Locate(id); ok && loc.ClassID == classID && loc.Seat == current {
			c.batch.Enqueue(current, types.Empty())
		}
		seat = preferred
	case seated:
		seat = current
	default:
		seat = assign.Resolve(c.batch, preferred)
	}
	if seat == assign.None {
		e.logger.Debugw("No seat available, dropping occupant", "class_id", classID, "occupant_id", id, "capacity", c.batch.Capacity())
		return false
	}

	e.scores[id] = score
	return c.batch.Enqueue(seat, occ)
}

// seatInClass returns the latest seat of id in the class: a pending entry
// wins over the committed seat.
func (e *Engine) seatInClass(c *class, id int64) (int, bool) {
	if seat, _, ok := c.batch.FindPending(id); ok {
		return seat, true
	}
	if loc, ok := e.registry.Locate(id); ok && loc.ClassID == c.id {
		return loc.Seat, true
	}
	return 0, false
}

// evictElsewhere clears id from every class except targetClassID, both
// committed seats and pending batch entries.
func (e *Engine) evictElsewhere(id int64, targetClassID string) {
	for _, ev := range e.registry.EvictElsewhere(id, targetClassID) {
		e.evicted(ev)
	}
	for _, classID := range e.registry.Classes() {
		if classID == targetClassID {
			continue
		}
		if c, ok := e.classes[classID]; ok {
			c.batch.DropOccupant(id)
		}
	}
}

func (e *Engine) evicted(ev registry.Evicted) {
	if id, ok := ev.Occupant.ID(); ok {
		e.scores[id] = ev.Occupant.Score()
	}
	e.logger.Debugw("Occupant evicted", "class_id", ev.ClassID, "seat", ev.Seat, "name", ev.Occupant.Name())
	e.notify(ev.ClassID, types.NotifyEviction, []int{ev.Seat})
}

// UpdateScore adds delta to an enrolled occupant's score in classID,
// clamped to the configured bounds. Guests and unknown ids are a no-op.
func (e *Engine) UpdateScore(classID string, occupantID int64, delta int) bool {
	c, ok := e.classes[classID]
	if !ok {
		return false
	}

	if loc, ok := e.registry.Locate(occupantID); ok && loc.ClassID == classID {
		m, _ := e.registry.Map(classID)
		occ := m.Occupant(loc.Seat)
		score := types.Clamp(occ.Score()+delta, e.config.ScoreMin, e.config.ScoreMax)
		e.registry.Place(classID, loc.Seat, occ.WithScore(score))
		e.scores[occupantID] = score
		e.rescorePending(c, occupantID, score)
		e.notify(classID, types.NotifyCommand, []int{loc.Seat})
		return true
	}

	// Seated only in the pending batch
	if seat, occ, ok := c.batch.FindPending(occupantID); ok {
		score := types.Clamp(occ.Score()+delta, e.config.ScoreMin, e.config.ScoreMax)
		e.scores[occupantID] = score
		e.rescorePending(c, occupantID, score)
		e.notify(classID, types.NotifyCommand, []int{seat})
		return true
	}
	return false
}

func (e *Engine) rescorePending(c *class, id int64, score int) {
	c.batch.Rewrite(func(_ int, occ types.Occupant) (types.Occupant, bool) {
		oid, ok := occ.ID()
		return occ.WithScore(score), ok && oid == id
	})
}

// ClearAllScores zeroes the score of every enrolled occupant in classID.
func (e *Engine) ClearAllScores(classID string) bool {
	c, ok := e.classes[classID]
	if !ok {
		return false
	}
	m, _ := e.registry.Map(classID)

	var changed []int
	for _, seat := range m.Seats() {
		id, ok := seat.Occupant.ID()
		if !ok {
			continue
		}
		e.scores[id] = 0
		if seat.Occupant.Score() != 0 {
			e.registry.Place(classID, seat.Number, seat.Occupant.WithScore(0))
			changed = append(changed, seat.Number)
		}
	}
	c.batch.Rewrite(func(_ int, occ types.Occupant) (types.Occupant, bool) {
		id, ok := occ.ID()
		if ok {
			e.scores[id] = 0
		}
		return occ.WithScore(0), ok
	})

	e.notify(classID, types.NotifyCommand, changed)
	return true
}

// ResetAllSeats empties classID at its current capacity, cancelling any
// pending flush and animation. Unknown classes are a no-op.
func (e *Engine) ResetAllSeats(classID string) bool {
	if _, ok := e.classes[classID]; !ok {
		return false
	}
	m, _ := e.registry.Map(classID)
	return e.Initialize(classID, m.Capacity(), true)
}

// ClearSeats empties every seat of classID keeping its capacity.
func (e *Engine) ClearSeats(classID string) bool {
	return e.ResetAllSeats(classID)
}

// RemoveOccupant evicts an enrolled id from every tracked class.
func (e *Engine) RemoveOccupant(occupantID int64) int {
	evicted := e.registry.EvictEverywhere(occupantID)
	for _, ev := range evicted {
		e.evicted(ev)
	}
	dropped := 0
	for _, classID := range e.registry.Classes() {
		if c, ok := e.classes[classID]; ok {
			dropped += len(c.batch.DropOccupant(occupantID))
		}
	}
	return len(evicted) + dropped
}

// RemoveOccupantExcept evicts an enrolled id from every class but classID.
func (e *Engine) RemoveOccupantExcept(occupantID int64, classID string) int {
	evicted := e.registry.EvictElsewhere(occupantID, classID)
	for _, ev := range evicted {
		e.evicted(ev)
	}
	dropped := 0
	for _, id := range e.registry.Classes() {
		if id == classID {
			continue
		}
		if c, ok := e.classes[id]; ok {
			dropped += len(c.batch.DropOccupant(occupantID))
		}
	}
	return len(evicted) + dropped
}

// Dispatch applies a local command.
func (e *Engine) Dispatch(cmd types.Command) error {
	switch c := cmd.(type) {
	case types.InitializeClass:
		e.Initialize(c.ClassID, c.Capacity, c.ForceReset)
	case types.UpdateScore:
		e.UpdateScore(c.ClassID, c.OccupantID, c.Delta)
	case types.ClearScores:
		e.ClearAllScores(c.ClassID)
	case types.ResetSeats:
		e.ResetAllSeats(c.ClassID)
	case types.RemoveOccupant:
		if c.ExceptClassID != "" {
			e.RemoveOccupantExcept(c.OccupantID, c.ExceptClassID)
		} else {
			e.RemoveOccupant(c.OccupantID)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
	return nil
}

// Repair rebuilds classID after an invariant violation: the class is reset
// at its capacity and the cross-class index is rebuilt from a scan.
func (e *Engine) Repair(classID string) {
	e.logger.Errorw("Repairing class after invariant violation", "class_id", classID)
	if m, ok := e.registry.Map(classID); ok {
		capacity := m.Capacity()
		// The map may be corrupt; ResetAll restores its contract
		m.ResetAll(capacity)
	}
	if c, ok := e.classes[classID]; ok {
		c.batch.Cancel()
	}
	if !e.registry.Rebuild() {
		e.logger.Errorw("Cross-class index inconsistent after repair")
	}
	e.notify(classID, types.NotifyReset, nil)
}

// Seat returns a read-only snapshot of one committed seat.
func (e *Engine) Seat(classID string, seat int) types.Seat {
	if m, ok := e.registry.Map(classID); ok {
		return m.Get(seat)
	}
	return types.Seat{Number: seat, Occupant: types.Empty()}
}

// Seats returns every committed seat of classID in ascending order.
func (e *Engine) Seats(classID string) []types.Seat {
	if m, ok := e.registry.Map(classID); ok {
		return m.Seats()
	}
	return nil
}

func (e *Engine) OccupiedCount(classID string) int {
	if m, ok := e.registry.Map(classID); ok {
		return m.OccupiedCount()
	}
	return 0
}

func (e *Engine) AvailableSlots(classID string) int {
	if m, ok := e.registry.Map(classID); ok {
		return m.AvailableSlots()
	}
	return 0
}

// AnimationSet returns the seats currently exposed as newly seated.
func (e *Engine) AnimationSet(classID string) []int {
	if c, ok := e.classes[classID]; ok {
		return c.batch.Animation()
	}
	return nil
}

// Pending returns the number of queued seat writes for classID.
func (e *Engine) Pending(classID string) int {
	if c, ok := e.classes[classID]; ok {
		return c.batch.Pending()
	}
	return 0
}

// Flush commits classID's pending writes immediately and notifies when
// anything was committed.
func (e *Engine) Flush(classID string) batcher.Result {
	c, ok := e.classes[classID]
	if !ok {
		return batcher.Result{}
	}
	result := c.batch.Flush()
	if len(result.Committed) > 0 {
		e.notify(classID, types.NotifyFlush, result.Committed)
	}
	return result
}

// Initialized reports whether classID has been initialized.
func (e *Engine) Initialized(classID string) bool {
	c, ok := e.classes[classID]
	return ok && c.initialized
}

// Classes returns the tracked class ids in sorted order.
func (e *Engine) Classes() []string {
	return e.registry.Classes()
}

// ClassView returns the full read model of classID.
func (e *Engine) ClassView(classID string) (types.ClassView, bool) {
	m, ok := e.registry.Map(classID)
	if !ok {
		return types.ClassView{}, false
	}
	return types.ClassView{
		ClassID:        classID,
		TotalCapacity:  m.Capacity(),
		OccupiedCount:  m.OccupiedCount(),
		AvailableSlots: m.AvailableSlots(),
		Seats:          m.Seats(),
		Animated:       e.AnimationSet(classID),
	}, true
}

// Located returns where an enrolled id is committed.
func (e *Engine) Located(occupantID int64) (registry.Location, bool) {
	return e.registry.Locate(occupantID)
}

// IsInvariantViolation reports whether a recovered panic value is a seat
// map invariant violation, returning the affected class.
func IsInvariantViolation(r any) (string, bool) {
	if err, ok := r.(*seatmap.InvariantError); ok {
		return err.ClassID, true
	}
	return "", false
}
