package registry

import (
	"sort"

	"seatboard/internal/seatmap"
	"seatboard/pkg/types"
)

// Location is where an enrolled occupant currently sits.
type Location struct {
	ClassID string
	Seat    int
}

// Evicted describes one seat cleared by an eviction.
type Evicted struct {
	Location
	Occupant types.Occupant
}

// Registry owns every tracked class SeatMap and keeps the cross-class
// invariant: an enrolled id occupies at most one seat across all classes.
// ARCHITECTURAL DISCOVERY: explicit id -> location index makes eviction O(1)
// instead of a scan over classes x capacity. The index is updated by Place
// and Vacate only, so every seat mutation must go through them.
// Not safe for concurrent use; the hub goroutine is its only caller.
type Registry struct {
	classes map[string]*seatmap.SeatMap
	index   map[int64]Location
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		classes: make(map[string]*seatmap.SeatMap),
		index:   make(map[int64]Location),
	}
}

// Track returns the SeatMap for classID, creating it at capacity when unseen.
func (r *Registry) Track(classID string, capacity int) (*seatmap.SeatMap, bool) {
	if m, exists := r.classes[classID]; exists {
		return m, false
	}
	m := seatmap.New(classID, capacity)
	r.classes[classID] = m
	return m, true
}

// Map returns the SeatMap for classID.
func (r *Registry) Map(classID string) (*seatmap.SeatMap, bool) {
	m, exists := r.classes[classID]
	return m, exists
}

// Classes returns tracked class ids in sorted order.
func (r *Registry) Classes() []string {
	ids := make([]string, 0, len(r.classes))
	for id := range r.classes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Locate returns the committed seat of an enrolled id.
func (r *Registry) Locate(id int64) (Location, bool) {
	loc, ok := r.index[id]
	return loc, ok
}

// Reset empties classID at capacity and drops its index entries.
func (r *Registry) Reset(classID string, capacity int) {
	m, exists := r.classes[classID]
	if !exists {
		r.Track(classID, capacity)
		return
	}
	for id, loc := range r.index {
		if loc.ClassID == classID {
			delete(r.index, id)
		}
	}
	m.ResetAll(capacity)
}

// Place seats occ at classID/seat. Any previous occupant of that seat is
// replaced; an enrolled occ sitting elsewhere is cleared from its old seat
// first so the id never holds two seats. Returns false for unknown classes
// and out of range seats.
func (r *Registry) Place(classID string, seat int, occ types.Occupant) bool {
	m, exists := r.classes[classID]
	if !exists || !m.InRange(seat) {
		return false
	}
	here := Location{ClassID: classID, Seat: seat}

	if prevID, ok := m.Occupant(seat).ID(); ok {
		if loc, indexed := r.index[prevID]; indexed && loc == here {
			delete(r.index, prevID)
		}
	}

	if id, ok := occ.ID(); ok {
		if loc, indexed := r.index[id]; indexed && loc != here {
			r.clear(loc)
		}
		r.index[id] = here
	}

	m.Set(seat, occ)
	return true
}

// Vacate clears classID/seat.
func (r *Registry) Vacate(classID string, seat int) (types.Occupant, bool) {
	m, exists := r.classes[classID]
	if !exists || !m.InRange(seat) {
		return types.Empty(), false
	}
	occ := m.Occupant(seat)
	r.clear(Location{ClassID: classID, Seat: seat})
	return occ, !occ.IsEmpty()
}

// EvictElsewhere clears the id from every class other than targetClassID.
// Must run before assigning the id a seat in targetClassID.
func (r *Registry) EvictElsewhere(id int64, targetClassID string) []Evicted {
	loc, ok := r.index[id]
	if !ok || loc.ClassID == targetClassID {
		return nil
	}
	return r.evict(id, loc)
}

// EvictEverywhere clears the id from every tracked class.
func (r *Registry) EvictEverywhere(id int64) []Evicted {
	loc, ok := r.index[id]
	if !ok {
		return nil
	}
	return r.evict(id, loc)
}

func (r *Registry) evict(id int64, loc Location) []Evicted {
	m := r.classes[loc.ClassID]
	occ := m.Occupant(loc.Seat)
	if oid, ok := occ.ID(); !ok || oid != id {
		// Stale entry: the seat changed hands without going through Place
		delete(r.index, id)
		return nil
	}
	r.clear(loc)
	return []Evicted{{Location: loc, Occupant: occ}}
}

// clear empties one seat and drops the index entry pointing at it.
func (r *Registry) clear(loc Location) {
	m, exists := r.classes[loc.ClassID]
	if !exists {
		return
	}
	if id, ok := m.Occupant(loc.Seat).ID(); ok {
		if indexed, found := r.index[id]; found && indexed == loc {
			delete(r.index, id)
		}
	}
	m.Clear(loc.Seat)
}

// Rebuild reconstructs the index by scanning every tracked class.
// Returns false when the scan finds an id seated in more than one class.
func (r *Registry) Rebuild() bool {
	index := make(map[int64]Location, len(r.index))
	consistent := true
	for _, classID := range r.Classes() {
		for _, seat := range r.classes[classID].Seats() {
			id, ok := seat.Occupant.ID()
			if !ok {
				continue
			}
			if _, dup := index[id]; dup {
				consistent = false
				continue
			}
			index[id] = Location{ClassID: classID, Seat: seat.Number}
		}
	}
	r.index = index
	return consistent
}
