package seatmap

import (
	"fmt"

	"seatboard/pkg/types"
)

// InvariantError reports a broken SeatMap contract. It is raised with panic:
// it means a mutator was bypassed and the map must be rebuilt with ResetAll.
type InvariantError struct {
	ClassID string
	Detail  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("seatmap %s: invariant violated: %s", e.ClassID, e.Detail)
}

// SeatMap is a fixed-capacity mapping from seat number (1..capacity) to occupant.
// ARCHITECTURAL DISCOVERY: availableSlots is recomputed by a full scan after
// every mutation and never incremented or decremented in place.
type SeatMap struct {
	classID        string
	capacity       int
	seats          []types.Occupant // seats[n-1] holds seat n
	availableSlots int
}

// New allocates capacity empty seats. Negative capacities are treated as 0.
func New(classID string, capacity int) *SeatMap {
	m := &SeatMap{classID: classID}
	m.ResetAll(capacity)
	return m
}

func (m *SeatMap) ClassID() string     { return m.classID }
func (m *SeatMap) Capacity() int       { return m.capacity }
func (m *SeatMap) AvailableSlots() int { return m.availableSlots }

// OccupiedCount is capacity minus available slots.
func (m *SeatMap) OccupiedCount() int {
	return m.capacity - m.availableSlots
}

// InRange reports whether n addresses an existing seat.
func (m *SeatMap) InRange(n int) bool {
	return n >= 1 && n <= m.capacity
}

// Occupant returns the occupant of seat n, or the empty marker when the seat
// is vacant or n is out of range.
func (m *SeatMap) Occupant(n int) types.Occupant {
	if !m.InRange(n) {
		return types.Empty()
	}
	return m.seats[n-1]
}

// Get returns a read-only snapshot of seat n. Never fails for any n.
func (m *SeatMap) Get(n int) types.Seat {
	return types.Seat{Number: n, Occupant: m.Occupant(n)}
}

// Seats returns every seat in ascending order.
func (m *SeatMap) Seats() []types.Seat {
	out := make([]types.Seat, m.capacity)
	for i, occ := range m.seats {
		out[i] = types.Seat{Number: i + 1, Occupant: occ}
	}
	return out
}

// Find returns the seat held by the enrolled occupant id.
func (m *SeatMap) Find(id int64) (int, bool) {
	for i, occ := range m.seats {
		if oid, ok := occ.ID(); ok && oid == id {
			return i + 1, true
		}
	}
	return 0, false
}

// Set overwrites seat n. Out of range seats are ignored and report false.
func (m *SeatMap) Set(n int, occ types.Occupant) bool {
	if !m.InRange(n) {
		return false
	}
	m.seats[n-1] = occ
	m.recount()
	return true
}

// Clear marks seat n empty.
func (m *SeatMap) Clear(n int) bool {
	return m.Set(n, types.Empty())
}

// ResetAll reallocates the map to capacity empty seats.
func (m *SeatMap) ResetAll(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	m.capacity = capacity
	m.seats = make([]types.Occupant, capacity)
	m.recount()
}

// recount rebuilds availableSlots from a full scan and asserts the map contract.
func (m *SeatMap) recount() {
	if len(m.seats) != m.capacity {
		panic(&InvariantError{
			ClassID: m.classID,
			Detail:  fmt.Sprintf("capacity %d but %d seats stored", m.capacity, len(m.seats)),
		})
	}

	empty := 0
	seen := make(map[int64]int)
	for i, occ := range m.seats {
		if occ.IsEmpty() {
			empty++
			continue
		}
		if id, ok := occ.ID(); ok {
			if prev, dup := seen[id]; dup {
				panic(&InvariantError{
					ClassID: m.classID,
					Detail:  fmt.Sprintf("occupant %d holds seats %d and %d", id, prev, i+1),
				})
			}
			seen[id] = i + 1
		}
	}
	m.availableSlots = empty
}
