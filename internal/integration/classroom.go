// Package integration generates realistic classroom traffic and checks the
// cross-class seat invariants over whole-pipeline runs.
package integration

import (
	"fmt"
	"math/rand"

	"seatboard/pkg/types"
)

// Classroom is one generated class with its capacity.
type Classroom struct {
	ClassID  string
	Capacity int
}

// Student is an enrolled participant who may join several classrooms.
type Student struct {
	ID   int64
	Name string
}

var (
	firstNames = []string{"Ann", "Ben", "Chloe", "Dev", "Ema", "Femi", "Gus", "Hana", "Ivo", "Jun"}
	lastNames  = []string{"Ng", "Okafor", "Silva", "Tran", "Weber", "Young"}
)

// GenerateClassrooms returns count classrooms C1..Cn of the given capacity.
func GenerateClassrooms(count, capacity int) []Classroom {
	rooms := make([]Classroom, count)
	for i := range rooms {
		rooms[i] = Classroom{ClassID: fmt.Sprintf("C%d", i+1), Capacity: capacity}
	}
	return rooms
}

// GenerateStudents returns count students with ids 1..count.
func GenerateStudents(rng *rand.Rand, count int) []Student {
	students := make([]Student, count)
	for i := range students {
		students[i] = Student{
			ID:   int64(i + 1),
			Name: firstNames[rng.Intn(len(firstNames))] + " " + lastNames[rng.Intn(len(lastNames))],
		}
	}
	return students
}

// JoinBurst produces joins events: each picks a random student (or a guest
// with probability guestRatio) entering a random classroom, half of them
// with a preferred seat. The same student joining twice models a switch
// between classes.
func JoinBurst(rng *rand.Rand, rooms []Classroom, students []Student, joins int, guestRatio float64) []types.OccupantEvent {
	events := make([]types.OccupantEvent, 0, joins)
	for i := 0; i < joins; i++ {
		room := rooms[rng.Intn(len(rooms))]
		var p types.OccupantPayload
		if rng.Float64() < guestRatio {
			p.Name = fmt.Sprintf("Visitor %d", i+1)
		} else {
			s := students[rng.Intn(len(students))]
			id := s.ID
			p.ID = &id
			p.Name = s.Name
		}
		if room.Capacity > 0 && rng.Intn(2) == 0 {
			seat := rng.Intn(room.Capacity) + 1
			p.PreferredSeatNumber = &seat
		}
		events = append(events, types.OccupantEvent{ClassID: room.ClassID, Occupant: p})
	}
	return events
}

// CheckInvariants verifies the committed state across classes: counts add
// up to capacity and no enrolled id holds more than one seat anywhere.
func CheckInvariants(views []types.ClassView) error {
	seen := make(map[int64]string)
	for _, v := range views {
		if len(v.Seats) != v.TotalCapacity {
			return fmt.Errorf("class %s: %d seats for capacity %d", v.ClassID, len(v.Seats), v.TotalCapacity)
		}
		if v.OccupiedCount+v.AvailableSlots != v.TotalCapacity {
			return fmt.Errorf("class %s: occupied %d + available %d != capacity %d",
				v.ClassID, v.OccupiedCount, v.AvailableSlots, v.TotalCapacity)
		}
		occupied := 0
		for i, seat := range v.Seats {
			if seat.Number != i+1 {
				return fmt.Errorf("class %s: seat %d at index %d", v.ClassID, seat.Number, i)
			}
			if seat.Occupant.IsEmpty() {
				continue
			}
			occupied++
			id, ok := seat.Occupant.ID()
			if !ok {
				continue
			}
			if where, dup := seen[id]; dup {
				return fmt.Errorf("occupant %d seated in %s and %s seat %d", id, where, v.ClassID, seat.Number)
			}
			seen[id] = fmt.Sprintf("%s seat %d", v.ClassID, seat.Number)
		}
		if occupied != v.OccupiedCount {
			return fmt.Errorf("class %s: counted %d occupied, reported %d", v.ClassID, occupied, v.OccupiedCount)
		}
	}
	return nil
}
