package types

import (
	"encoding/json"
	"time"
)

// Wire event type constants shared by every upstream transport.
const (
	EventTypeOccupantUpdate = "occupant_update"
	EventTypeClassUpdated   = "class_updated"
	EventTypeHeartbeat      = "heartbeat"
	EventTypePong           = "pong"
)

// OccupantKind tags the three states a seat can be in.
type OccupantKind int

const (
	KindEmpty OccupantKind = iota
	KindGuest
	KindEnrolled
)

func (k OccupantKind) String() string {
	switch k {
	case KindGuest:
		return "guest"
	case KindEnrolled:
		return "enrolled"
	default:
		return "empty"
	}
}

// Occupant is a tagged union: Empty | Guest{name} | Enrolled{id, name, score}.
// ARCHITECTURAL DISCOVERY: unexported fields make "guest with an id" and
// "empty seat with a score" unrepresentable; build values through the constructors.
type Occupant struct {
	kind  OccupantKind
	id    int64
	name  string
	score int
}

// Empty returns the empty-seat marker.
func Empty() Occupant {
	return Occupant{}
}

// Guest returns an anonymous occupant with no cross-class identity.
func Guest(name string) Occupant {
	return Occupant{kind: KindGuest, name: name}
}

// Enrolled returns an occupant identified by a stable student id.
func Enrolled(id int64, name string, score int) Occupant {
	return Occupant{kind: KindEnrolled, id: id, name: name, score: score}
}

func (o Occupant) Kind() OccupantKind { return o.kind }
func (o Occupant) IsEmpty() bool      { return o.kind == KindEmpty }
func (o Occupant) IsGuest() bool      { return o.kind == KindGuest }
func (o Occupant) IsEnrolled() bool   { return o.kind == KindEnrolled }
func (o Occupant) Name() string       { return o.name }

// ID returns the stable id; ok is false for guests and empty seats.
func (o Occupant) ID() (int64, bool) {
	if o.kind != KindEnrolled {
		return 0, false
	}
	return o.id, true
}

// Score is always 0 for guests and empty seats.
func (o Occupant) Score() int {
	if o.kind != KindEnrolled {
		return 0
	}
	return o.score
}

// WithScore returns a copy carrying the new score. Only enrolled occupants
// hold a score; other kinds are returned unchanged.
func (o Occupant) WithScore(score int) Occupant {
	if o.kind != KindEnrolled {
		return o
	}
	o.score = score
	return o
}

// SameIdentity reports whether two occupants are the same person.
// Ids are compared when both sides carry one, names otherwise, since
// guests have no stable id.
func (o Occupant) SameIdentity(other Occupant) bool {
	if o.kind == KindEmpty || other.kind == KindEmpty {
		return o.kind == other.kind
	}
	oid, ok1 := o.ID()
	pid, ok2 := other.ID()
	if ok1 && ok2 {
		return oid == pid
	}
	return o.name == other.name
}

// Seat is a read-only snapshot of one slot in a class.
type Seat struct {
	Number   int
	Occupant Occupant
}

type seatJSON struct {
	SeatNumber int    `json:"seatNumber"`
	ID         *int64 `json:"id,omitempty"`
	Name       string `json:"name"`
	Score      int    `json:"score"`
	IsGuest    bool   `json:"isGuest"`
	IsEmpty    bool   `json:"isEmpty"`
}

// MarshalJSON renders the seat in the shape presentation code consumes.
func (s Seat) MarshalJSON() ([]byte, error) {
	out := seatJSON{
		SeatNumber: s.Number,
		Name:       s.Occupant.Name(),
		Score:      s.Occupant.Score(),
		IsGuest:    s.Occupant.IsGuest(),
		IsEmpty:    s.Occupant.IsEmpty(),
	}
	if id, ok := s.Occupant.ID(); ok {
		out.ID = &id
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the MarshalJSON shape back.
func (s *Seat) UnmarshalJSON(data []byte) error {
	var in seatJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.Number = in.SeatNumber
	switch {
	case in.IsEmpty:
		s.Occupant = Empty()
	case in.ID != nil:
		s.Occupant = Enrolled(*in.ID, in.Name, in.Score)
	default:
		s.Occupant = Guest(in.Name)
	}
	return nil
}

// OccupantPayload is the occupant shape carried by snapshots and real-time events.
// A missing or non-positive ID marks a guest.
type OccupantPayload struct {
	ID                  *int64 `json:"id,omitempty"`
	Name                string `json:"name"`
	SeatNumber          *int   `json:"seatNumber,omitempty"`
	PreferredSeatNumber *int   `json:"preferredSeatNumber,omitempty"`
	Score               int    `json:"score"`
}

// EnrolledID returns the stable id; ok is false for guests.
func (p OccupantPayload) EnrolledID() (int64, bool) {
	if p.ID == nil || *p.ID <= 0 {
		return 0, false
	}
	return *p.ID, true
}

// IsGuest is derived: true iff there is no usable id.
func (p OccupantPayload) IsGuest() bool {
	_, ok := p.EnrolledID()
	return !ok
}

func (p OccupantPayload) empty() bool {
	return p.ID == nil && p.Name == "" && p.SeatNumber == nil && p.PreferredSeatNumber == nil
}

// PreferredSeat returns the suggested seat, 0 meaning "assign any".
// An explicit preferredSeatNumber wins over seatNumber.
func (p OccupantPayload) PreferredSeat() int {
	if p.PreferredSeatNumber != nil {
		return *p.PreferredSeatNumber
	}
	if p.SeatNumber != nil {
		return *p.SeatNumber
	}
	return 0
}

// Snapshot is the initial class state supplied by the REST boundary.
type Snapshot struct {
	ClassID       string            `json:"classId"`
	TotalCapacity int               `json:"totalCapacity"`
	Occupants     []OccupantPayload `json:"occupants"`
}

// OccupantEvent is the "occupant_update" variant of the real-time stream.
type OccupantEvent struct {
	ClassID  string          `json:"classId"`
	Occupant OccupantPayload `json:"occupant"`
}

// Envelope is the upstream wire message wrapping every event.
// FUNCTIONAL DISCOVERY: Data stays raw until the type is known so heartbeats
// can be filtered without decoding their payload.
type Envelope struct {
	Type      string          `json:"type"`
	ClassID   string          `json:"classId"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// ClassView is the full read model of one class for presentation.
type ClassView struct {
	ClassID        string `json:"classId"`
	TotalCapacity  int    `json:"totalCapacity"`
	OccupiedCount  int    `json:"occupiedCount"`
	AvailableSlots int    `json:"availableSlots"`
	Seats          []Seat `json:"seats"`
	Animated       []int  `json:"animated"`
}
