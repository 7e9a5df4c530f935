package types

import (
	"encoding/json"
	"fmt"
	"regexp"
)

var classIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidClassID checks the public class id format used in join links.
func IsValidClassID(classID string) bool {
	if len(classID) < 1 || len(classID) > 64 {
		return false
	}
	return classIDRegex.MatchString(classID)
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate rejects events that cannot be addressed to any class.
// Everything else (seat 0, id 0 or missing, empty name, out of range seats)
// is accepted and degrades inside the engine.
func (e *OccupantEvent) Validate() error {
	if !IsValidClassID(e.ClassID) {
		return ErrInvalidClassID
	}
	return nil
}

// Validate checks the snapshot header. Occupants are filtered during placement.
func (s *Snapshot) Validate() error {
	if !IsValidClassID(s.ClassID) {
		return ErrInvalidClassID
	}
	if s.TotalCapacity < 0 {
		return ErrNegativeCapacity
	}
	return nil
}

// joiningStudentData is the "class_updated" payload of the legacy backend.
type joiningStudentData struct {
	JoiningStudent *OccupantPayload `json:"joiningStudent"`
}

// DecodeEnvelope turns one wire envelope into occupant events.
// Heartbeats decode to no events and no error.
func DecodeEnvelope(env *Envelope) ([]OccupantEvent, error) {
	switch env.Type {
	case EventTypeHeartbeat, EventTypePong:
		return nil, nil

	case EventTypeOccupantUpdate:
		// FUNCTIONAL DISCOVERY: data is either the bare occupant or
		// {"classId", "occupant"}; the envelope classId wins when present
		var ev OccupantEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode occupant_update: %w", err)
		}
		if ev.Occupant.empty() {
			var bare OccupantPayload
			if err := json.Unmarshal(env.Data, &bare); err != nil {
				return nil, fmt.Errorf("decode occupant_update: %w", err)
			}
			if bare.empty() {
				return nil, ErrMissingOccupant
			}
			ev.Occupant = bare
		}
		if env.ClassID != "" {
			ev.ClassID = env.ClassID
		}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		return []OccupantEvent{ev}, nil

	case EventTypeClassUpdated:
		var data joiningStudentData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode class_updated: %w", err)
		}
		// Capacity-only updates carry no joining student
		if data.JoiningStudent == nil || data.JoiningStudent.SeatNumber == nil {
			return nil, nil
		}
		ev := OccupantEvent{ClassID: env.ClassID, Occupant: *data.JoiningStudent}
		if err := ev.Validate(); err != nil {
			return nil, err
		}
		return []OccupantEvent{ev}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}
