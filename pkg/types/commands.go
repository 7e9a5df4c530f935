package types

import "time"

// Command is a locally-originated instructor action applied synchronously.
type Command interface {
	CommandName() string
}

type InitializeClass struct {
	ClassID    string `json:"class_id"`
	Capacity   int    `json:"capacity"`
	ForceReset bool   `json:"force_reset"`
}

type UpdateScore struct {
	ClassID    string `json:"class_id"`
	OccupantID int64  `json:"occupant_id"`
	Delta      int    `json:"delta"`
}

type ClearScores struct {
	ClassID string `json:"class_id"`
}

type ResetSeats struct {
	ClassID string `json:"class_id"`
}

// RemoveOccupant evicts an enrolled student from every tracked class,
// or from every class except ExceptClassID when it is set.
type RemoveOccupant struct {
	OccupantID    int64  `json:"occupant_id"`
	ExceptClassID string `json:"except_class_id,omitempty"`
}

func (InitializeClass) CommandName() string { return "initialize_class" }
func (UpdateScore) CommandName() string     { return "update_score" }
func (ClearScores) CommandName() string     { return "clear_scores" }
func (ResetSeats) CommandName() string      { return "reset_seats" }
func (RemoveOccupant) CommandName() string  { return "remove_occupant" }

// NotificationKind says what produced a notification.
type NotificationKind string

const (
	NotifyInitialized      NotificationKind = "initialized"
	NotifySnapshot         NotificationKind = "snapshot"
	NotifyFlush            NotificationKind = "flush"
	NotifyCommand          NotificationKind = "command"
	NotifyEviction         NotificationKind = "eviction"
	NotifyReset            NotificationKind = "reset"
	NotifyAnimationCleared NotificationKind = "animation_cleared"
)

// Notification tells presentation that a class changed and which seats
// should currently animate.
type Notification struct {
	ID        string           `json:"id"`
	ClassID   string           `json:"classId"`
	Kind      NotificationKind `json:"kind"`
	Seats     []int            `json:"seats,omitempty"`
	Animated  []int            `json:"animated"`
	Timestamp time.Time        `json:"timestamp"`
}
