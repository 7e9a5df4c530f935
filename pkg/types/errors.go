package types

import "errors"

// Validation errors for inbound events, snapshots and commands
var (
	ErrInvalidClassID   = errors.New("class id must be 1-64 characters of [a-zA-Z0-9_-]")
	ErrNegativeCapacity = errors.New("total capacity cannot be negative")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingOccupant  = errors.New("event carries no occupant")
)
