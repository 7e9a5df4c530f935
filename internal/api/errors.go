package api

import "errors"

var (
	ErrClassNotFound     = errors.New("class not found")
	ErrInvalidOccupantID = errors.New("invalid occupant id")
	ErrEngineUnavailable = errors.New("engine unavailable")
)
