package engine

import "errors"

var (
	ErrUnknownCommand = errors.New("unknown command")
)
