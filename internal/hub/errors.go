package hub

import "errors"

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrEngineNotBound    = errors.New("hub has no engine bound")
	ErrEventChannelFull  = errors.New("event channel is full")
)
