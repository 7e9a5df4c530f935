package transport

import "errors"

var (
	ErrMalformedMessage     = errors.New("malformed upstream message")
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts reached")
	ErrRedisUnavailable     = errors.New("redis unavailable")
	ErrDeliveriesClosed     = errors.New("deliveries channel closed")
	ErrMissingUpstreamURL   = errors.New("upstream url is required")
)
