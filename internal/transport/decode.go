// Package transport implements the upstream event sources that feed the
// reconciliation hub: a reconnecting websocket client, a Redis pub/sub
// subscriber and a RabbitMQ queue consumer. All three carry the same
// JSON envelope.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"seatboard/pkg/types"
)

// Decode parses one wire message into occupant events. Heartbeat and pong
// envelopes yield no events.
func Decode(payload []byte) ([]types.OccupantEvent, error) {
	return DecodeFor(payload, "")
}

// DecodeFor is Decode with a class id used when the envelope carries none.
func DecodeFor(payload []byte, fallbackClassID string) ([]types.OccupantEvent, error) {
	var env types.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if env.ClassID == "" {
		env.ClassID = fallbackClassID
	}
	return types.DecodeEnvelope(&env)
}

// Backoff is the reconnect policy shared by every source.
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int // 0 retries forever
}

// DefaultBackoff returns 1s doubling to 15s over at most 10 attempts.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 15 * time.Second, MaxAttempts: 10}
}

// Delay returns the wait before reconnect attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// Exhausted reports whether attempt exceeds the limit.
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt > b.MaxAttempts
}

// wait sleeps for d or until done closes. Reports false when interrupted.
func wait(done <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-done:
		return false
	}
}
