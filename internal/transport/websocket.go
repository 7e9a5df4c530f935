package transport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"seatboard/pkg/types"
)

// WebSocketOptions configures the upstream websocket client.
type WebSocketOptions struct {
	URL               string
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	Backoff           Backoff
	Header            http.Header
}

// DefaultWebSocketOptions returns a 10s heartbeat with a 5s pong timeout.
func DefaultWebSocketOptions(url string) WebSocketOptions {
	return WebSocketOptions{
		URL:               url,
		HeartbeatInterval: 10 * time.Second,
		PongTimeout:       5 * time.Second,
		Backoff:           DefaultBackoff(),
	}
}

// WebSocketSource is a reconnecting websocket client.
// FUNCTIONAL DISCOVERY: a clean close (1000/1001) from the server ends the
// source; any other disconnect reconnects with exponential backoff
type WebSocketSource struct {
	opts    WebSocketOptions
	dialer  *websocket.Dialer
	session string
	logger  *zap.SugaredLogger
}

// NewWebSocketSource creates a source for opts.URL.
func NewWebSocketSource(opts WebSocketOptions, logger *zap.SugaredLogger) (*WebSocketSource, error) {
	if opts.URL == "" {
		return nil, ErrMissingUpstreamURL
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 10 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &WebSocketSource{
		opts:    opts,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		session: uuid.NewString(),
		logger:  logger,
	}, nil
}

func (s *WebSocketSource) Name() string { return "websocket" }

// Run dials, reads and redials until ctx is cancelled, the server closes
// cleanly, or the backoff is exhausted.
func (s *WebSocketSource) Run(ctx context.Context, sink func(types.OccupantEvent)) error {
	attempt := 0
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.opts.URL, s.opts.Header)
		if err == nil {
			attempt = 0
			s.logger.Infow("Upstream websocket connected", "url", s.opts.URL, "session", s.session)
			err = s.consume(ctx, conn, sink)
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Infow("Upstream websocket closed cleanly", "session", s.session)
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		attempt++
		if s.opts.Backoff.Exhausted(attempt) {
			return ErrMaxReconnectAttempts
		}
		delay := s.opts.Backoff.Delay(attempt)
		s.logger.Warnw("Upstream websocket disconnected, reconnecting",
			"error", err, "attempt", attempt, "delay", delay, "session", s.session)
		if !wait(ctx.Done(), delay) {
			return nil
		}
	}
}

// consume reads until the connection fails. Pings go out every heartbeat
// interval; a missing pong within the timeout expires the read deadline.
func (s *WebSocketSource) consume(ctx context.Context, conn *websocket.Conn, sink func(types.OccupantEvent)) error {
	done := make(chan struct{})
	defer close(done)

	deadline := s.opts.HeartbeatInterval + s.opts.PongTimeout
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})

	// Single writer: only this goroutine writes after the handshake
	go func() {
		ticker := time.NewTicker(s.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.PongTimeout)); err != nil {
					_ = conn.Close()
					return
				}
			case <-ctx.Done():
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-done:
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		events, err := Decode(payload)
		if err != nil {
			if errors.Is(err, types.ErrUnknownEventType) {
				s.logger.Debugw("Ignoring upstream message", "error", err)
			} else {
				s.logger.Warnw("Dropping malformed upstream message", "error", err)
			}
			continue
		}
		for _, ev := range events {
			sink(ev)
		}
	}
}
