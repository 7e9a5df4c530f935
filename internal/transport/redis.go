package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"seatboard/pkg/types"
)

// RedisOptions configures the pub/sub source.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TLS      bool
	// Pattern is a PSUBSCRIBE pattern such as "seatboard:class:*". The part
	// of the channel name after the last ':' names the class when the
	// envelope carries no classId.
	Pattern string
}

// NewRedisClient creates a client and pings it with a short timeout.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	var tlsConf *tls.Config
	if opts.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: tlsConf,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return client, nil
}

// RedisSource consumes envelopes published on Redis channels.
// TECHNICAL DISCOVERY: go-redis re-subscribes on its own after a dropped
// connection, so no backoff loop is needed here
type RedisSource struct {
	client  *redis.Client
	pattern string
	logger  *zap.SugaredLogger
}

// NewRedisSource subscribes client to pattern once Run starts.
func NewRedisSource(client *redis.Client, pattern string, logger *zap.SugaredLogger) *RedisSource {
	if pattern == "" {
		pattern = "seatboard:class:*"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RedisSource{client: client, pattern: pattern, logger: logger}
}

func (s *RedisSource) Name() string { return "redis" }

func (s *RedisSource) Run(ctx context.Context, sink func(types.OccupantEvent)) error {
	pubsub := s.client.PSubscribe(ctx, s.pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: subscribe %s: %v", ErrRedisUnavailable, s.pattern, err)
	}
	s.logger.Infow("Subscribed to redis channels", "pattern", s.pattern)

	messages := pubsub.Channel()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.deliver(msg.Channel, []byte(msg.Payload), sink)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *RedisSource) deliver(channel string, payload []byte, sink func(types.OccupantEvent)) {
	events, err := DecodeFor(payload, ClassFromChannel(channel))
	if err != nil {
		if errors.Is(err, types.ErrUnknownEventType) {
			s.logger.Debugw("Ignoring redis message", "channel", channel, "error", err)
		} else {
			s.logger.Warnw("Dropping malformed redis message", "channel", channel, "error", err)
		}
		return
	}
	for _, ev := range events {
		sink(ev)
	}
}

// ClassFromChannel returns the channel suffix after the last ':'.
func ClassFromChannel(channel string) string {
	if i := strings.LastIndex(channel, ":"); i >= 0 {
		return channel[i+1:]
	}
	return channel
}
