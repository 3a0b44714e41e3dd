package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/coursegen/internal/events"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "coursegen:events"

// ErrNotConnected is returned by a Publisher without a client.
var ErrNotConnected = errors.New("redis publisher not initialized")

// Publisher forwards lifecycle events to a Redis channel as JSON.
// It implements events.EventHandler.
type Publisher struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

var _ events.EventHandler = (*Publisher)(nil)

// NewPublisher wraps an existing client.
func NewPublisher(rdb *redis.Client, channel string, logger *slog.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With(slog.String("component", "redis_publisher")),
	}
}

// Connect dials addr, checks the connection with PING and returns a
// Publisher that owns the client.
func Connect(ctx context.Context, addr, channel string, logger *slog.Logger) (*Publisher, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewPublisher(rdb, channel, logger), nil
}

// Channel returns the channel events are published to.
func (p *Publisher) Channel() string {
	return p.channel
}

// HandleEvent publishes event. Publish failures are returned to the
// emitter, which logs them; they never affect the job that emitted the
// event.
func (p *Publisher) HandleEvent(ctx context.Context, event *events.Event) error {
	if p == nil || p.rdb == nil {
		return ErrNotConnected
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	p.logger.Debug("event published",
		slog.String("event_type", string(event.Type)),
		slog.String("batch_id", event.BatchID.String()))
	return nil
}

// Subscribe delivers events from the channel to fn until ctx is done.
// Payloads that do not decode are logged and skipped.
func (p *Publisher) Subscribe(ctx context.Context, fn func(*events.Event)) error {
	if p == nil || p.rdb == nil {
		return ErrNotConnected
	}

	sub := p.rdb.Subscribe(ctx, p.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var event events.Event
			if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
				p.logger.Warn("bad event payload", slog.String("error", err.Error()))
				continue
			}
			fn(&event)
		}
	}
}

// Close releases the underlying client.
func (p *Publisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
