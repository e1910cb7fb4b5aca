package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/smmpanel/internal/domain"
)

// DefaultStream is the Redis stream notifications are appended to.
const DefaultStream = "smmpanel:notifications"

// StreamPublisher appends notifications to a capped Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewStreamPublisher creates a StreamPublisher. maxLen <= 0 leaves the stream uncapped.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}

	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Publish appends n to the stream.
func (p *StreamPublisher) Publish(ctx context.Context, n domain.Notification) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"account_id": n.AccountID,
			"kind":       string(n.Kind),
			"message":    n.Message,
			"order_id":   n.OrderID,
			"created_at": n.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("append notification to %s: %w", p.stream, err)
	}

	return nil
}

// LogPublisher writes notifications to the log. Used when Redis is not configured.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a new LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "notifications").Logger()}
}

// Publish logs the notification.
func (p *LogPublisher) Publish(_ context.Context, n domain.Notification) error {
	p.logger.Info().
		Str("account_id", n.AccountID).
		Str("kind", string(n.Kind)).
		Str("order_id", n.OrderID).
		Msg(n.Message)

	return nil
}
