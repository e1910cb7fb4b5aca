package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig configures the shared Redis client used for order locks,
// idempotency keys and the notification stream.
type ClientConfig struct {
	URL         string
	PoolSize    int
	ClientName  string
	DialTimeout time.Duration
}

// NewClient parses cfg.URL, applies overrides and verifies the connection with a ping.
// Zero values keep whatever the URL or the library defaults say.
func NewClient(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.ClientName != "" {
		opts.ClientName = cfg.ClientName
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", opts.Addr, err)
	}

	return client, nil
}
