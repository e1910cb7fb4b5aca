package main

import (
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iho/smmpanel/internal/adapter/notification"
	"github.com/iho/smmpanel/internal/adapter/repository/local"
	redisRepo "github.com/iho/smmpanel/internal/adapter/repository/redis"
	"github.com/iho/smmpanel/internal/infrastructure/config"
)

func TestNewBackendsWithoutRedis(t *testing.T) {
	b := newBackends(nil, &config.Config{}, zerolog.Nop())

	if _, ok := b.locker.(*local.OrderLocker); !ok {
		t.Fatalf("expected process-local locker, got %T", b.locker)
	}
	if b.idempotency != nil {
		t.Fatalf("expected idempotency to be disabled")
	}
	if _, ok := b.publisher.(*notification.LogPublisher); !ok {
		t.Fatalf("expected log publisher, got %T", b.publisher)
	}
}

func TestNewBackendsWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := newBackends(client, &config.Config{NotificationStream: "s", NotificationStreamLen: 10}, zerolog.Nop())

	if _, ok := b.locker.(*redisRepo.OrderLocker); !ok {
		t.Fatalf("expected redis locker, got %T", b.locker)
	}
	if _, ok := b.idempotency.(*redisRepo.IdempotencyStore); !ok {
		t.Fatalf("expected redis idempotency store, got %T", b.idempotency)
	}
	if _, ok := b.publisher.(*notification.StreamPublisher); !ok {
		t.Fatalf("expected stream publisher, got %T", b.publisher)
	}
}

func TestNewHTTPServer(t *testing.T) {
	cfg := &config.Config{
		HTTPPort:         "9090",
		HTTPReadTimeout:  time.Second,
		HTTPWriteTimeout: 2 * time.Second,
		HTTPIdleTimeout:  3 * time.Second,
	}

	srv := newHTTPServer(cfg, http.NotFoundHandler())

	if srv.Addr != ":9090" {
		t.Fatalf("expected :9090, got %s", srv.Addr)
	}
	if srv.ReadTimeout != time.Second || srv.WriteTimeout != 2*time.Second || srv.IdleTimeout != 3*time.Second {
		t.Fatalf("unexpected timeouts: %+v", srv)
	}
}
