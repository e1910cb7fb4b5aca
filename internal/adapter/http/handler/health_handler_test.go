package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func okPing(ctx context.Context) error { return nil }

func TestHealthHandler_Liveness(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(PingFunc(okPing), nil).Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthHandler_Readiness(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	redisPing := PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })

	tests := []struct {
		name       string
		db         Pinger
		redis      Pinger
		wantStatus int
		wantRedis  string
	}{
		{"ready with redis", PingFunc(okPing), redisPing, http.StatusOK, "ok"},
		{"ready without redis", PingFunc(okPing), nil, http.StatusOK, "disabled"},
		{"postgres down", PingFunc(func(ctx context.Context) error { return errors.New("refused") }), redisPing, http.StatusServiceUnavailable, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.db, tt.redis).Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantRedis == "" {
				return
			}

			var resp map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["redis"] != tt.wantRedis {
				t.Fatalf("expected redis=%s, got %s", tt.wantRedis, resp["redis"])
			}
		})
	}

	mr.Close()
	rec := httptest.NewRecorder()
	NewHealthHandler(PingFunc(okPing), redisPing).Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 once redis is gone, got %d", rec.Code)
	}
}
