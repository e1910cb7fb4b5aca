package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still carries the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// OrderLocker implements usecase.OrderLocker with SET NX PX.
type OrderLocker struct {
	client *redis.Client
	prefix string
}

// NewOrderLocker creates a new OrderLocker.
func NewOrderLocker(client *redis.Client) *OrderLocker {
	return &OrderLocker{
		client: client,
		prefix: "lock:order:",
	}
}

// TryLock acquires the lock for orderID for at most ttl. When another holder owns
// it, acquired is false and err is nil. The returned release is safe to call after
// the lock has expired and been taken by someone else.
func (l *OrderLocker) TryLock(ctx context.Context, orderID string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}

	key := l.prefix + orderID

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire order lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release order lock: %w", err)
		}
		return nil
	}

	return release, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}

	return hex.EncodeToString(b), nil
}
