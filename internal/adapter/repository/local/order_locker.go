// Package local holds single-process stand-ins for the Redis-backed stores,
// used when the service runs without Redis.
package local

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	token   uint64
	expires time.Time
}

// OrderLocker is an in-process usecase.OrderLocker. Leases expire after their
// ttl like the Redis lock does, so a stuck holder cannot block an order forever.
type OrderLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
	now    func() time.Time
}

// NewOrderLocker creates an empty OrderLocker.
func NewOrderLocker() *OrderLocker {
	return &OrderLocker{leases: make(map[string]lease), now: time.Now}
}

// TryLock takes the lease on orderID unless a live one exists.
func (l *OrderLocker) TryLock(_ context.Context, orderID string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[orderID]; ok && now.Before(held.expires) {
		return nil, false, nil
	}

	l.next++
	token := l.next
	l.leases[orderID] = lease{token: token, expires: now.Add(ttl)}

	release := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()

		// A lease taken over after expiry belongs to someone else.
		if held, ok := l.leases[orderID]; ok && held.token == token {
			delete(l.leases, orderID)
		}

		return nil
	}

	return release, true, nil
}
