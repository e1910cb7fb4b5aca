package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

type stubPublisher struct {
	mu        sync.Mutex
	published []domain.Notification
	err       error
	block     chan struct{}
}

func (s *stubPublisher) Publish(ctx context.Context, n domain.Notification) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, n)

	return nil
}

func (s *stubPublisher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.published)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDispatcherDeliversQueuedNotifications(t *testing.T) {
	pub := &stubPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(Config{Publisher: pub, Logger: zerolog.Nop(), Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	d.Notify(context.Background(), domain.Notification{AccountID: "acc-1", Kind: domain.NotificationOrderPlaced, OrderID: "ord-1"})

	waitFor(t, func() bool { return pub.count() == 1 })

	if pub.published[0].CreatedAt.IsZero() {
		t.Fatalf("expected CreatedAt to be stamped")
	}
	waitFor(t, func() bool { return testutil.ToFloat64(m.Notifications.WithLabelValues(outcomeDelivered)) == 1 })
}

func TestDispatcherNotifyDoesNotBlockWhenFull(t *testing.T) {
	pub := &stubPublisher{}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(Config{Publisher: pub, Logger: zerolog.Nop(), Metrics: m, QueueSize: 1})

	done := make(chan struct{})
	go func() {
		// No worker is running: the second and third notifications overflow.
		for i := 0; i < 3; i++ {
			d.Notify(context.Background(), domain.Notification{AccountID: "acc-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}

	if got := testutil.ToFloat64(m.Notifications.WithLabelValues(outcomeDropped)); got != 2 {
		t.Fatalf("expected 2 dropped notifications, got %v", got)
	}
}

func TestDispatcherPublishFailureIsIsolated(t *testing.T) {
	pub := &stubPublisher{err: errors.New("redis down")}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(Config{Publisher: pub, Logger: zerolog.Nop(), Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	d.Notify(context.Background(), domain.Notification{AccountID: "acc-1"})
	d.Notify(context.Background(), domain.Notification{AccountID: "acc-2"})

	waitFor(t, func() bool { return testutil.ToFloat64(m.Notifications.WithLabelValues(outcomeFailed)) == 2 })
}

func TestDispatcherSlowPublisherTimesOut(t *testing.T) {
	pub := &stubPublisher{block: make(chan struct{})}
	m := metrics.New(prometheus.NewRegistry())
	d := NewDispatcher(Config{Publisher: pub, Logger: zerolog.Nop(), Metrics: m, PublishTimeout: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Start(ctx) }()

	d.Notify(context.Background(), domain.Notification{AccountID: "acc-1"})

	waitFor(t, func() bool { return testutil.ToFloat64(m.Notifications.WithLabelValues(outcomeFailed)) == 1 })
}

func TestDispatcherFlushesOnShutdown(t *testing.T) {
	pub := &stubPublisher{}
	d := NewDispatcher(Config{Publisher: pub, Logger: zerolog.Nop(), QueueSize: 10})

	for i := 0; i < 3; i++ {
		d.Notify(context.Background(), domain.Notification{AccountID: "acc-1"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Start(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if pub.count() != 3 {
		t.Fatalf("expected queued notifications to be flushed, got %d", pub.count())
	}
}
