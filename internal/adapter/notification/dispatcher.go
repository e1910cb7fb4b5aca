package notification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/smmpanel/internal/domain"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
)

// Notification outcomes recorded in metrics.
const (
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
	outcomeDropped   = "dropped"
)

// Publisher delivers a notification to an external system.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Config for Dispatcher.
type Config struct {
	Publisher Publisher
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	// QueueSize bounds the number of notifications waiting for delivery.
	QueueSize int
	// PublishTimeout bounds each delivery attempt.
	PublishTimeout time.Duration
}

// Dispatcher implements usecase.Notifier. Notify only enqueues; a worker started
// with Start delivers. When the queue is full the notification is dropped.
type Dispatcher struct {
	queue          chan domain.Notification
	publisher      Publisher
	logger         zerolog.Logger
	metrics        *metrics.Metrics
	publishTimeout time.Duration
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	return &Dispatcher{
		queue:          make(chan domain.Notification, cfg.QueueSize),
		publisher:      cfg.Publisher,
		logger:         cfg.Logger.With().Str("component", "notification_dispatcher").Logger(),
		metrics:        cfg.Metrics,
		publishTimeout: cfg.PublishTimeout,
	}
}

// Notify enqueues n without blocking.
func (d *Dispatcher) Notify(_ context.Context, n domain.Notification) {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	select {
	case d.queue <- n:
	default:
		d.record(outcomeDropped)
		d.logger.Warn().
			Str("account_id", n.AccountID).
			Str("kind", string(n.Kind)).
			Str("order_id", n.OrderID).
			Msg("notification queue full, dropping")
	}
}

// Start delivers queued notifications until ctx is cancelled. Notifications
// still queued at that point are flushed before it returns ctx.Err().
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info().Int("queue_size", cap(d.queue)).Msg("notification dispatcher started")

	for {
		select {
		case <-ctx.Done():
			d.drain(context.WithoutCancel(ctx))
			d.logger.Info().Msg("notification dispatcher shutting down")
			return ctx.Err()
		case n := <-d.queue:
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n domain.Notification) {
	ctx, cancel := context.WithTimeout(ctx, d.publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, n); err != nil {
		d.record(outcomeFailed)
		d.logger.Error().
			Err(err).
			Str("account_id", n.AccountID).
			Str("kind", string(n.Kind)).
			Str("order_id", n.OrderID).
			Msg("failed to deliver notification")
		return
	}

	d.record(outcomeDelivered)
}

func (d *Dispatcher) record(outcome string) {
	if d.metrics != nil {
		d.metrics.Notifications.WithLabelValues(outcome).Inc()
	}
}
