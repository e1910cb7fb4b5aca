package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Job is one unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler runs a job immediately and then on every tick until cancelled.
type Scheduler struct {
	name     string
	job      Job
	interval time.Duration
	logger   zerolog.Logger
}

// Config for Scheduler.
type Config struct {
	Name     string
	Job      Job
	Interval time.Duration
	Logger   zerolog.Logger
}

// New creates a new Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Name == "" {
		cfg.Name = "job"
	}

	return &Scheduler{
		name:     cfg.Name,
		job:      cfg.Job,
		interval: cfg.Interval,
		logger:   cfg.Logger.With().Str("component", "scheduler").Str("job", cfg.Name).Logger(),
	}
}

// Start runs the job until ctx is cancelled and returns ctx.Err().
// Runs never overlap: a tick that fires while the job is running is dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Msg("scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start
	s.run(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("scheduled job failed")
		return
	}

	s.logger.Debug().Dur("elapsed", time.Since(start)).Msg("scheduled job finished")
}
