package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpAdapter "github.com/iho/smmpanel/internal/adapter/http"
	"github.com/iho/smmpanel/internal/adapter/http/handler"
	"github.com/iho/smmpanel/internal/adapter/http/middleware"
	"github.com/iho/smmpanel/internal/adapter/notification"
	"github.com/iho/smmpanel/internal/adapter/provider"
	"github.com/iho/smmpanel/internal/adapter/repository/local"
	postgresRepo "github.com/iho/smmpanel/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/smmpanel/internal/adapter/repository/redis"
	"github.com/iho/smmpanel/internal/infrastructure/auth"
	"github.com/iho/smmpanel/internal/infrastructure/config"
	"github.com/iho/smmpanel/internal/infrastructure/logger"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
	"github.com/iho/smmpanel/internal/infrastructure/postgres"
	"github.com/iho/smmpanel/internal/infrastructure/redis"
	"github.com/iho/smmpanel/internal/infrastructure/scheduler"
	"github.com/iho/smmpanel/internal/usecase"
)

const (
	limiterCleanupInterval = 5 * time.Minute
	limiterMaxIdle         = 30 * time.Minute
	redisPoolSize          = 20
	redisDialTimeout       = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if cfg.AutoMigrate {
		if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, log); err != nil {
			return err
		}
	}

	pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
		DatabaseURL:    cfg.DatabaseURL,
		MaxConns:       cfg.DatabaseMaxConns,
		MinConns:       cfg.DatabaseMinConns,
		ConnectTimeout: cfg.DatabaseTimeout,
		LockTimeout:    cfg.DatabaseLockWait,
	})
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(ctx, redis.ClientConfig{
			URL:         cfg.RedisURL,
			PoolSize:    redisPoolSize,
			ClientName:  "smmpanel-server",
			DialTimeout: redisDialTimeout,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		log.Info().Msg("connected to redis")
	} else {
		log.Warn().Msg("redis disabled: idempotency keys off, order locks are process-local")
	}

	b := newBackends(redisClient, cfg, log)

	// Repositories
	txManager := postgresRepo.NewTxManager(pool)
	accountRepo := postgresRepo.NewAccountRepository(pool)
	entryRepo := postgresRepo.NewEntryRepository(pool)
	ledgerRepo := postgresRepo.NewLedgerRepository(pool)
	orderRepo := postgresRepo.NewOrderRepository(pool)
	catalog := postgresRepo.NewCatalogRepository(pool)
	retrier := postgresRepo.NewRetrier(log, m)
	idGen := postgresRepo.NewULIDGenerator()

	gateway := provider.NewClient(&http.Client{}, provider.Config{
		Timeout:       cfg.ProviderTimeout,
		RatePerSecond: cfg.ProviderRateLimit,
		Burst:         cfg.ProviderRateBurst,
	}, log, m)

	dispatcher := notification.NewDispatcher(notification.Config{
		Publisher: b.publisher,
		Logger:    log,
		Metrics:   m,
		QueueSize: cfg.NotificationQueueSize,
	})

	// Use cases
	ledgerUC := usecase.NewLedgerUseCase(txManager, accountRepo, entryRepo, ledgerRepo, idGen, retrier, log, m)
	orderUC := usecase.NewOrderUseCase(txManager, accountRepo, orderRepo, catalog, ledgerUC, gateway, dispatcher, idGen, retrier, log, m).
		WithProviderTimeout(cfg.ProviderTimeout)
	reconcileUC := usecase.NewReconciliationUseCase(orderRepo, catalog, gateway, b.locker, dispatcher, usecase.ReconciliationConfig{
		QueryTimeout: cfg.ReconcileQueryTimeout,
		Concurrency:  cfg.ReconcileConcurrency,
		BatchSize:    cfg.ReconcileBatchSize,
		LockTTL:      cfg.ReconcileLockTTL,

		DispatchGrace: cfg.ReconcileDispatchGrace,
	}, log, m).WithDispatchRecovery(orderUC)

	if minGrace := cfg.ProviderTimeout + usecase.DefaultCompensationTimeout; cfg.ReconcileDispatchGrace < minGrace {
		log.Warn().
			Dur("dispatch_grace", cfg.ReconcileDispatchGrace).
			Dur("recommended_min", minGrace).
			Msg("dispatch grace is shorter than a dispatch plus its compensation; live orders may be refunded early")
	}

	var verifier middleware.TokenVerifier
	if cfg.AuthEnabled {
		if cfg.JWTSecret == "" {
			return errors.New("AUTH_ENABLED requires JWT_SECRET")
		}
		verifier = auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	} else {
		log.Warn().Msg("authentication disabled: principal is taken from request headers")
	}

	rateLimiter := middleware.NewRateLimiter(cfg.HTTPRateLimit, cfg.HTTPRateBurst, m)

	var redisPinger handler.Pinger
	if redisClient != nil {
		redisPinger = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		OrderHandler:     handler.NewOrderHandler(orderUC, reconcileUC),
		AccountHandler:   handler.NewAccountHandler(ledgerUC),
		AdminHandler:     handler.NewAdminHandler(reconcileUC, ledgerUC),
		HealthHandler:    handler.NewHealthHandler(pool, redisPinger),
		Authenticator:    middleware.NewAuthenticator(verifier, cfg.AuthEnabled, m),
		RateLimiter:      rateLimiter,
		IdempotencyStore: b.idempotency,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		Logger:           log,
		Metrics:          m,
		MetricsHandler:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		CORSOrigins:      cfg.CORSAllowedOrigins,
	})

	server := newHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Start(gctx)
	})

	if cfg.ReconcileEnabled {
		reconciler := scheduler.New(scheduler.Config{
			Name:     "reconcile",
			Interval: cfg.ReconcileInterval,
			Logger:   log,
			Job: func(ctx context.Context) error {
				_, err := reconcileUC.ReconcileOutstanding(ctx)
				return err
			},
		})
		g.Go(func() error {
			return reconciler.Start(gctx)
		})
	}

	limiterCleanup := scheduler.New(scheduler.Config{
		Name:     "rate_limiter_cleanup",
		Interval: limiterCleanupInterval,
		Logger:   log,
		Job: func(context.Context) error {
			if removed := rateLimiter.CleanupLimiters(limiterMaxIdle); removed > 0 {
				log.Debug().Int("removed", removed).Msg("idle rate limiters dropped")
			}
			return nil
		},
	})
	g.Go(func() error {
		return limiterCleanup.Start(gctx)
	})

	g.Go(func() error {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// backends are the pieces that switch implementation depending on Redis.
type backends struct {
	locker      usecase.OrderLocker
	idempotency usecase.IdempotencyStore
	publisher   notification.Publisher
}

func newBackends(client *goredis.Client, cfg *config.Config, log zerolog.Logger) backends {
	if client == nil {
		return backends{
			locker:    local.NewOrderLocker(),
			publisher: notification.NewLogPublisher(log),
		}
	}

	return backends{
		locker:      redisRepo.NewOrderLocker(client),
		idempotency: redisRepo.NewIdempotencyStore(client),
		publisher:   notification.NewStreamPublisher(client, cfg.NotificationStream, cfg.NotificationStreamLen),
	}
}

func newHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      h,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
}
