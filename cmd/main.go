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

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/okian/matchengine/internal/adapters/http/api"
	"github.com/okian/matchengine/internal/adapters/http/swagger"
	"github.com/okian/matchengine/internal/adapters/lock"
	"github.com/okian/matchengine/internal/adapters/repository"
	"github.com/okian/matchengine/internal/adapters/source"
	app "github.com/okian/matchengine/internal/app"
	"github.com/okian/matchengine/internal/config"
	"github.com/okian/matchengine/internal/domain/dedupe"
	"github.com/okian/matchengine/pkg/logger"
	"github.com/okian/matchengine/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
	memoryLockStripes = 64
)

// adapters bundles the collaborators chosen by configuration.
type adapters struct {
	source  source.Source
	store   repository.Store
	locker  lock.PairLocker
	closers []func() error
}

func (a *adapters) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// buildAdapters selects memory, Postgres and Redis adapters from cfg.
func buildAdapters(ctx context.Context, cfg *config.Config) (*adapters, error) {
	log := logger.Get().Named("main")
	a := &adapters{
		source: source.NewMemorySource(),
		store:  repository.NewMemoryStore(repository.WithShardCount(cfg.StoreShardCount)),
		locker: lock.NewMemoryLocker(memoryLockStripes),
	}

	if cfg.PostgresDSN != "" {
		db, err := source.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		pg := source.NewPostgresSource(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("source schema: %w", err)
		}
		a.source = pg

		gdb, err := repository.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		if sqlDB, err := gdb.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		store, err := repository.NewGormStore(ctx, gdb)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("score store: %w", err)
		}
		a.store = store
		log.Info(ctx, "using postgres source and score store")
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.locker = lock.NewRedisLocker(client, lock.WithTTL(cfg.LockTTL()))
		a.source = source.NewCachedSource(a.source, client, cfg.SnapshotCacheTTL())
		log.Info(ctx, "using redis pair lock and snapshot cache", logger.String("addr", cfg.RedisAddr))
	}
	return a, nil
}

// newService builds the recompute service from cfg and the chosen adapters.
func newService(cfg *config.Config, a *adapters) *app.Service {
	return app.New(
		app.WithLogger(logger.Get()),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueCapacities(cfg.QueueHighCapacity, cfg.QueueNormalCapacity, cfg.QueueLowCapacity),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithMaxAttempts(cfg.MaxAttempts),
		app.WithRetryBackoff(cfg.RetryInitialBackoff(), cfg.RetryMaxBackoff()),
		app.WithTaskTimeout(cfg.TaskTimeout()),
		app.WithExperienceTarget(cfg.ExperienceTargetMonths),
		app.WithSweepInterval(cfg.SweepInterval()),
		app.WithSource(a.source),
		app.WithStore(a.store),
		app.WithPairLocker(a.locker),
	)
}

// newHTTPServer wires the API and OpenAPI routes for svc.
func newHTTPServer(ctx context.Context, cfg *config.Config, svc *app.Service) (*http.Server, error) {
	mux := http.NewServeMux()
	if err := swagger.Register(ctx, mux); err != nil {
		return nil, err
	}
	apiServer := api.NewServer(svc,
		api.WithRequestDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(cfg.DedupeSize))),
	)
	apiServer.Register(ctx, mux)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.RequestIDMiddleware(mux),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}, nil
}

func main() {
	os.Exit(run())
}

func run() int {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use stderr for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	loggerInstance := logger.Get()

	// Runtime collectors go on the service registry next to the domain metrics.
	metrics.GetRegistry().MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> .env -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		loggerInstance.Error(ctx, "failed to load config", logger.Error(err))
		return 1
	}

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	a, err := buildAdapters(ctx, cfg)
	if err != nil {
		loggerInstance.Error(ctx, "failed to build adapters", logger.Error(err))
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			loggerInstance.Warn(ctx, "adapter close failed", logger.Error(err))
		}
	}()

	svc := newService(cfg, a)
	if err := svc.Start(ctx); err != nil {
		loggerInstance.Error(ctx, "failed to start service", logger.Error(err))
		return 1
	}

	srv, err := newHTTPServer(ctx, cfg, svc)
	if err != nil {
		loggerInstance.Error(ctx, "failed to build HTTP server", logger.Error(err))
		svc.Drain(0)
		return 1
	}

	// Start the HTTP server
	serveErr := make(chan error, 1)
	go func() {
		loggerInstance.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal
	code := 0
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		loggerInstance.Error(ctx, "HTTP server failed", logger.Error(err))
		code = 1
	}
	loggerInstance.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		loggerInstance.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	remaining := svc.Drain(cfg.DrainTimeout())
	loggerInstance.Info(ctx, "service drained", logger.Int("remaining", remaining))
	return code
}
