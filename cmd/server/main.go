package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/costwise/pricingjobs/internal/config"
	"github.com/costwise/pricingjobs/internal/logging"
	"github.com/costwise/pricingjobs/internal/monitor"
	"github.com/costwise/pricingjobs/internal/notify"
	"github.com/costwise/pricingjobs/internal/store"
	"github.com/costwise/pricingjobs/internal/web"
	"github.com/costwise/pricingjobs/internal/worker"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"worker_batch_size", cfg.Worker.BatchSize,
		"worker_max_concurrent_runs", cfg.Worker.MaxConcurrentRuns,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"redis_bridge_enabled", cfg.Redis.URL != "",
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	// In-process event hub, plus the Redis bridge when configured so other
	// instances can observe job progress.
	hub := notify.NewHub()
	var notifier notify.Publisher = hub
	if cfg.Redis.URL != "" {
		rdb, err := notify.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		notifier = notify.Fanout{hub, notify.NewRedisBridge(rdb)}
		slog.Info("redis event bridge enabled")
	}

	st := store.NewWithPool(pool, notifier)

	processor := worker.New(st, st, st, worker.Config{
		BatchSize:         cfg.Worker.BatchSize,
		MaxConcurrentRuns: cfg.Worker.MaxConcurrentRuns,
		MaxWaitTime:       cfg.Worker.MaxWaitTime,
	})

	server := web.NewServer(st, processor, hub, cfg)

	// Cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	if cfg.Monitor.Enabled {
		mon := monitor.New(st, cfg.Monitor.CheckInterval, cfg.Monitor.StaleAfter)
		if err := mon.Start(jobCtx); err != nil {
			slog.Error("failed to start stale-job monitor", "error", err)
			os.Exit(1)
		}
		defer mon.Stop()
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for in-flight job runs so nothing is killed mid-batch and
		// left as a stuck processing row.
		limiter := processor.Limiter()
		if active := limiter.ActiveCount(); active > 0 {
			slog.Info("waiting for job runs to complete", "active", active)
			if err := limiter.WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("job runs did not complete in time", "error", err)
			} else {
				slog.Info("all job runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
