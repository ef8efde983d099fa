package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dontdude/pystudio/internal/backends"
	"github.com/dontdude/pystudio/internal/config"
	"github.com/dontdude/pystudio/internal/platform/logging"
	"github.com/dontdude/pystudio/internal/platform/queue"
	"github.com/dontdude/pystudio/internal/worker"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load(os.Getenv("STUDIO_CONFIG"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Logger
	slog.SetDefault(logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Journal: cfg.Log.Journal,
	}))
	slog.Info("Starting pystudio worker...", "backend", cfg.Worker.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Redis Queue (Consumer Mode)
	// This will panic if Redis is not available (Fail-Fast)
	rdb := queue.MustConnect(cfg.Redis.Addr)
	defer rdb.Close()
	q := queue.NewRedisQueue(rdb, queue.Names{})

	// 4. Local runtime the jobs execute on
	newLoader, cleanup, err := backends.New(cfg.Worker.Backend, cfg, backends.Remote{})
	if err != nil {
		slog.Error("Failed to set up runtime backend", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// 5. Start the worker pool
	pool := worker.NewPool(cfg.Worker.Concurrency, newLoader())
	pool.Start()
	defer pool.Stop()

	// 6. Reclaim jobs of workers that died mid-execution
	go q.StartRecoveryRoutine(ctx, cfg.Worker.RecoveryInterval, cfg.Worker.RecoveryMaxAge)

	// 7. Consume until shutdown
	if err := worker.Serve(ctx, q, pool); err != nil && ctx.Err() == nil {
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Worker shutting down")
}
