package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dontdude/pystudio/internal/backends"
	"github.com/dontdude/pystudio/internal/config"
	"github.com/dontdude/pystudio/internal/domain"
	"github.com/dontdude/pystudio/internal/platform/logging"
	"github.com/dontdude/pystudio/internal/platform/queue"
	"github.com/dontdude/pystudio/internal/platform/remote"
	"github.com/dontdude/pystudio/internal/platform/web"
	"github.com/dontdude/pystudio/internal/session"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load(os.Getenv("STUDIO_CONFIG"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	slog.SetDefault(logging.New(logging.Options{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Journal: cfg.Log.Journal,
	}))
	slog.Info("Starting pystudio server...", "backend", cfg.Runtime.Backend, "store", cfg.Store.Kind)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Redis (as a dependency) when the store or the runtime needs it
	var (
		rdb *redis.Client
		q   *queue.RedisQueue
	)
	if cfg.NeedsRedis() {
		// This will panic if Redis is not available (Fail-Fast)
		rdb = queue.MustConnect(cfg.Redis.Addr)
		defer rdb.Close()
		q = queue.NewRedisQueue(rdb, queue.Names{})
	}

	kv, err := backends.OpenStore(cfg, rdb)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}

	// 4. Console events: straight to the local hub, or through Redis so every
	// instance can serve any session's viewers
	hub := web.NewHub()
	var notifier domain.Notifier = hub
	if q != nil {
		events, err := q.SubscribeConsole(ctx)
		if err != nil {
			slog.Error("Failed to subscribe to console events", "error", err)
			os.Exit(1)
		}
		go hub.Forward(ctx, events)
		notifier = q
	}

	// 5. Remote runtimes read their results from the results channel
	var rem backends.Remote
	if cfg.Runtime.Backend == config.BackendRemote {
		router := remote.NewRouter()
		results, err := q.SubscribeResults(ctx)
		if err != nil {
			slog.Error("Failed to subscribe to results", "error", err)
			os.Exit(1)
		}
		go router.Run(ctx, results)
		rem = backends.Remote{Queue: q, Router: router}
	}

	newLoader, cleanup, err := backends.New(cfg.Runtime.Backend, cfg, rem)
	if err != nil {
		slog.Error("Failed to set up runtime backend", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// 6. Sessions
	sessions := session.NewRegistry(session.RegistryOptions{
		KV:             kv,
		NewLoader:      newLoader,
		RuntimeConfig:  domain.RuntimeConfig{IndexURL: cfg.Runtime.IndexURL},
		Confirm:        web.Confirmer,
		Notifier:       notifier,
		AutoInitialize: true,
	})
	defer sessions.CloseAll()

	// 7. Setup Rate Limiter and Router
	limiter := web.NewRateLimiter(cfg.RateLimit.Rate, cfg.RateLimit.Burst)
	limiter.TrustForwardedFor(cfg.RateLimit.TrustForwardedFor)
	defer limiter.Close()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: web.NewServer(sessions, hub, limiter).Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("API Server starting", "addr", cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
