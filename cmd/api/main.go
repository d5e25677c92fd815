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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pulsehq/pulse/internal/app/migrate"
	"github.com/pulsehq/pulse/internal/broadcast"
	httpx "github.com/pulsehq/pulse/internal/http"
	"github.com/pulsehq/pulse/internal/repository/postgres"
	"github.com/pulsehq/pulse/internal/service/ingest"
	metricsvc "github.com/pulsehq/pulse/internal/service/metrics"
	"github.com/pulsehq/pulse/pkg/config"
	"github.com/pulsehq/pulse/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("pulse-api", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	if err := run(cfg, log); err != nil {
		log.Error("api terminated", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.APIConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := migrate.NewRunner(cfg.DatabaseURL, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	if err := runner.Ensure(ctx); err != nil {
		_ = runner.Close()
		return err
	}
	_ = runner.Close()
	log.Info("migrations applied", "dir", cfg.MigrationsDir)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return err
	}
	log.Info("database connected")

	repo := postgres.New(pool)

	collector := metricsvc.New(repo, nil, nil, cfg.ActiveWindow, log)
	broadcaster := broadcast.New(collector, log, broadcast.Config{
		SnapshotInterval:  cfg.SnapshotInterval,
		EventBufferCap:    cfg.EventBufferCap,
		AlertListCap:      cfg.AlertListCap,
		ErrorRateWarnPct:  cfg.ErrorRateWarnPct,
		SystemLoadWarnPct: cfg.SystemLoadWarnPct,
	})
	go broadcaster.Run(ctx)

	ingestSvc := ingest.New(repo, repo, broadcaster, log)

	var limiter httpx.RateLimiter
	if cfg.RateLimitRedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimitRedisAddr,
			Password: cfg.RateLimitRedisPass,
			DB:       cfg.RateLimitRedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, using in-memory rate limiting", "error", err)
			limiter = httpx.NewMemoryRateLimiter(ctx)
		} else {
			log.Info("redis rate limiting enabled", "addr", cfg.RateLimitRedisAddr)
			limiter = httpx.NewRedisRateLimiter(client)
		}
	} else {
		limiter = httpx.NewMemoryRateLimiter(ctx)
	}

	router := httpx.NewRouter(
		log,
		ingestSvc,
		repo,
		collector,
		broadcaster,
		httpx.NewJWTVerifier(cfg.JWTSecret),
		limiter,
		pool.Ping,
	)

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     router.Handler(),
		ReadTimeout: 10 * time.Second,
		// No write timeout: the websocket and SSE endpoints hold their
		// response open for the connection lifetime.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("api listening", "addr", cfg.Addr, "env", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown incomplete", "error", err)
	}
	ingestSvc.Wait()
	log.Info("shutdown complete")
	return nil
}
