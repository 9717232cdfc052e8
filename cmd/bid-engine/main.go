package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/bid-engine/internal/api"
	"github.com/terra-clan/bid-engine/internal/config"
	"github.com/terra-clan/bid-engine/internal/engine"
	"github.com/terra-clan/bid-engine/internal/health"
	"github.com/terra-clan/bid-engine/internal/notify"
	"github.com/terra-clan/bid-engine/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("starting bid-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
		"redis", cfg.Redis.Enabled,
	)

	if err := run(cfg); err != nil {
		slog.Error("bid-engine exited with error", "error", err)
		os.Exit(1)
	}

	slog.Info("bid-engine stopped")
}

func run(cfg *config.Config) error {
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	registry := health.NewRegistry(2 * time.Second)

	repo, err := openRepository(initCtx, cfg)
	if err != nil {
		return err
	}
	defer repo.Close()
	registry.Register("storage", health.CheckerFunc(repo.Ping))

	emitter, err := openEmitter(initCtx, cfg, registry)
	if err != nil {
		return err
	}
	defer emitter.Close()

	dispatcher := notify.NewDispatcher(emitter, cfg.Notify.QueueSize, cfg.Notify.PublishTimeout)
	svc := engine.New(repo, dispatcher)

	server := api.NewServer(cfg.Server, cfg.Auth, svc, registry)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the dispatcher outlives the HTTP server so events from in-flight requests are still drained
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatcher.Run(dispatchCtx)
	})

	g.Go(func() error {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		}
		stopDispatch()
		return nil
	})

	return g.Wait()
}

func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		slog.Info("running database migrations")
		if err := storage.RunMigrations(ctx, cfg.Database.DSN); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		repo, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:          cfg.Database.DSN,
			MaxOpenConns: int32(cfg.Database.MaxOpenConns),
			MaxIdleConns: int32(cfg.Database.MaxIdleConns),
			LockTimeout:  cfg.Engine.LockTimeout,
			LockRetries:  cfg.Engine.LockRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create database repository: %w", err)
		}
		slog.Info("database connected successfully")
		return repo, nil
	default:
		slog.Warn("using in-memory storage, data will not survive restarts")
		return storage.NewMemoryRepository(cfg.Engine.LockTimeout), nil
	}
}

func openEmitter(ctx context.Context, cfg *config.Config, registry *health.Registry) (notify.Emitter, error) {
	if !cfg.Redis.Enabled {
		return notify.LogEmitter{}, nil
	}

	emitter, err := notify.NewRedisEmitter(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis emitter: %w", err)
	}
	registry.Register("redis", emitter)
	slog.Info("publishing events to redis stream", "stream", cfg.Redis.Stream)
	return emitter, nil
}
