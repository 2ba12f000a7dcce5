package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiopslab/task-dispatch/internal/api"
	"github.com/aiopslab/task-dispatch/internal/config"
	"github.com/aiopslab/task-dispatch/internal/events"
	"github.com/aiopslab/task-dispatch/internal/executor"
	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/sweeper"
	"github.com/aiopslab/task-dispatch/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel, os.Getenv("ENV") != "production")
	log := logger.Get()
	log.Info().Msg("starting task-queue API server")

	s, err := store.Open(cfg.Database.URL, cfg.Database.QueryTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	redisClient := redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDR")})
	publisher := events.NewRedisPubSub(redisClient)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event publisher")
		}
	}()

	registry := worker.NewRegistry(s, publisher)

	internalExecutor := executor.NewInternalExecutor(s, nil)
	router := executor.NewRouter(internalExecutor)
	if cfg.Orchestrator.Bin != "" {
		router.Register("orchestrator", executor.NewOrchestratorExecutor(s, cfg.Orchestrator.Bin, cfg.Orchestrator.Args))
	}

	manager := worker.NewManager(s, registry, router, publisher, "internal", cfg.Worker.WorkerPollInterval, cfg.Worker.WorkerHeartbeatTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager.Start(ctx)

	if cfg.Worker.AutoStartWorkers {
		if err := manager.Boot(ctx, cfg.Worker.NumInternalWorkers); err != nil {
			log.Fatal().Err(err).Msg("failed to boot internal workers")
		}
	}

	timeoutSweeper := sweeper.New(s, registry, cfg.Worker.TimeoutCheckInterval, cfg.Worker.WorkerHeartbeatTimeout)
	if cfg.Worker.EnableBackgroundTasks {
		go timeoutSweeper.Run(ctx)
	}

	server := api.NewServer(cfg, s, registry, manager, publisher, "0.1.0")

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	server.Start(ctx)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if cfg.Worker.EnableBackgroundTasks {
		timeoutSweeper.Stop()
	}
	manager.Stop(30 * time.Second)
	server.Stop()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
