// Command worker is a standalone external worker: it registers itself with
// the task dispatch engine over HTTP as an orchestrator-kind backend and
// polls for claimable tasks, the way an AIOpsLab cluster-side worker does
// when it cannot run inside the API server's process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/pkg/client"
)

func main() {
	logLevel := getEnv("LOG_LEVEL", "info")
	logger.Init(logLevel, os.Getenv("ENV") != "production")
	log := logger.Get()

	baseURL := getEnv("TASKQUEUE_URL", "http://localhost:8080")
	backendType := getEnv("WORKER_BACKEND_TYPE", "orchestrator")
	workerID := getEnv("WORKER_ID", fmt.Sprintf("worker-100-%s", uuid.New().String()[:8]))
	pollInterval := getEnvDuration("WORKER_POLL_INTERVAL", 2*time.Second)
	heartbeatInterval := getEnvDuration("WORKER_HEARTBEAT_INTERVAL", 5*time.Second)

	c, err := client.New(baseURL, client.WithTimeout(30*time.Second))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build client")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := client.RegisterWorkerRequest{WorkerID: workerID, BackendType: backendType}
	reg.Capabilities.MaxParallelTasks = 1
	if _, err := c.RegisterWorker(ctx, reg); err != nil {
		log.Fatal().Err(err).Msg("failed to register worker")
	}
	log.Info().Str("worker_id", workerID).Str("backend_type", backendType).Msg("worker registered")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go heartbeatLoop(ctx, c, workerID, heartbeatInterval)

	pollTicker := time.NewTicker(pollInterval)
	defer pollTicker.Stop()

	for {
		select {
		case <-quit:
			log.Info().Msg("shutting down worker")
			return
		case <-pollTicker.C:
			claimAndRun(ctx, c, workerID)
		}
	}
}

// claimAndRun polls for a task and runs it to completion. Real orchestrator
// work happens out-of-process via ORCHESTRATOR_BIN on the API server side;
// this external worker path exists for clusters that can only reach the
// queue over HTTP, so completion here is a pass-through stub pending a
// pluggable runner.
func claimAndRun(ctx context.Context, c *client.TaskQueueClient, workerID string) {
	t, err := c.ClaimTask(ctx, workerID)
	if err != nil {
		logger.WithWorker(workerID).Warn().Err(err).Msg("claim failed")
		return
	}
	if t == nil {
		return
	}

	l := logger.WithWorker(workerID)
	l.Info().Str("task_id", t.ID).Str("problem_id", t.ProblemID).Msg("claimed task")

	if err := c.CompleteTask(ctx, workerID, t.ID, map[string]interface{}{"stub": true}); err != nil {
		l.Error().Err(err).Str("task_id", t.ID).Msg("failed to report completion")
	}
}

func heartbeatLoop(ctx context.Context, c *client.TaskQueueClient, workerID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(ctx, workerID, "idle", nil); err != nil {
				logger.WithWorker(workerID).Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
