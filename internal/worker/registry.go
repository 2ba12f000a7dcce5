// Package worker implements the Worker Registry (SPEC_FULL.md §4.3) and
// Worker Manager (§4.4): registration/heartbeat bookkeeping and the pool of
// claim loops that drive in-process workers.
package worker

import (
	"context"
	"time"

	"github.com/aiopslab/task-dispatch/internal/events"
	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/store"
)

// Registry is a thin, validating façade over the store's worker table. It
// exists as its own component so the Manager and the HTTP layer share one
// place that enforces the id format and emits join/leave events, instead of
// each calling the store directly.
type Registry struct {
	store     *store.Store
	publisher *events.RedisPubSub
}

func NewRegistry(s *store.Store, publisher *events.RedisPubSub) *Registry {
	return &Registry{store: s, publisher: publisher}
}

func (r *Registry) Register(ctx context.Context, w *store.Worker) error {
	if err := store.ValidateWorkerID(w.ID); err != nil {
		return err
	}
	if err := r.store.RegisterWorker(ctx, w); err != nil {
		return err
	}
	r.publish(ctx, events.EventWorkerJoined, w.ID, "idle", nil)
	logger.WithWorker(w.ID).Info().Str("backend_type", w.BackendType).Msg("worker registered")
	return nil
}

func (r *Registry) Heartbeat(ctx context.Context, workerID, status string, currentTaskID *string) error {
	return r.store.Heartbeat(ctx, workerID, status, currentTaskID)
}

func (r *Registry) Get(ctx context.Context, id string) (*store.Worker, error) {
	return r.store.GetWorker(ctx, id)
}

func (r *Registry) List(ctx context.Context) ([]*store.Worker, error) {
	return r.store.ListWorkers(ctx)
}

func (r *Registry) Deregister(ctx context.Context, id string) error {
	if err := r.store.DeregisterWorker(ctx, id); err != nil {
		return err
	}
	r.publish(ctx, events.EventWorkerLeft, id, "offline", nil)
	return nil
}

// SweepLiveness marks workers offline once their heartbeat lapses past
// timeout, per SPEC_FULL.md §4.3/§4.6.
func (r *Registry) SweepLiveness(ctx context.Context, timeout time.Duration) ([]string, error) {
	offline, err := r.store.SweepWorkerLiveness(ctx, timeout, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	for _, id := range offline {
		r.publish(ctx, events.EventWorkerLeft, id, "offline", map[string]interface{}{"reason": "heartbeat_timeout"})
		logger.WithWorker(id).Warn().Msg("worker marked offline after missed heartbeats")
	}
	return offline, nil
}

func (r *Registry) publish(ctx context.Context, eventType events.EventType, workerID, state string, extra map[string]interface{}) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishWorkerEvent(ctx, eventType, workerID, state, extra); err != nil {
		logger.Warn().Err(err).Str("worker_id", workerID).Msg("failed to publish worker event")
	}
}
