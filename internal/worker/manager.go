package worker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/aiopslab/task-dispatch/internal/apperror"
	"github.com/aiopslab/task-dispatch/internal/events"
	"github.com/aiopslab/task-dispatch/internal/executor"
	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/metrics"
	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/task"
)

// LoopState is a single claim loop's local lifecycle, per SPEC_FULL.md §4.4:
// starting -> idle <-> claiming <-> busy -> draining -> stopped. The Store
// remains authoritative for anything an external observer should see; this
// is purely the goroutine's own bookkeeping.
type LoopState int

const (
	LoopStarting LoopState = iota
	LoopIdle
	LoopClaiming
	LoopBusy
	LoopDraining
	LoopStopped
)

// MaxWorkers bounds SetCount per SPEC_FULL.md §6's scale endpoint.
const MaxWorkers = 50

// Manager owns the pool of in-process worker loops: boot, claim, scale,
// drain. Grounded on the teacher's internal/worker/pool.go, with the claim
// source swapped from a Redis stream to store.ClaimNext.
type Manager struct {
	store       *store.Store
	registry    *Registry
	router      *executor.Router
	publisher   *events.RedisPubSub
	backendType string

	pollInterval     time.Duration
	heartbeatTimeout time.Duration

	mu      sync.Mutex
	loops   map[string]*loop
	nextID  int
	wg      sync.WaitGroup
	baseCtx context.Context
}

type loop struct {
	id       string
	cancel   context.CancelFunc
	stateMu  sync.RWMutex
	state    LoopState
	draining bool
}

func (l *loop) setState(s LoopState) {
	l.stateMu.Lock()
	l.state = s
	l.stateMu.Unlock()
}

func NewManager(s *store.Store, registry *Registry, router *executor.Router, publisher *events.RedisPubSub, backendType string, pollInterval, heartbeatTimeout time.Duration) *Manager {
	return &Manager{
		store:            s,
		registry:         registry,
		router:           router,
		publisher:        publisher,
		backendType:      backendType,
		pollInterval:     pollInterval,
		heartbeatTimeout: heartbeatTimeout,
		loops:            make(map[string]*loop),
		baseCtx:          context.Background(),
	}
}

// Start records the lifecycle context that claim loops run under, independent
// of whatever request context triggers Boot/SetCount later. Call once, before
// Boot, with the same long-lived context main's shutdown sequence cancels.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// Boot spawns n logical workers (worker-001-<backendType> ... worker-NNN-...).
func (m *Manager) Boot(ctx context.Context, n int) error {
	return m.SetCount(ctx, n)
}

// SetCount scales the pool to exactly n loops. An n outside [0, MaxWorkers]
// is rejected with a validation error and the pool is left unchanged.
func (m *Manager) SetCount(ctx context.Context, n int) error {
	if n < 0 || n > MaxWorkers {
		return apperror.Validation("num_workers must be between 0 and %d, got %d", MaxWorkers, n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := len(m.loops)
	switch {
	case n > current:
		for i := current; i < n; i++ {
			m.nextID++
			id := fmt.Sprintf("worker-%03d-%s", m.nextID, m.backendType)
			m.spawnLocked(ctx, id)
		}
	case n < current:
		toRemove := current - n
		for id, lp := range m.loops {
			if toRemove == 0 {
				break
			}
			lp.setState(LoopDraining)
			lp.cancel()
			delete(m.loops, id)
			toRemove--
		}
	}
	metrics.SetActiveWorkers(float64(len(m.loops)))
	return nil
}

// spawnLocked registers and starts a loop. ctx bounds only the synchronous
// registration call; the loop itself runs under the manager's base lifecycle
// context so it outlives whatever HTTP request triggered the spawn.
func (m *Manager) spawnLocked(ctx context.Context, id string) {
	loopCtx, cancel := context.WithCancel(m.baseCtx)
	lp := &loop{id: id, cancel: cancel, state: LoopStarting}
	m.loops[id] = lp

	if err := m.registry.Register(ctx, &store.Worker{
		ID:               id,
		BackendType:      m.backendType,
		MaxParallelTasks: 1,
	}); err != nil {
		logger.WithWorker(id).Error().Err(err).Msg("failed to register worker")
		lp.setState(LoopStopped)
		return
	}

	m.wg.Add(1)
	go m.run(loopCtx, lp)
}

// Stop drains every loop, waiting up to timeout before giving up.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	for _, lp := range m.loops {
		lp.setState(LoopDraining)
		lp.cancel()
	}
	m.loops = make(map[string]*loop)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn().Msg("worker manager shutdown timed out, some loops may still be running")
	}
}

// Status summarizes the manager for GET /workers/internal/status.
type Status struct {
	Count       int    `json:"count"`
	BackendType string `json:"backend_type"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{Count: len(m.loops), BackendType: m.backendType}
}

func (m *Manager) run(ctx context.Context, lp *loop) {
	defer m.wg.Done()
	defer lp.setState(LoopStopped)

	jitter := time.Duration(rand.Int63n(int64(m.pollInterval)))
	timer := time.NewTimer(jitter)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		timer.Reset(m.pollInterval)

		lp.setState(LoopClaiming)
		if err := m.registry.Heartbeat(ctx, lp.id, store.WorkerIdle, nil); err != nil {
			logger.WithWorker(lp.id).Warn().Err(err).Msg("heartbeat failed")
		}

		claimed, err := m.store.ClaimNext(ctx, lp.id, m.backendType, nil)
		if err != nil {
			logger.WithWorker(lp.id).Error().Err(err).Msg("claim failed")
			lp.setState(LoopIdle)
			continue
		}
		if claimed == nil {
			lp.setState(LoopIdle)
			continue
		}

		lp.setState(LoopBusy)
		m.execute(ctx, lp, claimed)
		lp.setState(LoopIdle)
	}
}

func (m *Manager) execute(ctx context.Context, lp *loop, t *task.Task) {
	log := logger.WithWorker(lp.id)
	log.Info().Str("task_id", t.ID).Str("problem_id", t.ProblemID).Msg("claimed task")
	m.publish(ctx, events.EventTaskStarted, t.ID, t.ProblemID, nil)

	taskID := t.ID
	heartbeatStop := make(chan struct{})
	go m.heartbeatWhileBusy(lp.id, taskID, heartbeatStop)
	defer close(heartbeatStop)

	execCtx := ctx
	var cancel context.CancelFunc
	if minutes := t.TimeoutMinutes(); minutes > 0 {
		execCtx, cancel = context.WithTimeout(ctx, time.Duration(minutes*float64(time.Minute)))
		defer cancel()
	}

	start := time.Now()
	result, err := m.router.Execute(execCtx, t, lp.id)
	duration := time.Since(start).Seconds()

	if err != nil {
		appErr, _ := apperror.As(err)
		status := "failed"
		eventType := events.EventTaskFailed

		if appErr != nil && appErr.Kind == apperror.KindTimeout {
			status = "timeout"
			eventType = events.EventTaskTimeout
			if timeoutErr := m.store.TimeoutTask(ctx, taskID, lp.id); timeoutErr != nil {
				log.Error().Err(timeoutErr).Str("task_id", taskID).Msg("failed to record task timeout")
			}
		} else {
			errDetails := map[string]interface{}{"message": err.Error()}
			if appErr != nil {
				errDetails["kind"] = string(appErr.Kind)
			}
			if failErr := m.store.FailTask(ctx, taskID, lp.id, errDetails); failErr != nil {
				log.Error().Err(failErr).Str("task_id", taskID).Msg("failed to record task failure")
			}
		}

		metrics.RecordTaskCompletion(t.ProblemID, status, duration)
		m.publish(ctx, eventType, taskID, t.ProblemID, map[string]interface{}{"error": err.Error()})
		return
	}

	if completeErr := m.store.CompleteTask(ctx, taskID, lp.id, result); completeErr != nil {
		log.Error().Err(completeErr).Str("task_id", taskID).Msg("failed to record task completion")
		return
	}
	metrics.RecordTaskCompletion(t.ProblemID, "completed", duration)
	m.publish(ctx, events.EventTaskCompleted, taskID, t.ProblemID, nil)
}

func (m *Manager) heartbeatWhileBusy(workerID, taskID string, stop <-chan struct{}) {
	interval := m.heartbeatTimeout / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			id := taskID
			if err := m.registry.Heartbeat(context.Background(), workerID, store.WorkerBusy, &id); err != nil {
				logger.WithWorker(workerID).Warn().Err(err).Msg("busy heartbeat failed")
			}
		}
	}
}

func (m *Manager) publish(ctx context.Context, eventType events.EventType, taskID, problemID string, extra map[string]interface{}) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishTaskEvent(ctx, eventType, taskID, problemID, "", extra); err != nil {
		logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to publish task event")
	}
}
