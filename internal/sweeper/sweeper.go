// Package sweeper implements the Timeout Sweeper (SPEC_FULL.md §4.6): a
// periodic pass that expires running tasks past their timeout_at and marks
// workers offline once their heartbeat lapses, grounded on
// zkoranges-go-claw's RequeueExpiredLeases ticker-loop shape.
package sweeper

import (
	"context"
	"time"

	"github.com/aiopslab/task-dispatch/internal/logger"
	"github.com/aiopslab/task-dispatch/internal/metrics"
	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/worker"
)

// Sweeper runs both expiry passes on a single ticker. Running the pool at a
// fixed cadence keeps the check idempotent: tasks/workers that are already
// past their deadline simply get swept again next tick with no effect.
type Sweeper struct {
	store            *store.Store
	registry         *worker.Registry
	interval         time.Duration
	heartbeatTimeout time.Duration

	stop chan struct{}
	done chan struct{}
}

func New(s *store.Store, registry *worker.Registry, interval, heartbeatTimeout time.Duration) *Sweeper {
	return &Sweeper{
		store:            s,
		registry:         registry,
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// Run blocks, ticking until Stop is called or ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

// Stop signals Run to exit and blocks until it does.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	expired, err := s.store.ExpireRunning(ctx, time.Now().UTC())
	if err != nil {
		logger.Error().Err(err).Msg("timeout sweep failed")
	} else if len(expired) > 0 {
		logger.Info().Int("count", len(expired)).Msg("expired timed-out tasks")
		metrics.TasksTimedOut.Add(float64(len(expired)))
	}

	offline, err := s.registry.SweepLiveness(ctx, s.heartbeatTimeout)
	if err != nil {
		logger.Error().Err(err).Msg("liveness sweep failed")
		return
	}
	if len(offline) > 0 {
		metrics.RecordWorkersOfflined(len(offline))
	}
}
