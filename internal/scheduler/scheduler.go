// Package scheduler drives every known task through its state machine on a
// fixed cadence: SCHEDULED tasks get their render started, COMPLETED tasks
// get packaged.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coldforge/renderfarm/internal/renderer"
	"github.com/coldforge/renderfarm/internal/store"
)

const tickInterval = 500 * time.Millisecond

// Scheduler is the single long-running loop that advances every task in
// the registry. It holds no state of its own beyond the registry
// reference; the renderer logic never calls back into it.
type Scheduler struct {
	registry *renderer.TaskRegistry
	logger   *slog.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wasIdle bool
}

// New returns a Scheduler over registry.
func New(registry *renderer.TaskRegistry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{registry: registry, logger: logger}
}

// Start begins the tick loop in a background goroutine, respecting ctx for
// shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("scheduler started", "interval", tickInterval)
}

// Stop cancels the loop and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick iterates a snapshot of the registry exactly once. SCHEDULED
// supervisors get Render() invoked (non-blocking: the render work runs on
// the supervisor's own dedicated worker); COMPLETED supervisors get
// PackOutput() invoked synchronously — this may block the loop for the
// duration of the tar, which is acceptable because the scheduler is not
// latency-critical for that transition.
func (s *Scheduler) tick(ctx context.Context) {
	snapshot := s.registry.Snapshot()
	if len(snapshot) == 0 {
		if !s.wasIdle {
			s.logger.Debug("scheduler tick: no tasks")
			s.wasIdle = true
		}
		return
	}
	s.wasIdle = false

	for taskID, sup := range snapshot {
		switch sup.State() {
		case store.TaskScheduled:
			sup.Render(ctx)
		case store.TaskCompleted:
			if err := sup.PackOutput(); err != nil {
				s.logger.Error("packaging output failed", "task_id", taskID, "error", err)
			}
		}
	}
}
