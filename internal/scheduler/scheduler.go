// Package scheduler runs the periodic reconciliation jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"
)

// JobFunc is one run of a periodic job.
type JobFunc func(ctx context.Context) error

// Scheduler wraps a cron runner. A job that is still running when its next
// tick fires is skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

// New creates a stopped scheduler. Jobs receive a context derived from ctx
// that is cancelled by Stop.
func New(ctx context.Context, log *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		cron:    cron.New(),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]bool),
	}
}

// Add registers fn under name on a cron spec such as "@every 5m" or
// "0 0 * * * *".
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if err := s.cron.AddFunc(spec, func() { s.run(name, fn) }); err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

// Start begins firing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron runner, cancels in-flight jobs and waits for them.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
	s.wg.Wait()
}

// run executes one tick of a job. It reports false when the tick was
// skipped because the previous run has not finished.
func (s *Scheduler) run(name string, fn JobFunc) bool {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.log.Warn("job still running, tick skipped", "job", name)
		return false
	}
	s.running[name] = true
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
		s.wg.Done()
	}()

	start := time.Now()
	if err := fn(s.ctx); err != nil {
		s.log.Error("job failed", "job", name, "duration", time.Since(start), "error", err)
		return true
	}
	s.log.Info("job finished", "job", name, "duration", time.Since(start))
	return true
}
