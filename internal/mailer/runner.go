package mailer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RunnerConfig contains runner configuration.
type RunnerConfig struct {
	// PollInterval is how often the queue is ticked.
	PollInterval time.Duration
	// CleanupInterval is how often old failed items are purged.
	CleanupInterval time.Duration
	// CleanupMaxAge is the failed-item retention threshold.
	CleanupMaxAge time.Duration
}

// DefaultRunnerConfig returns default runner configuration.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval:    10 * time.Second,
		CleanupInterval: 1 * time.Hour,
		CleanupMaxAge:   24 * time.Hour,
	}
}

// Runner is the periodic trigger driving the queue: it ticks the drain
// loop on a short interval and runs cleanup on a longer one. The queue
// itself never self-schedules.
type Runner struct {
	config RunnerConfig
	queue  *Queue

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a runner for the given queue.
func NewRunner(config RunnerConfig, queue *Queue) *Runner {
	def := DefaultRunnerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.CleanupMaxAge <= 0 {
		config.CleanupMaxAge = def.CleanupMaxAge
	}

	return &Runner{
		config: config,
		queue:  queue,
		stopCh: make(chan struct{}),
	}
}

// Start launches the trigger goroutine.
func (r *Runner) Start(ctx context.Context) {
	slog.Info("starting queue runner",
		"poll_interval", r.config.PollInterval,
		"cleanup_interval", r.config.CleanupInterval,
		"cleanup_max_age", r.config.CleanupMaxAge,
	)

	r.wg.Add(1)
	go r.run(ctx)
}

// Stop gracefully stops the runner. An in-flight drain pass finishes
// its current item; no new passes start.
func (r *Runner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	slog.Info("queue runner stopped")
}

func (r *Runner) run(ctx context.Context) {
	defer r.wg.Done()

	tick := time.NewTicker(r.config.PollInterval)
	defer tick.Stop()

	cleanup := time.NewTicker(r.config.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-tick.C:
			r.queue.Tick(ctx)
		case <-cleanup.C:
			r.queue.Cleanup(r.config.CleanupMaxAge)
		}
	}
}
