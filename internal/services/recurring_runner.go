package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"conti/internal/core"
)

// Materializer is the operation the runner repeats on every tick.
type Materializer interface {
	MaterializeDue(ctx context.Context) (MaterializeResult, error)
}

// RecurringRunnerConfig holds configuration for the recurring runner.
type RecurringRunnerConfig struct {
	// PollInterval is how often due templates are materialized (default: 1h)
	PollInterval time.Duration
}

func DefaultRecurringRunnerConfig() RecurringRunnerConfig {
	return RecurringRunnerConfig{PollInterval: time.Hour}
}

// RecurringRunner periodically materializes due recurring charges for the
// current period.
type RecurringRunner struct {
	target Materializer
	config RecurringRunnerConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRecurringRunner(target Materializer, config RecurringRunnerConfig) *RecurringRunner {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultRecurringRunnerConfig().PollInterval
	}
	return &RecurringRunner{target: target, config: config}
}

// Start begins the loop. Returns an error if already running.
func (r *RecurringRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("recurring runner is already running")
	}
	if r.target == nil {
		r.mu.Unlock()
		return fmt.Errorf("recurring runner has no materializer")
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	go r.runLoop(ctx)

	slog.InfoContext(ctx, "Recurring runner started", "poll_interval", r.config.PollInterval)
	return nil
}

// Stop signals the loop and waits for the current run to finish.
func (r *RecurringRunner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	stopCh, doneCh := r.stopCh, r.doneCh
	r.running = false
	r.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Recurring runner stopped gracefully")
		return nil
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recurring runner stop timed out")
		return ctx.Err()
	}
}

func (r *RecurringRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RecurringRunner) runLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	r.RunOnce(ctx)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single materialization pass. Partial failures are
// logged and retried on the next tick.
func (r *RecurringRunner) RunOnce(ctx context.Context) {
	res, err := r.target.MaterializeDue(ctx)
	switch {
	case errors.Is(err, core.ErrPartialFailure):
		slog.WarnContext(ctx, "Some recurring charges failed, will retry",
			"created", len(res.Created),
			"error", err)
	case err != nil:
		slog.ErrorContext(ctx, "Recurring materialization failed", "error", err)
	case len(res.Created) > 0:
		slog.InfoContext(ctx, "Recurring charges materialized", "created", len(res.Created))
	default:
		slog.DebugContext(ctx, "No recurring charges due")
	}
}
