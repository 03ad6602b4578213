package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EffectReplayer re-dispatches critical side effects missing from the ledger
type EffectReplayer interface {
	ReplayPendingEffects(ctx context.Context, limit int) (int, error)
}

// ReconcilerConfig holds configuration for the dispatch reconciler
type ReconcilerConfig struct {
	Interval  time.Duration
	BatchSize int
	Timeout   time.Duration
}

// DefaultReconcilerConfig returns default configuration
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:  time.Minute,
		BatchSize: 100,
		Timeout:   30 * time.Second,
	}
}

// DispatchReconciler periodically replays side effects for documents that
// reached a triggering status without a ledger entry
type DispatchReconciler struct {
	config   ReconcilerConfig
	replayer EffectReplayer
	logger   *zap.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	runs      int
	replayed  int
	lastError error
}

// NewDispatchReconciler creates a new dispatch reconciler
func NewDispatchReconciler(config ReconcilerConfig, replayer EffectReplayer, logger *zap.Logger) *DispatchReconciler {
	defaults := DefaultReconcilerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &DispatchReconciler{
		config:   config,
		replayer: replayer,
		logger:   logger,
	}
}

// Start runs one pass immediately and then one per interval
func (r *DispatchReconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isRunning {
		return fmt.Errorf("dispatch reconciler already running")
	}

	var loopCtx context.Context
	loopCtx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.isRunning = true

	r.logger.Info("DispatchReconciler started",
		zap.Duration("interval", r.config.Interval),
		zap.Int("batch_size", r.config.BatchSize))

	go r.loop(loopCtx, r.done)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish
func (r *DispatchReconciler) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done

	r.logger.Info("DispatchReconciler stopped", zap.Int("replayed", r.Stats().Processed))
	return nil
}

// Name returns the worker name for identification
func (r *DispatchReconciler) Name() string {
	return "DispatchReconciler"
}

// Stats returns a snapshot of the reconciler's progress
func (r *DispatchReconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{Name: r.Name(), Running: r.isRunning, Runs: r.runs, Processed: r.replayed}
	if r.lastError != nil {
		s.LastError = r.lastError.Error()
	}
	return s
}

func (r *DispatchReconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation pass
func (r *DispatchReconciler) RunOnce(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	n, err := r.replayer.ReplayPendingEffects(passCtx, r.config.BatchSize)

	r.mu.Lock()
	r.runs++
	r.replayed += n
	r.lastError = err
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("Side effect reconciliation failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("Replayed pending side effects", zap.Int("documents", n))
	}
}
