package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultOverdueSchedule runs the sweep once a day at midnight
const DefaultOverdueSchedule = "@daily"

// OverdueMarker marks unpaid invoices past their due date as overdue
type OverdueMarker interface {
	SweepOverdue(ctx context.Context, limit int) (int, error)
}

// OverdueSweeper runs the overdue sweep on a cron schedule
type OverdueSweeper struct {
	schedule  cron.Schedule
	expr      string
	batchSize int
	timeout   time.Duration
	marker    OverdueMarker
	logger    *zap.Logger

	mu        sync.Mutex
	scheduler *cron.Cron
	ctx       context.Context
	runs      int
	marked    int
	lastError error
}

// NewOverdueSweeper parses expr as a standard five-field cron expression or
// descriptor such as @daily
func NewOverdueSweeper(expr string, batchSize int, marker OverdueMarker, logger *zap.Logger) (*OverdueSweeper, error) {
	if expr == "" {
		expr = DefaultOverdueSchedule
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid overdue schedule %q: %w", expr, err)
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &OverdueSweeper{
		schedule:  schedule,
		expr:      expr,
		batchSize: batchSize,
		timeout:   5 * time.Minute,
		marker:    marker,
		logger:    logger,
	}, nil
}

// Start registers the sweep with a fresh scheduler and starts it
func (s *OverdueSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scheduler != nil {
		return fmt.Errorf("overdue sweeper already running")
	}

	s.ctx = ctx
	s.scheduler = cron.New()
	s.scheduler.Schedule(s.schedule, cron.FuncJob(func() {
		s.RunOnce(s.runContext())
	}))
	s.scheduler.Start()

	s.logger.Info("OverdueSweeper started",
		zap.String("schedule", s.expr),
		zap.Time("next_run", s.schedule.Next(time.Now())))
	return nil
}

// Stop halts the scheduler and waits for a running sweep
func (s *OverdueSweeper) Stop() error {
	s.mu.Lock()
	scheduler := s.scheduler
	s.scheduler = nil
	s.mu.Unlock()

	if scheduler == nil {
		return nil
	}
	<-scheduler.Stop().Done()

	s.logger.Info("OverdueSweeper stopped", zap.Int("marked", s.Stats().Processed))
	return nil
}

// Name returns the worker name for identification
func (s *OverdueSweeper) Name() string {
	return "OverdueSweeper"
}

// Stats returns a snapshot of the sweeper's progress
func (s *OverdueSweeper) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Name: s.Name(), Running: s.scheduler != nil, Runs: s.runs, Processed: s.marked}
	if s.lastError != nil {
		st.LastError = s.lastError.Error()
	}
	return st
}

func (s *OverdueSweeper) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// RunOnce performs a single sweep
func (s *OverdueSweeper) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.marker.SweepOverdue(sweepCtx, s.batchSize)

	s.mu.Lock()
	s.runs++
	s.marked += n
	s.lastError = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Overdue sweep failed", zap.Error(err))
		return
	}
	s.logger.Info("Overdue sweep finished", zap.Int("marked", n))
}
