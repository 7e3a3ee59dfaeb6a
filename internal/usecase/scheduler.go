package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"TrialSync/internal/domain"
	"TrialSync/internal/metrics"
	"TrialSync/internal/ports"
)

const defaultInterval = 5 * time.Minute

// Scheduler wires the interval driver with the reconciliation engine. At
// most one pass runs at a time: ticks and triggers that land while a pass
// is in flight are skipped, never queued.
type Scheduler struct {
	driver   ports.SyncDriver
	engine   *Reconciler
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	running    bool
	paused     bool
	inFlight   bool
	nextRun    time.Time
	lastResult *domain.SyncResult
	passDone   chan struct{}
	cancelPass context.CancelFunc
	baseCtx    context.Context
}

// NewScheduler returns the sync loop coordinator.
func NewScheduler(driver ports.SyncDriver, engine *Reconciler, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:   driver,
		engine:   engine,
		interval: interval,
		logger:   logger,
	}
}

// Start registers the pass job with the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.engine == nil {
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.running = true
	s.baseCtx = ctx
	s.nextRun = time.Now().Add(s.interval)
	s.mu.Unlock()

	return s.driver.Start(ctx, s.onTick)
}

// Stop halts the driver and cancels any in-flight pass.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.nextRun = time.Time{}
	cancel := s.cancelPass
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.driver == nil {
		return nil
	}
	return s.driver.Stop(ctx)
}

// TriggerImmediate starts a pass right away and returns without waiting
// for it. It reports whether a new pass was started.
func (s *Scheduler) TriggerImmediate() bool {
	started := s.tryRun()
	if !started {
		s.logger.Info("immediate trigger skipped, pass already running")
	}
	return started
}

// TriggerAndWait runs a pass and blocks until it finishes. When a pass is
// already in flight it waits for that one instead of queuing another.
func (s *Scheduler) TriggerAndWait(ctx context.Context) (domain.SyncResult, error) {
	done, claimed, runCtx := s.claimPass()
	if claimed {
		go s.runPass(runCtx, done)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return domain.SyncResult{}, ctx.Err()
	}

	s.mu.Lock()
	last := s.lastResult
	s.mu.Unlock()
	if last == nil {
		return domain.SyncResult{}, errors.New("sync pass finished without a result")
	}
	return *last, nil
}

// Pause suspends scheduled passes. Manual triggers still run.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.logger.Info("scheduled passes paused")
}

// Resume re-enables scheduled passes.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.logger.Info("scheduled passes resumed")
}

// Status snapshots the sync loop for operators.
func (s *Scheduler) Status() domain.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := domain.SchedulerStatus{
		IsRunning:      s.running,
		Paused:         s.paused,
		SyncInProgress: s.inFlight,
	}
	if s.running && !s.nextRun.IsZero() {
		next := s.nextRun
		status.NextRunTime = &next
	}
	if s.lastResult != nil {
		last := *s.lastResult
		status.LastSync = &last
	}
	return status
}

func (s *Scheduler) onTick(tick time.Time) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Debug("tick ignored after stop")
		return
	}
	s.nextRun = tick.Add(s.interval)
	paused := s.paused
	s.mu.Unlock()

	if paused {
		s.logger.Debug("tick ignored while paused")
		return
	}
	if !s.tryRun() {
		s.logger.Info("tick skipped, previous pass still running")
		metrics.TicksSkipped.Inc()
	}
}

func (s *Scheduler) tryRun() bool {
	done, claimed, runCtx := s.claimPass()
	if !claimed {
		return false
	}
	go s.runPass(runCtx, done)
	return true
}

// claimPass reserves the single pass slot under the lock. When a pass is
// already in flight it returns that pass's done channel with claimed
// false; callers that need to wait select on the channel.
func (s *Scheduler) claimPass() (done chan struct{}, claimed bool, runCtx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return s.passDone, false, nil
	}

	base := s.baseCtx
	if base == nil {
		base = context.Background()
	}
	runCtx, cancel := context.WithCancel(base)

	s.inFlight = true
	s.passDone = make(chan struct{})
	s.cancelPass = cancel
	return s.passDone, true, runCtx
}

// runPass executes one reconciliation pass. A panic inside the engine is
// logged and absorbed so the loop keeps firing.
func (s *Scheduler) runPass(ctx context.Context, done chan struct{}) {
	started := time.Now()
	metrics.SyncInProgress.Set(1)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync pass panicked", "panic", r)
			metrics.SyncPasses.WithLabelValues("panic").Inc()
		}
		metrics.SyncInProgress.Set(0)
		metrics.PassDuration.Observe(time.Since(started).Seconds())

		s.mu.Lock()
		if s.cancelPass != nil {
			s.cancelPass()
			s.cancelPass = nil
		}
		s.inFlight = false
		s.mu.Unlock()
		close(done)
	}()

	result, err := s.engine.SyncAllTrials(ctx)
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now().UTC()
	}
	if err != nil {
		s.logger.Error("sync pass failed", "error", err)
		result.AddError(domain.SyncError{Message: err.Error()})
		metrics.SyncPasses.WithLabelValues("error").Inc()
	} else {
		metrics.SyncPasses.WithLabelValues("ok").Inc()
	}
	recordFileMetrics(result)
	metrics.LastPassUnix.Set(float64(result.CompletedAt.Unix()))

	s.mu.Lock()
	s.lastResult = &result
	s.mu.Unlock()
}

func recordFileMetrics(result domain.SyncResult) {
	metrics.FilesProcessed.WithLabelValues("new").Add(float64(result.NewFiles))
	metrics.FilesProcessed.WithLabelValues("updated").Add(float64(result.UpdatedFiles))
	metrics.FilesProcessed.WithLabelValues("deleted").Add(float64(result.DeletedFiles))
	metrics.FilesProcessed.WithLabelValues("skipped").Add(float64(result.SkippedFiles))
	metrics.FilesProcessed.WithLabelValues("failed").Add(float64(result.FailedFiles))
}
