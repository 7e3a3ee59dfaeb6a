package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TrialSync/internal/domain"
	"TrialSync/internal/ports"
	"TrialSync/pkg/retry"
)

type stubGateway struct{}

func (stubGateway) ListTrials(context.Context) ([]string, error) { return nil, nil }

func (stubGateway) ListFiles(context.Context, string) ([]domain.RemoteObject, error) {
	return nil, nil
}

func (stubGateway) Download(context.Context, string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (stubGateway) ContentHash(string) (string, error) { return "", errors.New("not implemented") }

func (stubGateway) Exists(context.Context, string) (bool, error) { return false, nil }

// slowGateway blocks inside the trial listing until released, keeping a
// pass in flight for as long as a test needs.
type slowGateway struct {
	stubGateway
	release chan struct{}
	calls   atomic.Int32
}

func (g *slowGateway) ListTrials(ctx context.Context) ([]string, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type panicOnceGateway struct {
	stubGateway
	calls atomic.Int32
}

func (g *panicOnceGateway) ListTrials(ctx context.Context) ([]string, error) {
	if g.calls.Add(1) == 1 {
		panic("trial listing exploded")
	}
	return nil, nil
}

type countingGateway struct {
	stubGateway
	calls atomic.Int32
}

func (g *countingGateway) ListTrials(ctx context.Context) ([]string, error) {
	g.calls.Add(1)
	return nil, nil
}

type fakeDriver struct {
	mu      sync.Mutex
	job     func(time.Time)
	started bool
	stopped bool
}

var _ ports.SyncDriver = (*fakeDriver)(nil)

func (d *fakeDriver) Start(ctx context.Context, job func(time.Time)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	d.job = job
	return nil
}

func (d *fakeDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func (d *fakeDriver) fire(tick time.Time) {
	d.mu.Lock()
	job := d.job
	d.mu.Unlock()
	if job != nil {
		job(tick)
	}
}

func (d *fakeDriver) isStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *fakeDriver) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, gw ports.ObjectGateway, driver ports.SyncDriver) *Scheduler {
	t.Helper()
	rec := NewReconciler(ReconcilerDeps{
		Gateway:  gw,
		Tracking: newFakeTracking(),
		Index:    newFakeIndex(),
		Analyzer: newFakeAnalyzer(),
		WorkDir:  t.TempDir(),
		Retry:    retry.Policy{Attempts: 1},
		Logger:   discardLogger(),
	})
	return NewScheduler(driver, rec, time.Minute, discardLogger())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTriggerImmediateSingleFlight(t *testing.T) {
	t.Parallel()

	gw := &slowGateway{release: make(chan struct{})}
	sched := newTestScheduler(t, gw, nil)

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sched.TriggerImmediate() {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	if started.Load() != 1 {
		t.Fatalf("expected exactly one pass to start, got %d", started.Load())
	}
	if !sched.Status().SyncInProgress {
		t.Fatal("expected a pass in flight")
	}

	close(gw.release)
	waitFor(t, func() bool { return !sched.Status().SyncInProgress })

	if gw.calls.Load() != 1 {
		t.Fatalf("expected one engine invocation, got %d", gw.calls.Load())
	}
}

func TestTriggerAndWaitReturnsResult(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	gw := newFakeGateway("trial-data")
	gw.put("oncology-a", "patients.csv", []byte("patient_id\n1\n"), "e1", now)

	rec := newTestReconciler(t, gw, newFakeTracking(), newFakeIndex(), newFakeAnalyzer())
	sched := NewScheduler(nil, rec, time.Minute, discardLogger())

	result, err := sched.TriggerAndWait(context.Background())
	if err != nil {
		t.Fatalf("TriggerAndWait error: %v", err)
	}

	if result.TrialsSynced != 1 || result.NewFiles != 1 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.RunID == "" {
		t.Fatal("expected a run id")
	}

	status := sched.Status()
	if status.LastSync == nil || status.LastSync.RunID != result.RunID {
		t.Fatalf("status does not carry the last result: %+v", status.LastSync)
	}
}

func TestTriggerAndWaitJoinsRunningPass(t *testing.T) {
	t.Parallel()

	gw := &slowGateway{release: make(chan struct{})}
	sched := newTestScheduler(t, gw, nil)

	if !sched.TriggerImmediate() {
		t.Fatal("first trigger should start a pass")
	}
	waitFor(t, func() bool { return gw.calls.Load() == 1 })

	errCh := make(chan error, 1)
	go func() {
		_, err := sched.TriggerAndWait(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-errCh:
		t.Fatal("TriggerAndWait returned before the pass finished")
	default:
	}

	close(gw.release)
	if err := <-errCh; err != nil {
		t.Fatalf("TriggerAndWait error: %v", err)
	}
	if gw.calls.Load() != 1 {
		t.Fatalf("waiter started a second pass, %d invocations", gw.calls.Load())
	}
}

func TestTriggerAndWaitHonorsContext(t *testing.T) {
	t.Parallel()

	gw := &slowGateway{release: make(chan struct{})}
	t.Cleanup(func() { close(gw.release) })
	sched := newTestScheduler(t, gw, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if _, err := sched.TriggerAndWait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestPauseGatesTicksNotTriggers(t *testing.T) {
	t.Parallel()

	gw := &slowGateway{release: make(chan struct{})}
	sched := newTestScheduler(t, gw, &fakeDriver{})
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	sched.Pause()
	sched.onTick(time.Now())
	if sched.Status().SyncInProgress {
		t.Fatal("paused tick started a pass")
	}
	if gw.calls.Load() != 0 {
		t.Fatalf("paused tick reached the engine, %d invocations", gw.calls.Load())
	}

	if !sched.TriggerImmediate() {
		t.Fatal("manual trigger must bypass pause")
	}
	waitFor(t, func() bool { return gw.calls.Load() == 1 })
	close(gw.release)
	waitFor(t, func() bool { return !sched.Status().SyncInProgress })

	sched.Resume()
	sched.onTick(time.Now())
	waitFor(t, func() bool { return gw.calls.Load() == 2 })
}

func TestSchedulerRunsViaDriver(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	gw := newFakeGateway("trial-data")
	gw.put("oncology-a", "patients.csv", []byte("patient_id\n1\n"), "e1", now)

	driver := &fakeDriver{}
	rec := newTestReconciler(t, gw, newFakeTracking(), newFakeIndex(), newFakeAnalyzer())
	sched := NewScheduler(driver, rec, time.Minute, discardLogger())

	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if !driver.isStarted() {
		t.Fatal("driver was not started")
	}
	if err := sched.Start(ctx); err == nil {
		t.Fatal("second start must fail")
	}

	status := sched.Status()
	if !status.IsRunning || status.NextRunTime == nil {
		t.Fatalf("unexpected status after start: %+v", status)
	}

	tick := time.Now()
	driver.fire(tick)
	waitFor(t, func() bool {
		s := sched.Status()
		return !s.SyncInProgress && s.LastSync != nil
	})

	status = sched.Status()
	if status.LastSync.NewFiles != 1 {
		t.Fatalf("unexpected last sync: %+v", status.LastSync)
	}
	if status.NextRunTime == nil || !status.NextRunTime.Equal(tick.Add(time.Minute)) {
		t.Fatalf("next run not advanced from the tick: %v", status.NextRunTime)
	}

	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if !driver.isStopped() {
		t.Fatal("driver was not stopped")
	}
	if sched.Status().IsRunning {
		t.Fatal("stopped scheduler still reports running")
	}
}

func TestStopCancelsInFlightPass(t *testing.T) {
	t.Parallel()

	gw := &slowGateway{release: make(chan struct{})}
	sched := newTestScheduler(t, gw, nil)

	if !sched.TriggerImmediate() {
		t.Fatal("trigger should start a pass")
	}
	waitFor(t, func() bool { return gw.calls.Load() == 1 })

	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	waitFor(t, func() bool { return !sched.Status().SyncInProgress })

	status := sched.Status()
	if status.LastSync == nil || len(status.LastSync.Errors) == 0 {
		t.Fatalf("canceled pass should surface an error, got %+v", status.LastSync)
	}
}

func TestStoppedSchedulerIgnoresTicks(t *testing.T) {
	t.Parallel()

	gw := &countingGateway{}
	driver := &fakeDriver{}
	sched := newTestScheduler(t, gw, driver)

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := sched.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	// A tick racing the stop must not launch a pass.
	driver.fire(time.Now())
	time.Sleep(50 * time.Millisecond)

	if got := gw.calls.Load(); got != 0 {
		t.Fatalf("pass ran after stop: %d listings", got)
	}
	if status := sched.Status(); status.IsRunning || status.SyncInProgress {
		t.Fatalf("stopped scheduler reports activity: %+v", status)
	}
}

func TestSchedulerAbsorbsEnginePanic(t *testing.T) {
	t.Parallel()

	gw := &panicOnceGateway{}
	sched := newTestScheduler(t, gw, nil)

	if !sched.TriggerImmediate() {
		t.Fatal("first trigger should start a pass")
	}
	waitFor(t, func() bool { return !sched.Status().SyncInProgress })

	result, err := sched.TriggerAndWait(context.Background())
	if err != nil {
		t.Fatalf("pass after panic: %v", err)
	}
	if result.TrialsSynced != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if gw.calls.Load() != 2 {
		t.Fatalf("expected a second engine invocation, got %d", gw.calls.Load())
	}
}
