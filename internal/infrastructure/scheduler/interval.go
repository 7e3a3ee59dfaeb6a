package scheduler

import (
	"context"
	"sync"
	"time"

	"TrialSync/internal/ports"
)

const defaultInterval = 5 * time.Minute

// IntervalDriver fires the sync job on a fixed interval using time.Ticker.
type IntervalDriver struct {
	interval  time.Duration
	immediate bool

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

var _ ports.SyncDriver = (*IntervalDriver)(nil)

// NewIntervalDriver builds a driver ticking every interval; immediate also
// fires the job once at startup.
func NewIntervalDriver(interval time.Duration, immediate bool) *IntervalDriver {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &IntervalDriver{interval: interval, immediate: immediate}
}

// Start begins ticking. The job runs on the driver goroutine; overlap
// control is the job's concern.
func (d *IntervalDriver) Start(ctx context.Context, job func(time.Time)) error {
	if job == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil
	}

	// The goroutine selects on this local so a Stop landing mid-job is
	// still observed on the next iteration.
	stop := make(chan struct{})
	d.stop = stop

	go func() {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		if d.immediate {
			job(time.Now())
		}
		for {
			select {
			case t := <-ticker.C:
				job(t)
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return nil
}

// Stop halts the ticker goroutine. Safe to call more than once.
func (d *IntervalDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop == nil || d.stopped {
		return nil
	}
	d.stopped = true
	close(d.stop)
	return nil
}
