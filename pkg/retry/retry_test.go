package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, BaseDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoReturnsLastError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("still broken")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestDoAbortsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 10, BaseDelay: time.Hour}, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before the wait aborted, got %d", calls)
	}
}

func TestDelayCapsAtMax(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	if d := p.delay(0); d != time.Second {
		t.Fatalf("attempt 0: expected 1s, got %s", d)
	}
	if d := p.delay(1); d != 2*time.Second {
		t.Fatalf("attempt 1: expected 2s, got %s", d)
	}
	if d := p.delay(5); d != 3*time.Second {
		t.Fatalf("attempt 5: expected the 3s cap, got %s", d)
	}
}
