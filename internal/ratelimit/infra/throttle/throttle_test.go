package throttle

import (
	"context"
	"testing"
	"time"
)

func TestWait_FirstArrivalForIdentifierIsImmediate(t *testing.T) {
	th := New(time.Second, 10)
	delay := th.Wait(context.Background(), "client-a")
	if delay != 0 {
		t.Fatalf("expected no delay on first arrival, got %v", delay)
	}
}

func TestWait_SecondArrivalWithinMinIntervalIsDelayed(t *testing.T) {
	// window=100ms, max=1 => min_interval=100ms
	th := New(100*time.Millisecond, 1, WithMaxDelay(time.Second))

	th.Wait(context.Background(), "client-a")
	start := time.Now()
	th.Wait(context.Background(), "client-a")
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Fatalf("expected the second arrival to be smoothed, elapsed only %v", elapsed)
	}
}

func TestWait_DelayIsBoundedByMaxDelay(t *testing.T) {
	// min_interval would be 10s, far above maxDelay.
	th := New(10*time.Second, 1, WithMaxDelay(20*time.Millisecond))

	th.Wait(context.Background(), "client-a")
	start := time.Now()
	th.Wait(context.Background(), "client-a")
	elapsed := time.Since(start)

	if elapsed > 200*time.Millisecond {
		t.Fatalf("expected delay bounded near maxDelay, took %v", elapsed)
	}
}

func TestWait_ReturnsImmediatelyWhenContextCancelledMidSleep(t *testing.T) {
	th := New(time.Second, 1, WithMaxDelay(time.Second))
	th.Wait(context.Background(), "client-a")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	start := time.Now()
	th.Wait(ctx, "client-a")
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("expected Wait to return promptly once context is cancelled")
	}
}

func TestSweep_RemovesEntriesOlderThanConfiguredAge(t *testing.T) {
	th := New(time.Second, 10, WithSweepThresholds(1000, 10*time.Millisecond))
	th.Wait(context.Background(), "client-a")

	time.Sleep(30 * time.Millisecond)

	if removed := th.Sweep(); removed != 1 {
		t.Fatalf("expected 1 entry swept, got %d", removed)
	}
	if th.Len() != 0 {
		t.Fatalf("expected empty throttle after sweep, got %d entries", th.Len())
	}
}

func TestStartJanitor_StopsWhenContextCancelled(t *testing.T) {
	th := New(time.Second, 10, WithSweepThresholds(1000, 5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	th.StartJanitor(ctx, 5*time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
}
