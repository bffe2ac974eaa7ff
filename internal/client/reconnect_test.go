package client

import (
	"context"
	"errors"
	"testing"
	"time"
)

func Test_backoff_delay_grows_and_caps(t *testing.T) {
	prev := time.Duration(0)
	for n := 1; n <= 10; n++ {
		d := backoffDelay(n)
		minExpected := backoffBase * time.Duration(1<<uint(min(n-1, 6)))
		if minExpected > backoffCap {
			minExpected = backoffCap
		}
		if d < minExpected {
			t.Errorf("attempt %d: delay %v below expected floor %v", n, d, minExpected)
		}
		maxExpected := minExpected + time.Duration(float64(minExpected)*0.3) + time.Millisecond
		if d > maxExpected {
			t.Errorf("attempt %d: delay %v exceeds cap+jitter %v", n, d, maxExpected)
		}
		_ = prev
		prev = d
	}
}

func Test_backoff_delay_never_exceeds_cap_plus_jitter(t *testing.T) {
	d := backoffDelay(50)
	if d > backoffCap+time.Duration(float64(backoffCap)*0.3)+time.Millisecond {
		t.Errorf("delay %v exceeds cap+jitter bound", d)
	}
}

func Test_controller_run_resets_attempt_counter_on_open(t *testing.T) {
	// with maxAttempts 1, a counter that failed to reset would give up on
	// the second call; the first reconnect delay is at most 1.3s.
	c := NewController(1)
	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	calls := 0
	err := c.Run(ctx, func(ctx context.Context) (bool, error) {
		calls++
		// every call "opens" successfully then immediately fails,
		// so the attempt counter should never climb past 1.
		return true, errors.New("simulated drop")
	})
	if err != nil {
		t.Errorf("expected nil error on context cancellation, got %v", err)
	}
	if calls < 2 {
		t.Errorf("expected multiple reconnect attempts before cancellation, got %d", calls)
	}
}

func Test_controller_run_gives_up_after_max_attempts_without_opening(t *testing.T) {
	c := NewController(2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.Run(ctx, func(ctx context.Context) (bool, error) {
		return false, errors.New("never connects")
	})
	if err == nil {
		t.Fatal("expected an error after exhausting max attempts")
	}
}

func Test_controller_run_is_reentrant_safe(t *testing.T) {
	c := NewController(0)
	started := make(chan struct{})
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.Run(ctx, func(ctx context.Context) (bool, error) {
		close(started)
		<-release
		return true, nil
	})
	<-started

	// a second concurrent Run call should be a no-op, not a second
	// interleaved attempt loop.
	calls := 0
	done := make(chan struct{})
	go func() {
		c.Run(ctx, func(ctx context.Context) (bool, error) {
			calls++
			return true, nil
		})
		close(done)
	}()
	<-done
	if calls != 0 {
		t.Errorf("expected the reentrant call to be a no-op, but its connect func ran %d times", calls)
	}

	close(release)
	cancel()
}
