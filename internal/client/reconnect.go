package client

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// backoff parameters, per spec.md §4.4.
const (
	backoffBase = 1 * time.Second
	backoffCap  = 60 * time.Second
)

// Controller manages the reconnect lifecycle of the control channel on
// the client side: bounded exponential backoff with jitter, a
// reentrancy guard, and cooperative cancellation, per spec.md §4.4.
type Controller struct {
	maxAttempts int // 0 means unlimited

	mu           sync.Mutex
	reconnecting bool
}

// NewController creates a reconnection controller. maxAttempts of 0
// means retry forever.
func NewController(maxAttempts int) *Controller {
	return &Controller{maxAttempts: maxAttempts}
}

// ConnectFunc attempts to open and run the tunnel until it disconnects
// or ctx is cancelled. opened reports whether the channel was
// successfully established at all (even if it failed later), which
// resets the backoff counter per spec.md §4.4.
type ConnectFunc func(ctx context.Context) (opened bool, err error)

// Run drives repeated calls to connect with bounded exponential
// backoff between attempts. It returns nil if ctx is cancelled, or an
// error once maxAttempts is exceeded without a successful open.
//
// Reentrancy: if Run is invoked while already reconnecting on this
// controller, the call is a no-op, per spec.md §4.4.
func (c *Controller) Run(ctx context.Context, connect ConnectFunc) error {
	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return nil
	}
	c.reconnecting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 0
	for {
		opened, err := connect(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if opened {
			attempt = 0
		}
		attempt++

		if c.maxAttempts > 0 && attempt > c.maxAttempts {
			return fmt.Errorf("giving up after %d reconnect attempts: %w", attempt-1, err)
		}

		delay := backoffDelay(attempt)
		slog.Warn("tunnel disconnected, reconnecting", "attempt", attempt, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil
		}
	}
}

// backoffDelay computes the delay before reconnect attempt n
// (1-indexed): min(base*2^(n-1), cap) + uniform jitter in
// [0, 0.3*delay], per spec.md §4.4.
func backoffDelay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	shift := n - 1
	if shift > 6 { // 2^6 * 1s already exceeds the 60s cap
		shift = 6
	}
	raw := backoffBase * time.Duration(uint64(1)<<uint(shift))
	if raw > backoffCap {
		raw = backoffCap
	}

	jitterMax := int64(float64(raw) * 0.3)
	var jitter time.Duration
	if jitterMax > 0 {
		jitter = time.Duration(rand.Int64N(jitterMax + 1))
	}
	return raw + jitter
}
