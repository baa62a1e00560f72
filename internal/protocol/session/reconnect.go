package session

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Delay returns the wait before reconnect attempt N (1-based).
func (c ReconnectConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if c.Interval <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	mult := c.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(c.Interval) * math.Pow(mult, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// reconnector holds at most one pending reconnect and fires it from its own
// goroutine after the configured delay.
type reconnector struct {
	cfg      ReconnectConfig
	rng      *rand.Rand
	requests chan struct{}
	cancels  chan struct{}

	mu      sync.Mutex
	pending bool
	attempt int
	delay   time.Duration
}

func newReconnector(cfg ReconnectConfig) *reconnector {
	return &reconnector{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		requests: make(chan struct{}, 1),
		cancels:  make(chan struct{}, 1),
	}
}

// schedule requests a retry. It returns false when one is already pending.
func (r *reconnector) schedule() (int, time.Duration, bool) {
	r.mu.Lock()
	if r.pending {
		r.mu.Unlock()
		return 0, 0, false
	}
	r.pending = true
	r.attempt++
	attempt := r.attempt
	delay := r.cfg.Delay(attempt, r.rng)
	r.delay = delay
	r.mu.Unlock()

	select {
	case r.requests <- struct{}{}:
	default:
	}
	return attempt, delay, true
}

func (r *reconnector) cancel() {
	r.mu.Lock()
	if !r.pending {
		r.mu.Unlock()
		return
	}
	r.pending = false
	r.mu.Unlock()

	select {
	case r.cancels <- struct{}{}:
	default:
	}
}

func (r *reconnector) isPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

func (r *reconnector) resetAttempts() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt = 0
}

func (r *reconnector) run(ctx context.Context, fire func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.requests:
		}

		// A cancel queued before this request was picked up is stale.
		select {
		case <-r.cancels:
		default:
		}
		r.mu.Lock()
		if !r.pending {
			r.mu.Unlock()
			continue
		}
		delay := r.delay
		r.mu.Unlock()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-r.cancels:
			timer.Stop()
			continue
		case <-timer.C:
		}

		r.mu.Lock()
		due := r.pending
		r.pending = false
		r.mu.Unlock()
		if due {
			fire()
		}
	}
}
