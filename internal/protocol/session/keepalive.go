package session

import (
	"context"
	"sync"
	"time"

	logs "github.com/danmuck/wsclient/internal/logging"
)

// KeepaliveStats is a read-only view of the keepalive supervisor.
type KeepaliveStats struct {
	AwaitingPong bool
	Missed       int
	LastPingAt   time.Time
	Halted       bool
}

type keepalive struct {
	interval  time.Duration
	threshold int

	isOpen    func() bool
	ping      func() error
	onTimeout func(missed int)
	onRTT     func(rtt time.Duration)
	now       func() time.Time

	mu           sync.Mutex
	awaitingPong bool
	missed       int
	lastPingAt   time.Time
	halted       bool
}

func (k *keepalive) run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.tick()
		}
	}
}

// tick runs one ping cycle. After threshold unanswered pings the connection
// is reported dead once; the supervisor stays halted until reset.
func (k *keepalive) tick() {
	defer func() {
		if r := recover(); r != nil {
			logs.Errf("session.keepalive.tick panic=%v", r)
		}
	}()
	if !k.isOpen() {
		return
	}

	k.mu.Lock()
	if k.halted {
		k.mu.Unlock()
		return
	}
	if k.awaitingPong {
		k.missed++
		if k.missed >= k.threshold {
			k.halted = true
			missed := k.missed
			k.mu.Unlock()
			k.onTimeout(missed)
			return
		}
	}
	k.lastPingAt = k.now()
	k.awaitingPong = true
	k.mu.Unlock()

	if err := k.ping(); err != nil {
		logs.Warnf("session.keepalive.tick ping failed err=%v", err)
	}
}

func (k *keepalive) pong() {
	k.mu.Lock()
	k.missed = 0
	k.awaitingPong = false
	sentAt := k.lastPingAt
	k.mu.Unlock()

	if sentAt.IsZero() {
		return
	}
	k.onRTT(k.now().Sub(sentAt))
}

// reset starts a fresh liveness cycle for a new connection.
func (k *keepalive) reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.awaitingPong = false
	k.missed = 0
	k.lastPingAt = time.Time{}
	k.halted = false
}

func (k *keepalive) stats() KeepaliveStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return KeepaliveStats{
		AwaitingPong: k.awaitingPong,
		Missed:       k.missed,
		LastPingAt:   k.lastPingAt,
		Halted:       k.halted,
	}
}
