package session

import (
	"fmt"
	"time"

	"github.com/danmuck/wsclient/internal/protocol/packet"
)

// ReconnectConfig defines the delay before each reconnect attempt.
// The defaults (multiplier 1, no jitter) give a fixed interval.
type ReconnectConfig struct {
	Interval   time.Duration
	Multiplier float64
	MaxDelay   time.Duration
	Jitter     bool
}

// Config defines session engine behavior. Transport concerns (URL, TLS,
// connect timeout) live in the transport's own config.
type Config struct {
	Reconnect        ReconnectConfig
	PingInterval     time.Duration
	PingAttempts     int
	SendRetryDelay   time.Duration
	SendIdleInterval time.Duration
	MaxQueueLen      int
	Verbose          bool
	SessionID        string
	Codec            packet.Codec
}

func DefaultConfig() Config {
	return Config{
		Reconnect: ReconnectConfig{
			Interval:   5 * time.Second,
			Multiplier: 1.0,
		},
		PingInterval:     3 * time.Second,
		PingAttempts:     5,
		SendRetryDelay:   500 * time.Millisecond,
		SendIdleInterval: 100 * time.Millisecond,
		Codec:            packet.JSON,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Reconnect.Interval == 0 {
		c.Reconnect.Interval = d.Reconnect.Interval
	}
	if c.Reconnect.Multiplier == 0 {
		c.Reconnect.Multiplier = d.Reconnect.Multiplier
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PingAttempts == 0 {
		c.PingAttempts = d.PingAttempts
	}
	if c.SendRetryDelay == 0 {
		c.SendRetryDelay = d.SendRetryDelay
	}
	if c.SendIdleInterval == 0 {
		c.SendIdleInterval = d.SendIdleInterval
	}
	if c.Codec == nil {
		c.Codec = d.Codec
	}
	return c
}

func (c Config) Validate() error {
	switch {
	case c.Reconnect.Interval < 0:
		return fmt.Errorf("%w: negative reconnect interval", ErrInvalidConfig)
	case c.Reconnect.MaxDelay < 0:
		return fmt.Errorf("%w: negative reconnect max delay", ErrInvalidConfig)
	case c.PingInterval <= 0:
		return fmt.Errorf("%w: ping interval must be positive", ErrInvalidConfig)
	case c.PingAttempts <= 0:
		return fmt.Errorf("%w: ping attempts must be positive", ErrInvalidConfig)
	case c.SendRetryDelay < 0:
		return fmt.Errorf("%w: negative send retry delay", ErrInvalidConfig)
	case c.SendIdleInterval <= 0:
		return fmt.Errorf("%w: send idle interval must be positive", ErrInvalidConfig)
	case c.MaxQueueLen < 0:
		return fmt.Errorf("%w: negative max queue length", ErrInvalidConfig)
	}
	return nil
}

// PongTimeout is the longest a dead peer can go unnoticed.
func (c Config) PongTimeout() time.Duration {
	return c.PingInterval * time.Duration(c.PingAttempts)
}
