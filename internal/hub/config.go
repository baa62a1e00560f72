package hub

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConfig = errors.New("hub: invalid config")

// Config defines the reference WebSocket endpoint. A non-empty Token requires
// "Authorization: Bearer <Token>" on the upgrade request.
type Config struct {
	ID               string
	Addr             string
	Path             string
	Subprotocols     []string
	AllowedPlatforms []string
	Info             map[string]any
	Token            string
	ReadLimit        int64
	WriteTimeout     time.Duration
	ShutdownTimeout  time.Duration
	TLSCertFile      string
	TLSKeyFile       string
}

func DefaultConfig() Config {
	return Config{
		ID:              "wshub",
		Addr:            "127.0.0.1:8090",
		Path:            "/ws",
		ReadLimit:       16 << 20,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.ID) == "" {
		c.ID = d.ID
	}
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = d.Addr
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = d.Path
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = d.ReadLimit
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: path must start with /", ErrInvalidConfig)
	}
	if c.ReadLimit < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("%w: tls_cert_file and tls_key_file must be set together", ErrInvalidConfig)
	}
	return nil
}

func (c Config) platformAllowed(platform string) bool {
	if len(c.AllowedPlatforms) == 0 {
		return true
	}
	for _, p := range c.AllowedPlatforms {
		if strings.EqualFold(p, platform) {
			return true
		}
	}
	return false
}
