package wsconn

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidConfig = errors.New("wsconn: invalid config")
	ErrNotOpen       = errors.New("wsconn: connection not open")
)

// TLSConfig controls wss dialing. CertFile and KeyFile together enable mutual TLS.
type TLSConfig struct {
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
	CertFile           string
	KeyFile            string
}

func (c TLSConfig) Mutual() bool {
	return strings.TrimSpace(c.CertFile) != "" && strings.TrimSpace(c.KeyFile) != ""
}

// Config defines one WebSocket endpoint and how to reach it.
type Config struct {
	URL            string
	Subprotocol    string
	Platform       string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	CloseTimeout   time.Duration
	ReadLimit      int64
	Compression    bool
	Header         map[string]string
	TLS            TLSConfig
}

func DefaultConfig() Config {
	return Config{
		Platform:       "go",
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   10 * time.Second,
		CloseTimeout:   2 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Platform) == "" {
		c.Platform = d.Platform
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	return c
}

func (c Config) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil {
		return fmt.Errorf("%w: url: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: url scheme must be ws or wss, got %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url missing host", ErrInvalidConfig)
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 || c.CloseTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.ReadLimit < 0 {
		return fmt.Errorf("%w: negative read limit", ErrInvalidConfig)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("%w: tls cert_file and key_file must be set together", ErrInvalidConfig)
	}
	return nil
}

func (c Config) secure() bool {
	return strings.HasPrefix(strings.TrimSpace(c.URL), "wss://")
}
