package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wsclient/internal/hub"
	"github.com/danmuck/wsclient/internal/protocol/packet"
	"github.com/danmuck/wsclient/internal/protocol/session"
	"github.com/danmuck/wsclient/internal/transport/wsconn"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnsupportedFormat = errors.New("config: unsupported file format")
	ErrInvalid           = errors.New("config: invalid value")
)

// ClientConfig is everything cmd/wsclient needs to build a session.
type ClientConfig struct {
	Session   session.Config
	Transport wsconn.Config
	LogLevel  string
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Session:   session.DefaultConfig(),
		Transport: wsconn.DefaultConfig(),
		LogLevel:  "info",
	}
}

type HubConfig struct {
	Hub      hub.Config
	LogLevel string
}

func DefaultHubConfig() HubConfig {
	return HubConfig{Hub: hub.DefaultConfig(), LogLevel: "info"}
}

type tlsFile struct {
	CAFile             string `toml:"ca_file" yaml:"ca_file"`
	ServerName         string `toml:"server_name" yaml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	CertFile           string `toml:"cert_file" yaml:"cert_file"`
	KeyFile            string `toml:"key_file" yaml:"key_file"`
}

type clientFile struct {
	LogLevel string `toml:"log_level" yaml:"log_level"`

	URL              string            `toml:"url" yaml:"url"`
	Subprotocol      string            `toml:"subprotocol" yaml:"subprotocol"`
	Platform         string            `toml:"platform" yaml:"platform"`
	ConnectTimeout   string            `toml:"connect_timeout" yaml:"connect_timeout"`
	ConnectTimeoutMS int64             `toml:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	WriteTimeout     string            `toml:"write_timeout" yaml:"write_timeout"`
	WriteTimeoutMS   int64             `toml:"write_timeout_ms" yaml:"write_timeout_ms"`
	ReadLimit        int64             `toml:"read_limit" yaml:"read_limit"`
	Compression      bool              `toml:"compression" yaml:"compression"`
	Headers          map[string]string `toml:"headers" yaml:"headers"`
	TLS              tlsFile           `toml:"tls" yaml:"tls"`

	SessionID           string  `toml:"session_id" yaml:"session_id"`
	Verbose             bool    `toml:"verbose" yaml:"verbose"`
	Codec               string  `toml:"codec" yaml:"codec"`
	ReconnectInterval   string  `toml:"reconnect_interval" yaml:"reconnect_interval"`
	ReconnectIntervalMS int64   `toml:"reconnect_interval_ms" yaml:"reconnect_interval_ms"`
	ReconnectMultiplier float64 `toml:"reconnect_multiplier" yaml:"reconnect_multiplier"`
	ReconnectMaxDelay   string  `toml:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectMaxDelayMS int64   `toml:"reconnect_max_delay_ms" yaml:"reconnect_max_delay_ms"`
	ReconnectJitter     bool    `toml:"reconnect_jitter" yaml:"reconnect_jitter"`
	PingInterval        string  `toml:"ping_interval" yaml:"ping_interval"`
	PingIntervalMS      int64   `toml:"ping_interval_ms" yaml:"ping_interval_ms"`
	PingAttempts        int     `toml:"ping_attempts" yaml:"ping_attempts"`
	SendRetryDelay      string  `toml:"send_retry_delay" yaml:"send_retry_delay"`
	SendRetryDelayMS    int64   `toml:"send_retry_delay_ms" yaml:"send_retry_delay_ms"`
	SendIdleInterval    string  `toml:"send_idle_interval" yaml:"send_idle_interval"`
	SendIdleIntervalMS  int64   `toml:"send_idle_interval_ms" yaml:"send_idle_interval_ms"`
	MaxQueueLen         int     `toml:"max_queue_len" yaml:"max_queue_len"`
}

type hubFile struct {
	LogLevel          string         `toml:"log_level" yaml:"log_level"`
	ID                string         `toml:"id" yaml:"id"`
	Addr              string         `toml:"addr" yaml:"addr"`
	Path              string         `toml:"path" yaml:"path"`
	Subprotocols      []string       `toml:"subprotocols" yaml:"subprotocols"`
	AllowedPlatforms  []string       `toml:"allowed_platforms" yaml:"allowed_platforms"`
	Info              map[string]any `toml:"info" yaml:"info"`
	Token             string         `toml:"token" yaml:"token"`
	ReadLimit         int64          `toml:"read_limit" yaml:"read_limit"`
	WriteTimeout      string         `toml:"write_timeout" yaml:"write_timeout"`
	WriteTimeoutMS    int64          `toml:"write_timeout_ms" yaml:"write_timeout_ms"`
	ShutdownTimeout   string         `toml:"shutdown_timeout" yaml:"shutdown_timeout"`
	ShutdownTimeoutMS int64          `toml:"shutdown_timeout_ms" yaml:"shutdown_timeout_ms"`
	TLSCertFile       string         `toml:"tls_cert_file" yaml:"tls_cert_file"`
	TLSKeyFile        string         `toml:"tls_key_file" yaml:"tls_key_file"`
}

// LoadClient reads a TOML or YAML client file. Keys absent from the file keep
// their defaults.
func LoadClient(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	defined, err := decodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, err
	}

	if defined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	tr := &cfg.Transport
	if defined("url") {
		tr.URL = strings.TrimSpace(raw.URL)
	}
	if defined("subprotocol") {
		tr.Subprotocol = strings.TrimSpace(raw.Subprotocol)
	}
	if defined("platform") {
		tr.Platform = strings.TrimSpace(raw.Platform)
	}
	if defined("read_limit") {
		tr.ReadLimit = raw.ReadLimit
	}
	if defined("compression") {
		tr.Compression = raw.Compression
	}
	if defined("headers") {
		tr.Header = raw.Headers
	}
	if defined("tls") {
		tr.TLS = wsconn.TLSConfig{
			CAFile:             strings.TrimSpace(raw.TLS.CAFile),
			ServerName:         strings.TrimSpace(raw.TLS.ServerName),
			InsecureSkipVerify: raw.TLS.InsecureSkipVerify,
			CertFile:           strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:            strings.TrimSpace(raw.TLS.KeyFile),
		}
	}

	s := &cfg.Session
	if defined("session_id") {
		s.SessionID = strings.TrimSpace(raw.SessionID)
	}
	if defined("verbose") {
		s.Verbose = raw.Verbose
	}
	if defined("codec") {
		codec, ok := packet.CodecByName(strings.ToLower(strings.TrimSpace(raw.Codec)))
		if !ok {
			return ClientConfig{}, fmt.Errorf("%w: codec %q", ErrInvalid, raw.Codec)
		}
		s.Codec = codec
	}
	if defined("reconnect_multiplier") {
		s.Reconnect.Multiplier = raw.ReconnectMultiplier
	}
	if defined("reconnect_jitter") {
		s.Reconnect.Jitter = raw.ReconnectJitter
	}
	if defined("ping_attempts") {
		s.PingAttempts = raw.PingAttempts
	}
	if defined("max_queue_len") {
		s.MaxQueueLen = raw.MaxQueueLen
	}

	durations := []durationField{
		{key: "connect_timeout", text: raw.ConnectTimeout, ms: raw.ConnectTimeoutMS, dst: &tr.ConnectTimeout},
		{key: "write_timeout", text: raw.WriteTimeout, ms: raw.WriteTimeoutMS, dst: &tr.WriteTimeout},
		{key: "reconnect_interval", text: raw.ReconnectInterval, ms: raw.ReconnectIntervalMS, dst: &s.Reconnect.Interval},
		{key: "reconnect_max_delay", text: raw.ReconnectMaxDelay, ms: raw.ReconnectMaxDelayMS, dst: &s.Reconnect.MaxDelay},
		{key: "ping_interval", text: raw.PingInterval, ms: raw.PingIntervalMS, dst: &s.PingInterval},
		{key: "send_retry_delay", text: raw.SendRetryDelay, ms: raw.SendRetryDelayMS, dst: &s.SendRetryDelay},
		{key: "send_idle_interval", text: raw.SendIdleInterval, ms: raw.SendIdleIntervalMS, dst: &s.SendIdleInterval},
	}
	if err := applyDurations(defined, durations); err != nil {
		return ClientConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) Validate() error {
	if err := c.Session.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := c.Transport.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

func LoadHub(path string) (HubConfig, error) {
	cfg := DefaultHubConfig()

	var raw hubFile
	defined, err := decodeFile(path, &raw)
	if err != nil {
		return HubConfig{}, err
	}

	if defined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	h := &cfg.Hub
	if defined("id") {
		h.ID = strings.TrimSpace(raw.ID)
	}
	if defined("addr") {
		h.Addr = strings.TrimSpace(raw.Addr)
	}
	if defined("path") {
		h.Path = strings.TrimSpace(raw.Path)
	}
	if defined("subprotocols") {
		h.Subprotocols = normalizeList(raw.Subprotocols)
	}
	if defined("allowed_platforms") {
		h.AllowedPlatforms = normalizeList(raw.AllowedPlatforms)
	}
	if defined("info") {
		h.Info = raw.Info
	}
	if defined("token") {
		h.Token = strings.TrimSpace(raw.Token)
	}
	if defined("read_limit") {
		h.ReadLimit = raw.ReadLimit
	}
	if defined("tls_cert_file") {
		h.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if defined("tls_key_file") {
		h.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}

	durations := []durationField{
		{key: "write_timeout", text: raw.WriteTimeout, ms: raw.WriteTimeoutMS, dst: &h.WriteTimeout},
		{key: "shutdown_timeout", text: raw.ShutdownTimeout, ms: raw.ShutdownTimeoutMS, dst: &h.ShutdownTimeout},
	}
	if err := applyDurations(defined, durations); err != nil {
		return HubConfig{}, err
	}

	if err := cfg.Validate(); err != nil {
		return HubConfig{}, err
	}
	return cfg, nil
}

func (c HubConfig) Validate() error {
	if err := c.Hub.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// keySet reports whether a (possibly nested) key appeared in the file.
type keySet func(key ...string) bool

func decodeFile(path string, out any) (keySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.Decode(string(data), out)
		if err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		return meta.IsDefined, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		var tree map[string]any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		return yamlKeys(tree), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func yamlKeys(tree map[string]any) keySet {
	return func(key ...string) bool {
		var cur any = tree
		for _, k := range key {
			m, ok := cur.(map[string]any)
			if !ok {
				return false
			}
			if cur, ok = m[k]; !ok {
				return false
			}
		}
		return true
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
