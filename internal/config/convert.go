package config

import (
	"fmt"
	"strings"
	"time"

	logs "github.com/danmuck/wsclient/internal/logging"
	"github.com/rs/zerolog"
)

// durationField maps a "<key>" duration string and its "<key>_ms" integer
// twin onto one destination. The _ms form wins when both are present.
type durationField struct {
	key  string
	text string
	ms   int64
	dst  *time.Duration
}

func applyDurations(defined keySet, fields []durationField) error {
	for _, f := range fields {
		if defined(f.key) {
			d, err := time.ParseDuration(strings.TrimSpace(f.text))
			if err != nil {
				return fmt.Errorf("%w: parse %s: %v", ErrInvalid, f.key, err)
			}
			*f.dst = d
		}
		if defined(f.key + "_ms") {
			*f.dst = time.Duration(f.ms) * time.Millisecond
		}
	}
	return nil
}

// Level resolves a configured log level; unknown values fall back to info.
func Level(raw string) zerolog.Level {
	if lvl, ok := parseLevel(raw); ok {
		return lvl
	}
	return zerolog.InfoLevel
}

func parseLevel(raw string) (zerolog.Level, bool) {
	if strings.TrimSpace(raw) == "" {
		return zerolog.InfoLevel, true
	}
	return logs.ParseLevel(raw)
}
