package logging

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

var current atomic.Pointer[zerolog.Logger]

func setLogger(l *zerolog.Logger) {
	current.Store(l)
}

// Logger returns the configured process logger, configuring the runtime
// profile on first use.
func Logger() *zerolog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	ConfigureRuntime()
	return current.Load()
}

func Logf(format string, args ...any) {
	Logger().Log().Msgf(format, args...)
}

func Tracef(format string, args ...any) {
	Logger().Trace().Msgf(format, args...)
}

func Debugf(format string, args ...any) {
	Logger().Debug().Msgf(format, args...)
}

func Infof(format string, args ...any) {
	Logger().Info().Msgf(format, args...)
}

func Warnf(format string, args ...any) {
	Logger().Warn().Msgf(format, args...)
}

func Errf(format string, args ...any) {
	Logger().Error().Msgf(format, args...)
}
