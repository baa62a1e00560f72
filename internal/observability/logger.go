package observability

import (
	"io"

	logs "github.com/danmuck/wsclient/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger installs one console logger tagged with app as both the process
// logger and the zerolog global logger. A nil out writes to stderr.
func InitLogger(app string, level zerolog.Level, out io.Writer) zerolog.Logger {
	logs.Apply(logs.Config{App: app, Level: level, Timestamp: true, Out: out})
	logger := *logs.Logger()
	log.Logger = logger
	return logger
}
