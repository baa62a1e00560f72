package testlog

import (
	"testing"

	logs "github.com/danmuck/wsclient/internal/logging"
)

// Start switches to the test logging profile and tags the log stream with the test name.
func Start(t testing.TB) {
	t.Helper()
	logs.ConfigureTests()
	logs.Infof("test=%s", t.Name())
}
