package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		" DEBUG ": zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q) got=%v ok=%v want=%v", raw, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogBypass, "true")
	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel || cfg.Timestamp || !cfg.Bypass {
		t.Fatalf("unexpected cfg after overrides: %+v", cfg)
	}
}

func TestApplyBypassWritesJSON(t *testing.T) {
	prev := current.Load()
	defer func() {
		if prev != nil {
			setLogger(prev)
		}
	}()

	var buf bytes.Buffer
	Apply(Config{Level: zerolog.DebugLevel, Bypass: true, Out: &buf})
	Infof("session.Client.connect url=%q", "ws://example")
	Debugf("debug line")
	Logger().Trace().Msg("trace line dropped")

	out := buf.String()
	if !strings.Contains(out, `"level":"info"`) || !strings.Contains(out, `session.Client.connect`) {
		t.Fatalf("missing info line: %s", out)
	}
	if strings.Contains(out, "trace line dropped") {
		t.Fatalf("trace line should be filtered: %s", out)
	}
}
