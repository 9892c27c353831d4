package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"off":     zerolog.Disabled,
		"trace":   zerolog.TraceLevel,
	}
	for raw, want := range cases {
		got, ok := parseLevel(raw)
		if !ok || got != want {
			t.Fatalf("parseLevel(%q) got=%v ok=%v want=%v", raw, got, ok, want)
		}
	}
	if _, ok := parseLevel("loud"); ok {
		t.Fatalf("expected unknown level to be rejected")
	}
	if _, ok := parseLevel(""); ok {
		t.Fatalf("expected empty level to be ignored")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "error")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogBypass, "true")
	cfg := defaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.ErrorLevel || cfg.Timestamp || !cfg.Bypass {
		t.Fatalf("unexpected config after overrides: %+v", cfg)
	}
}

func TestApplyBypassWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Apply(Config{Level: zerolog.DebugLevel, Bypass: true, Out: &buf})
	t.Cleanup(func() { Apply(defaultConfig(ProfileTest)) })

	Infof("logging.test value=%d", 7)
	Debugf("logging.test debug")
	out := buf.String()
	if !strings.Contains(out, `"message":"logging.test value=7"`) {
		t.Fatalf("missing info line: %s", out)
	}
	if !strings.Contains(out, `"app":"bittyctl"`) {
		t.Fatalf("missing app field: %s", out)
	}
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("expected two lines, got: %s", out)
	}
}
