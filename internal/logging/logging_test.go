package logging

import (
	"testing"

	"cfm-engine/internal/config"

	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for name, want := range cases {
		if got := Level(name); got != want {
			t.Fatalf("level %q: expected %v, got %v", name, want, got)
		}
	}
}

func TestNewHonoursLevel(t *testing.T) {
	log := New(config.LoggingConfig{Level: "warn"})
	if log.Core().Enabled(zapcore.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !log.Core().Enabled(zapcore.WarnLevel) {
		t.Fatalf("warn should be enabled")
	}
}
