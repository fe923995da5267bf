package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNew_JSONFormatWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "json")

	logger.With(Component("runner")).Info("started",
		String("activity", "A1"),
		Int("attempt", 2),
		Duration("took", 150*time.Millisecond),
		Err(errors.New("boom")),
	)

	out := buf.String()
	for _, want := range []string{`"component":"runner"`, `"activity":"A1"`, `"attempt":2`, `"error":"boom"`, `"message":"started"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %s", out, want)
		}
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", "json")

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestNew_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "loud", "json")

	logger.Debug("hidden")
	logger.Info("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("debug line should be filtered at info level")
	}
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopLogger); !ok {
		t.Error("OrNoop(nil) should return NoopLogger")
	}
	l := New(nil, "info", "json")
	if OrNoop(l) != Logger(l) {
		t.Error("OrNoop should pass through non-nil loggers")
	}
}
