package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"fintrack/internal/core"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoggerIncludesComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: slog.LevelDebug, Component: ComponentRollup, Output: &buf})

	logger.WithFields(NewFields().WithUser(3).WithMonth("2024-02").WithError(core.NotFound("rollup"))).
		Info("recomputed")

	out := buf.String()
	for _, want := range []string{"component=rollup", "user_id=3", "month=2024-02", "error_kind=not_found"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %q missing %q", out, want)
		}
	}
}

func TestWithErrorPlain(t *testing.T) {
	f := NewFields().WithError(errors.New("boom"))
	if f[FieldError] != "boom" {
		t.Errorf("error field = %v", f[FieldError])
	}
	if _, ok := f[FieldErrorKind]; ok {
		t.Error("plain errors carry no kind")
	}
	if len(NewFields().WithError(nil)) != 0 {
		t.Error("nil error should add nothing")
	}
}

func TestFromContext(t *testing.T) {
	logger := New(Config{Component: ComponentScheduler, Output: &bytes.Buffer{}})
	ctx := WithContext(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("logger not recovered from context")
	}
	if FromContext(context.Background()).Component() != "unknown" {
		t.Error("fallback logger should be unknown")
	}
}
