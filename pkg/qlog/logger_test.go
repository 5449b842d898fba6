package qlog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(slog.LevelInfo, &buf)

	log.With("run_id", "r1").Info("run submitted", "variant", "tabular")
	log.Debug("hidden")
	log.WithGroup("poll").Warn("transport failure", "attempt", 1)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[0] != "ℹ️  run submitted run_id=r1, variant=tabular" {
		t.Errorf("unexpected info line %q", lines[0])
	}
	if lines[1] != "⚠️  transport failure poll.attempt=1" {
		t.Errorf("unexpected warn line %q", lines[1])
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		" warn": slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
