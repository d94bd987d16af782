package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{
		Level:  LevelWarn,
		Format: FormatJSON,
		Output: &buf,
	})

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %q", len(lines), buf.String())
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: &buf,
	})

	l.Infof("gc triggered", map[string]any{"freeBlocks": 7})

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	if entry.Level != "info" {
		t.Errorf("level = %q, want info", entry.Level)
	}
	if entry.Message != "gc triggered" {
		t.Errorf("message = %q, want %q", entry.Message, "gc triggered")
	}
	if entry.Fields["freeBlocks"] != float64(7) {
		t.Errorf("freeBlocks field = %v, want 7", entry.Fields["freeBlocks"])
	}
}

func TestLoggerTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{
		Level:  LevelInfo,
		Format: FormatText,
		Output: &buf,
	})

	l.Infof("erase", map[string]any{"block": "42"})

	out := buf.String()
	if !strings.Contains(out, "[info]") {
		t.Errorf("text output missing level: %q", out)
	}
	if !strings.Contains(out, "erase") {
		t.Errorf("text output missing message: %q", out)
	}
	if !strings.Contains(out, "block=42") {
		t.Errorf("text output missing field: %q", out)
	}
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: &buf,
	})

	child := l.With(map[string]any{"policy": "rl_baseline"})
	child.Info("trigger")

	var entry Entry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v", err)
	}
	if entry.Fields["policy"] != "rl_baseline" {
		t.Errorf("policy field = %v, want rl_baseline", entry.Fields["policy"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGlobalLogger(t *testing.T) {
	old := Global()
	defer SetGlobal(old)

	var buf bytes.Buffer
	SetGlobal(New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf}))

	Info("hello")

	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("global logger did not write message: %q", buf.String())
	}
}
