package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLogger_StdoutOnly(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, closer, err := newLogger(&buf, Options{Level: "warn"})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept", "provider", "stdout")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d log lines, want 1: %q", len(lines), buf.String())
	}

	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["provider"] != "stdout" || rec["level"] != "WARN" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewLogger_WithFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "contactform.log")
	var buf bytes.Buffer
	logger, closer, err := newLogger(&buf, Options{Level: "info", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}

	logger.Info("contact email sent", "recipients", 2)
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"contact email sent"`) {
		t.Errorf("file missing record: %s", data)
	}
	if !strings.Contains(buf.String(), `"msg":"contact email sent"`) {
		t.Errorf("stdout missing record: %s", buf.String())
	}
}
