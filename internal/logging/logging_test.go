package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestSetup(t *testing.T) {
	levels := []string{"DEBUG", "INFO", "WARN", "ERROR", "UNKNOWN"}
	for _, lvl := range levels {
		l := Setup(lvl, "")
		if l == nil {
			t.Errorf("Setup returned nil for level %s", lvl)
		}
	}

	logFile := filepath.Join(t.TempDir(), "test.log")
	l1 := Setup("INFO", logFile)
	if l1 == nil {
		t.Fatal("Setup with file returned nil")
	}
	l1.Info("written to file", "key", "value")
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"msg":"written to file"`)) {
		t.Errorf("expected JSON record in log file, got %s", data)
	}

	// Invalid log file path still yields a logger.
	if l2 := Setup("INFO", "/nonexistent/path/to/log.log"); l2 == nil {
		t.Error("Setup should return a logger even if file fails")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWritesStructuredRecords(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, slog.LevelWarn)
	if l.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("INFO should be disabled at WARN level")
	}
	l.Warn("Accept failed", "count", 3)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "Accept failed" || rec["count"] != float64(3) {
		t.Errorf("unexpected record %v", rec)
	}
}
