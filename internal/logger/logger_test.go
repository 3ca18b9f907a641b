package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LevelNone, "NONE"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"none", LevelNone},
		{"garbage", LevelInfo},
		{"", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "devsync.log")

	l, err := New(LevelInfo, path, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Info("hello %s", "world")
	l.Debug("should be filtered")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "[INFO] hello world") {
		t.Errorf("log output missing info line: %q", out)
	}
	if strings.Contains(out, "should be filtered") {
		t.Errorf("debug line leaked through at info level: %q", out)
	}
}

func TestLoggerLevelNone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsync.log")

	l, err := New(LevelNone, path, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Error("nothing")
	l.Close()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled logger should not create a log file")
	}
}

func TestWithPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsync.log")

	l, err := New(LevelInfo, path, "worker")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	child := l.WithPrefix("slot0")
	child.Info("ready")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "[worker:slot0] ready") {
		t.Errorf("prefixed line missing: %q", data)
	}
}

func TestSetLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devsync.log")

	l, err := New(LevelError, path, "")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("dropped")
	l.SetLevel(LevelInfo)
	if l.GetLevel() != LevelInfo {
		t.Errorf("GetLevel() = %v, want %v", l.GetLevel(), LevelInfo)
	}
	l.Info("kept")
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "dropped") {
		t.Errorf("line logged below level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("line missing after SetLevel: %q", out)
	}
}
