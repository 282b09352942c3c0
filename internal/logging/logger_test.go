package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/implindex/internal/config"
)

func TestLoggerWritesLevelledLines(t *testing.T) {
	projectDir := t.TempDir()
	logger, err := New(projectDir)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.clock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	var mirror bytes.Buffer
	logger.Mirror(&mirror)

	logger.Printf("plain %d\n", 1)
	logger.Warnf("pending %d", 3)
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(projectDir, config.Dir, "logs", "implindex.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	want := "[2026-01-02T03:04:05Z] plain 1\n[2026-01-02T03:04:05Z] WARN pending 3\n"
	if string(data) != want {
		t.Fatalf("log = %q, want %q", data, want)
	}
	if mirror.String() != want {
		t.Fatalf("mirror = %q", mirror.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Infof("ignored")
	logger.Mirror(&strings.Builder{})
	if err := logger.Close(); err != nil {
		t.Fatalf("close nil: %v", err)
	}
}
