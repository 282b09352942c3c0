package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/implindex/internal/config"
)

// Logger appends timestamped lines to .implindex/logs/implindex.log so runs
// can be inspected after the process exits. An optional mirror receives the
// same lines (stderr under --verbose).
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	mirror io.Writer
	clock  func() time.Time
}

// New creates (or reuses) the log file for the given project directory.
func New(projectDir string) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.Dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "implindex.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	return &Logger{file: f, clock: time.Now}, nil
}

// Mirror copies every subsequent line to w as well.
func (l *Logger) Mirror(w io.Writer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.mirror = w
	l.mu.Unlock()
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Printf writes a single timestamped line.
func (l *Logger) Printf(format string, args ...any) {
	l.write("", format, args...)
}

// Infof writes an INFO line.
func (l *Logger) Infof(format string, args ...any) {
	l.write("INFO", format, args...)
}

// Warnf writes a WARN line.
func (l *Logger) Warnf(format string, args ...any) {
	l.write("WARN", format, args...)
}

// Errorf writes an ERROR line.
func (l *Logger) Errorf(format string, args ...any) {
	l.write("ERROR", format, args...)
}

func (l *Logger) write(level, format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	if level != "" {
		line = level + " " + line
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	timestamp := l.clock().Format(time.RFC3339)
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, line)
	if l.mirror != nil {
		fmt.Fprintf(l.mirror, "[%s] %s\n", timestamp, line)
	}
}
