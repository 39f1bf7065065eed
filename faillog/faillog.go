// Package faillog appends soft failures to a run log file, one
// timestamped line per event. Recoverable conditions (skipped assets,
// per-file errors inside a batch) land here so the console stays a
// stage-by-stage narrative; the end-of-run summary points at the file
// instead of reprinting every warning.
package faillog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultFileName is the log file created in the working directory.
const DefaultFileName = "sitemin.err.log"

// Log is an append-only failure sink. Safe for concurrent use. Write
// failures are reported via slog and never escalate: a broken log file
// must not fail the run.
type Log struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	count int
}

// Open creates or appends to the log file at path (empty = DefaultFileName
// in the working directory).
func Open(path string) (*Log, error) {
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("faillog: getwd: %w", err)
		}
		path = filepath.Join(wd, DefaultFileName)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("faillog: open %s: %w", path, err)
	}
	return &Log{path: path, f: f}, nil
}

// Warnf records one formatted event line and mirrors it to slog at
// warn level.
func (l *Log) Warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Warn(msg)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	if l.f == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s\n", time.Now().Format(time.RFC3339), msg)
	if _, err := l.f.WriteString(line); err != nil {
		slog.Error("faillog: write failed", "path", l.path, "error", err)
	}
}

// Count returns the number of events recorded so far.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Path returns the log file location, for the run summary.
func (l *Log) Path() string {
	return l.path
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
