package faillog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWarnfAppendsTimestampedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.err.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	l.Warnf("skipping %s", "a.avif")
	l.Warnf("missing source %s", "b.png")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	if l.Count() != 2 {
		t.Fatalf("expected 2 events, got %d", l.Count())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "a.avif") || !strings.HasPrefix(lines[0], "[") {
		t.Fatalf("unexpected line format: %q", lines[0])
	}
}

func TestWarnfAfterCloseCountsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.err.log")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Close()

	// Must not panic or escalate.
	l.Warnf("late event")
	if l.Count() != 1 {
		t.Fatalf("expected count 1, got %d", l.Count())
	}
}
