package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/idis-platform/idis/pkg/canonical"
)

// FileSink appends one canonical JSON line per event to a log file.
// The file is opened on every emit so that a path made unusable after
// startup (rotated away, replaced by a directory, permissions revoked)
// fails the emit instead of silently dropping events.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a sink writing to path. The parent directory is
// created eagerly; the file itself is created on first emit.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("audit: file sink path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit: create log directory: %w", err)
		}
	}
	return &FileSink{path: path}, nil
}

// Emit serializes the event to RFC 8785 canonical JSON and appends it
// as a single line. The write is flushed to the OS before returning.
func (s *FileSink) Emit(_ context.Context, e Event) error {
	line, err := canonical.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: canonicalize event %s: %w", e.EventID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: append event %s: %w", e.EventID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("audit: sync log: %w", err)
	}
	return nil
}

// Path returns the log file location.
func (s *FileSink) Path() string { return s.path }

// ReadAll re-parses every line in the log through the schema validator.
// It is used by export and by integrity checks; a corrupted line fails
// the whole read.
func (s *FileSink) ReadAll() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: read log: %w", err)
	}
	return parseLines(raw)
}

func parseLines(raw []byte) ([]Event, error) {
	var events []Event
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i != len(raw) && raw[i] != '\n' {
			continue
		}
		line := raw[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}
		e, err := ValidateRaw(line)
		if err != nil {
			return nil, fmt.Errorf("audit: log line %d invalid: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
	return events, nil
}
