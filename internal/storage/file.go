package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// maxLine bounds a single audit line on read.
const maxLine = 1 << 20

var ErrClosed = errors.New("recorder is closed")

// FileRecorder appends check events as JSON lines to one file kept open for
// the life of the process.
type FileRecorder struct {
	path string

	mu sync.Mutex
	f  *os.File
}

var _ Recorder = (*FileRecorder)(nil)

func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &FileRecorder{path: path, f: f}, nil
}

func (r *FileRecorder) AppendCheck(event CheckEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode check: %w", err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return ErrClosed
	}
	if _, err := r.f.Write(line); err != nil {
		return fmt.Errorf("append check: %w", err)
	}
	return nil
}

// LoadChecks reads the whole log. Lines that do not decode are skipped.
func (r *FileRecorder) LoadChecks() ([]CheckEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), maxLine)
	var events []CheckEvent
	for s.Scan() {
		var ev CheckEvent
		if err := json.Unmarshal(s.Bytes(), &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return events, nil
}

// Close flushes and closes the log. Later appends fail with ErrClosed.
func (r *FileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
