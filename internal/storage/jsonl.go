package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"multiwatch/internal/model"
)

// JSONLSink appends update records to a file, one object per line. The file
// is opened on the first batch and stays open until Close.
type JSONLSink struct {
	path string

	mu   sync.Mutex
	file *os.File
}

func NewJSONLSink(path string) *JSONLSink {
	return &JSONLSink{path: path}
}

func (s *JSONLSink) openLocked() error {
	if s.file != nil {
		return nil
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	s.file = file
	return nil
}

// PutUpdates writes a poll's records with a single flush so a batch is not
// interleaved with another writer's.
func (s *JSONLSink) PutUpdates(_ context.Context, records []model.UpdateRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(); err != nil {
		return err
	}

	buf := bufio.NewWriter(s.file)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode %s at block %d: %w", r.Key, r.BlockNumber, err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("append to %s: %w", s.path, err)
	}
	return nil
}

// Close releases the file. A later batch reopens it.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
