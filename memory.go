package hashiru

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// MemoryRecord is one persisted memory: a caller-chosen unique key plus a
// short text. Keys are unique; content is not deduplicated.
type MemoryRecord struct {
	Key    string `json:"key"`
	Memory string `json:"memory"`
}

// MemoryStore is a file-backed list of MemoryRecords serialized as a JSON
// array. Writes go through a temp file in the same directory followed by a
// rename, so the file is valid JSON at rest even across crashes.
type MemoryStore struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryLogger sets the structured logger for store operations.
func WithMemoryLogger(l *slog.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = l }
}

// NewMemoryStore creates a store persisting to path. The file is created
// lazily on first write; a missing file reads as an empty list.
func NewMemoryStore(path string, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{path: path, logger: nopLogger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns all records in insertion order.
func (s *MemoryStore) List() ([]MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Add appends a record. Fails with *ErrDuplicateKey if the key is present;
// the store is not mutated on failure.
func (s *MemoryStore) Add(key, memory string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Key == key {
			return &ErrDuplicateKey{Key: key}
		}
	}
	records = append(records, MemoryRecord{Key: key, Memory: memory})
	return s.writeLocked(records)
}

// Delete removes the record with the given key. Fails with *ErrNotFound
// when absent.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readLocked()
	if err != nil {
		return err
	}
	for i, r := range records {
		if r.Key == key {
			records = append(records[:i], records[i+1:]...)
			return s.writeLocked(records)
		}
	}
	return &ErrNotFound{Key: key}
}

// ReplaceAll overwrites the store with the given records. Test seam.
func (s *MemoryStore) ReplaceAll(records []MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(records)
}

func (s *MemoryStore) readLocked() ([]MemoryRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read memory file: %w", err)
	}
	var records []MemoryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse memory file: %w", err)
	}
	return records, nil
}

func (s *MemoryStore) writeLocked(records []MemoryRecord) error {
	if records == nil {
		records = []MemoryRecord{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode memory file: %w", err)
	}
	return atomicWriteFile(s.path, data)
}

// atomicWriteFile writes data to a temp file in path's directory and
// renames it into place. Shared by the memory store and the agent catalog.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
