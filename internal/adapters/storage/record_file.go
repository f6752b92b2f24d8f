package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
	"github.com/lcalzada-xor/devicenames/internal/core/ports"
)

// FileStore persists the record as a JSON document on disk.
// Writes go to a temporary file that is renamed over the target, so readers
// see either the old or the new document.
type FileStore struct {
	path   string
	mu     sync.Mutex
	closed atomic.Bool
}

type fileDocument struct {
	Table       map[string]string `json:"table"`
	LastUpdated *int64            `json:"last_updated"`
}

// NewFileStore creates a store backed by path. The parent directory is
// created if needed.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	return &FileStore{path: path}, nil
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Load implements ports.RecordStore
func (s *FileStore) Load(ctx context.Context) (*domain.Record, error) {
	if s.closed.Load() {
		return nil, &domain.StorageError{Op: "load", Err: domain.ErrStoreClosed}
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "load", Err: err}
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domain.StorageError{Op: "load", Err: fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)}
	}
	if doc.LastUpdated == nil {
		return nil, &domain.StorageError{Op: "load", Err: fmt.Errorf("%w: missing last_updated", domain.ErrCorruptRecord)}
	}

	table := domain.Table(doc.Table)
	if table == nil {
		table = make(domain.Table)
	}
	return &domain.Record{Table: table, LastUpdated: *doc.LastUpdated}, nil
}

// Save implements ports.RecordStore
func (s *FileStore) Save(ctx context.Context, rec domain.Record) error {
	if s.closed.Load() {
		return &domain.StorageError{Op: "save", Err: domain.ErrStoreClosed}
	}

	lastUpdated := rec.LastUpdated
	data, err := json.Marshal(fileDocument{Table: rec.Table, LastUpdated: &lastUpdated})
	if err != nil {
		return &domain.StorageError{Op: "encode", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, data); err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	return nil
}

// Close implements ports.RecordStore
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

var _ ports.RecordStore = (*FileStore)(nil)
