package storage

import (
	"context"
	"sync"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
	"github.com/lcalzada-xor/devicenames/internal/core/ports"
)

// MemoryStore keeps the record in process memory only.
type MemoryStore struct {
	mu     sync.RWMutex
	rec    *domain.Record
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements ports.RecordStore
func (s *MemoryStore) Load(ctx context.Context) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &domain.StorageError{Op: "load", Err: domain.ErrStoreClosed}
	}
	if s.rec == nil {
		return nil, nil
	}
	return &domain.Record{Table: s.rec.Table.Clone(), LastUpdated: s.rec.LastUpdated}, nil
}

// Save implements ports.RecordStore
func (s *MemoryStore) Save(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &domain.StorageError{Op: "save", Err: domain.ErrStoreClosed}
	}
	s.rec = &domain.Record{Table: rec.Table.Clone(), LastUpdated: rec.LastUpdated}
	return nil
}

// Close implements ports.RecordStore
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ ports.RecordStore = (*MemoryStore)(nil)
