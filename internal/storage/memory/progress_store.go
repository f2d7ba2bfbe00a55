package memory

import (
	"context"
	"sync"

	"dtl-ledger-indexer/internal/storage"
)

// ChainProgressStore is an in-memory implementation of storage.ChainProgressStore.
type ChainProgressStore struct {
	mu       sync.RWMutex
	progress *storage.ChainProgress
}

// NewChainProgressStore creates a new in-memory chain progress store.
func NewChainProgressStore() *ChainProgressStore {
	return &ChainProgressStore{}
}

// Compile-time interface check.
var _ storage.ChainProgressStore = (*ChainProgressStore)(nil)

// GetLastProcessed returns the last processed block.
func (s *ChainProgressStore) GetLastProcessed(_ context.Context) (*storage.ChainProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.progress == nil {
		return nil, storage.ErrNotFound
	}

	p := *s.progress
	return &p, nil
}

// SetLastProcessed saves the last processed block.
func (s *ChainProgressStore) SetLastProcessed(_ context.Context, progress *storage.ChainProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := *progress
	s.progress = &p
	return nil
}
