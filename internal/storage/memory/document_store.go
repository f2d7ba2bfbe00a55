package memory

import (
	"context"
	"fmt"
	"sync"

	"dtl-ledger-indexer/internal/storage"
)

// DocumentStore is an in-memory implementation of storage.DocumentStore.
// Write failures can be injected with FailWrites for replica tests.
type DocumentStore struct {
	name string

	mu       sync.RWMutex
	data     []byte
	writes   int
	failWith error
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore(name string) *DocumentStore {
	return &DocumentStore{name: name}
}

// Compile-time interface check.
var _ storage.DocumentStore = (*DocumentStore)(nil)

// Name returns the store name.
func (s *DocumentStore) Name() string {
	return s.name
}

// Read returns a copy of the stored document.
func (s *DocumentStore) Read(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.data == nil {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

// Write replaces the stored document.
func (s *DocumentStore) Write(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return fmt.Errorf("write %s: %w", s.name, s.failWith)
	}
	s.data = make([]byte, len(data))
	copy(s.data, data)
	s.writes++
	return nil
}

// Remove clears the stored document.
func (s *DocumentStore) Remove(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = nil
	return nil
}

// FailWrites makes every subsequent Write return err. Pass nil to heal.
func (s *DocumentStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Writes returns the number of successful writes.
func (s *DocumentStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Set stores raw bytes directly, bypassing failure injection.
// Used to seed corrupt or legacy documents.
func (s *DocumentStore) Set(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
}
