package memory

import (
	"context"
	"fmt"
	"sync"

	"dtl-ledger-indexer/internal/idhash"
	"dtl-ledger-indexer/internal/storage"
)

// ContentStore is an in-memory content-addressed store.
// SetAvailable(false) simulates an unreachable IPFS node.
type ContentStore struct {
	mu          sync.RWMutex
	blobs       map[string][]byte
	unavailable bool
	puts        int
	gets        int
}

// NewContentStore creates a new in-memory content store.
func NewContentStore() *ContentStore {
	return &ContentStore{blobs: make(map[string][]byte)}
}

// Compile-time interface check.
var _ storage.ContentStore = (*ContentStore)(nil)

// Put stores data under its content id.
func (s *ContentStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable {
		return "", fmt.Errorf("put: %w", storage.ErrUnavailable)
	}
	ref := idhash.ComputeContentID(data)
	s.blobs[ref] = append([]byte(nil), data...)
	s.puts++
	return ref, nil
}

// Get returns the data stored under ref.
func (s *ContentStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets++
	if s.unavailable {
		return nil, fmt.Errorf("get %s: %w", ref, storage.ErrUnavailable)
	}
	data, ok := s.blobs[ref]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// SetAvailable toggles simulated availability.
func (s *ContentStore) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = !available
}

// Len returns the number of stored blobs.
func (s *ContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Gets returns the number of Get calls, including failed ones.
func (s *ContentStore) Gets() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gets
}
