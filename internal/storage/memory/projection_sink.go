package memory

import (
	"context"
	"fmt"
	"sync"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/storage"
)

// ProjectionSink collects projections in memory.
type ProjectionSink struct {
	mu          sync.RWMutex
	projections []*domain.Projection
	failWith    error
}

// NewProjectionSink creates a new in-memory projection sink.
func NewProjectionSink() *ProjectionSink {
	return &ProjectionSink{}
}

// Compile-time interface check.
var _ storage.ProjectionSink = (*ProjectionSink)(nil)

// Append records projections.
func (s *ProjectionSink) Append(_ context.Context, projections []*domain.Projection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return fmt.Errorf("append: %w", s.failWith)
	}
	s.projections = append(s.projections, projections...)
	return nil
}

// Close is a no-op.
func (s *ProjectionSink) Close() error {
	return nil
}

// FailAppends makes every subsequent Append return err. Pass nil to heal.
func (s *ProjectionSink) FailAppends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// All returns a copy of the collected projections.
func (s *ProjectionSink) All() []*domain.Projection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*domain.Projection(nil), s.projections...)
}
