package storage

import (
	"context"

	"dtl-ledger-indexer/internal/domain"
)

// DocumentStore persists one serialized ledger document under a name.
// The primary ledger and every validator replica are DocumentStores.
type DocumentStore interface {
	// Name identifies the store ("primary", "validator1", ...).
	Name() string

	// Read returns the stored bytes. Returns ErrNotFound if nothing is stored yet.
	Read(ctx context.Context) ([]byte, error)

	// Write replaces the stored bytes. Readers never observe a partial write.
	Write(ctx context.Context, data []byte) error

	// Remove deletes the stored document. Removing a missing document is not an error.
	Remove(ctx context.Context) error
}

// ContentStore is a content-addressed blob store (IPFS or a local stand-in).
// Failures wrap ErrUnavailable.
type ContentStore interface {
	// Put stores data and returns its content reference.
	Put(ctx context.Context, data []byte) (string, error)

	// Get returns the data stored under ref. Returns ErrNotFound for unknown refs.
	Get(ctx context.Context, ref string) ([]byte, error)
}

// ProjectionSink receives UTXO projections from the reconciliation loop.
type ProjectionSink interface {
	// Append records a batch of projections, oldest first.
	Append(ctx context.Context, projections []*domain.Projection) error

	// Close releases resources.
	Close() error
}
