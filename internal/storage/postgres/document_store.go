package postgres

import (
	"context"
	"fmt"

	"dtl-ledger-indexer/internal/idhash"
	"dtl-ledger-indexer/internal/storage"
)

// DocumentStore is a PostgreSQL implementation of storage.DocumentStore.
// Each named document is one row in ledger_documents; writes are upserts, so
// a replica row always holds a complete document.
type DocumentStore struct {
	pool *Pool
	name string
}

// NewDocumentStore creates a document store for the named row.
func NewDocumentStore(pool *Pool, name string) *DocumentStore {
	return &DocumentStore{pool: pool, name: name}
}

// Compile-time interface check.
var _ storage.DocumentStore = (*DocumentStore)(nil)

// Name returns the document name.
func (s *DocumentStore) Name() string {
	return s.name
}

// Read returns the stored document body.
func (s *DocumentStore) Read(ctx context.Context) ([]byte, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT body
		FROM ledger_documents
		WHERE name = $1
	`, s.name)

	var body []byte
	if err := row.Scan(&body); err != nil {
		if noRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read document %s: %w", s.name, err)
	}
	return body, nil
}

// Write upserts the document body together with its digest.
func (s *DocumentStore) Write(ctx context.Context, data []byte) error {
	if data == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_documents (name, body, digest, size_bytes, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (name) DO UPDATE
		SET body = EXCLUDED.body,
		    digest = EXCLUDED.digest,
		    size_bytes = EXCLUDED.size_bytes,
		    updated_at = NOW()
	`, s.name, data, idhash.DocumentDigest(data), len(data))
	if err != nil {
		return fmt.Errorf("write document %s: %w", s.name, err)
	}
	return nil
}

// Remove deletes the document row.
func (s *DocumentStore) Remove(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ledger_documents WHERE name = $1`, s.name)
	if err != nil {
		return fmt.Errorf("remove document %s: %w", s.name, err)
	}
	return nil
}

// Digest returns the stored digest without transferring the body.
func (s *DocumentStore) Digest(ctx context.Context) (string, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT digest
		FROM ledger_documents
		WHERE name = $1
	`, s.name)

	var digest string
	if err := row.Scan(&digest); err != nil {
		if noRows(err) {
			return "", storage.ErrNotFound
		}
		return "", err
	}
	return digest, nil
}
