package postgres

import (
	"context"

	"dtl-ledger-indexer/internal/storage"
)

// ChainProgressStore is a PostgreSQL implementation of storage.ChainProgressStore.
// Uses a single-row table chain_progress keyed by listener name.
type ChainProgressStore struct {
	pool     *Pool
	listener string
}

// NewChainProgressStore creates a new PostgreSQL chain progress store.
func NewChainProgressStore(pool *Pool, listener string) *ChainProgressStore {
	if listener == "" {
		listener = "default"
	}
	return &ChainProgressStore{pool: pool, listener: listener}
}

// Compile-time interface check.
var _ storage.ChainProgressStore = (*ChainProgressStore)(nil)

// GetLastProcessed returns the last processed block.
func (s *ChainProgressStore) GetLastProcessed(ctx context.Context) (*storage.ChainProgress, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT block_number, tx_hash
		FROM chain_progress
		WHERE listener = $1
	`, s.listener)

	var progress storage.ChainProgress
	var block int64
	if err := row.Scan(&block, &progress.TxHash); err != nil {
		if noRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	progress.Block = uint64(block)

	return &progress, nil
}

// SetLastProcessed saves the last processed block.
// Uses upsert to handle initial insert and subsequent updates.
func (s *ChainProgressStore) SetLastProcessed(ctx context.Context, progress *storage.ChainProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chain_progress (listener, block_number, tx_hash, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (listener) DO UPDATE
		SET block_number = EXCLUDED.block_number,
		    tx_hash = EXCLUDED.tx_hash,
		    updated_at = NOW()
	`, s.listener, int64(progress.Block), progress.TxHash)

	return err
}
