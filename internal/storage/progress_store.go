package storage

import "context"

// ChainProgress represents the last processed position in the external chain.
type ChainProgress struct {
	Block  uint64 // last fully processed block number
	TxHash string // last processed transaction hash within Block (informational)
}

// ChainProgressStore provides persistence for the chain listener cursor.
// This enables resumption after restarts without reprocessing blocks.
type ChainProgressStore interface {
	// GetLastProcessed returns the last processed block.
	// Returns ErrNotFound if no progress has been saved yet.
	GetLastProcessed(ctx context.Context) (*ChainProgress, error)

	// SetLastProcessed saves the last processed block.
	SetLastProcessed(ctx context.Context, progress *ChainProgress) error
}
