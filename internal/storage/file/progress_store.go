package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"dtl-ledger-indexer/internal/storage"
)

// DefaultProgressFile is the conventional cursor file name.
const DefaultProgressFile = ".last_processed_block"

// ChainProgressStore keeps the chain cursor as a decimal block number in a
// small text file.
type ChainProgressStore struct {
	path string
}

// NewChainProgressStore creates a progress store backed by path.
func NewChainProgressStore(path string) *ChainProgressStore {
	return &ChainProgressStore{path: path}
}

// Compile-time interface check.
var _ storage.ChainProgressStore = (*ChainProgressStore)(nil)

// GetLastProcessed reads the block number from the file.
func (s *ChainProgressStore) GetLastProcessed(_ context.Context) (*storage.ChainProgress, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read progress: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil, storage.ErrNotFound
	}
	block, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse progress %q: %w", text, err)
	}
	return &storage.ChainProgress{Block: block}, nil
}

// SetLastProcessed writes the block number atomically.
func (s *ChainProgressStore) SetLastProcessed(_ context.Context, progress *storage.ChainProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}
	return writeAtomic(s.path, []byte(strconv.FormatUint(progress.Block, 10)))
}
