package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"dtl-ledger-indexer/internal/idhash"
	"dtl-ledger-indexer/internal/storage"
)

// ContentStore is a content-addressed directory: each blob is stored in a
// file named after its content id. Used when no IPFS node is configured.
type ContentStore struct {
	dir string
}

// NewContentStore creates a content store rooted at dir.
func NewContentStore(dir string) *ContentStore {
	return &ContentStore{dir: dir}
}

// Compile-time interface check.
var _ storage.ContentStore = (*ContentStore)(nil)

// Put stores data and returns its content id.
func (s *ContentStore) Put(_ context.Context, data []byte) (string, error) {
	ref := idhash.ComputeContentID(data)
	path := filepath.Join(s.dir, ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("put %s: %v: %w", ref, err, storage.ErrUnavailable)
	}
	return ref, nil
}

// Get reads the blob stored under ref.
func (s *ContentStore) Get(_ context.Context, ref string) ([]byte, error) {
	if ref == "" || strings.ContainsAny(ref, `/\.`) {
		return nil, storage.ErrInvalidInput
	}
	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %v: %w", ref, err, storage.ErrUnavailable)
	}
	return data, nil
}
