// Package file provides filesystem-backed stores: the JSON ledger
// documents, the chain cursor file and a local content-addressed store.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"dtl-ledger-indexer/internal/storage"
)

// DocumentStore is a filesystem implementation of storage.DocumentStore.
// Writes go to a temp file in the same directory, are fsynced, then renamed
// over the target, so concurrent readers see either the old or new document.
type DocumentStore struct {
	name string
	path string
}

// NewDocumentStore creates a document store for path.
func NewDocumentStore(name, path string) *DocumentStore {
	return &DocumentStore{name: name, path: path}
}

// Compile-time interface check.
var _ storage.DocumentStore = (*DocumentStore)(nil)

// Name returns the store name.
func (s *DocumentStore) Name() string {
	return s.name
}

// Path returns the document path.
func (s *DocumentStore) Path() string {
	return s.path
}

// Read returns the file contents.
func (s *DocumentStore) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return data, nil
}

// Write atomically replaces the file contents.
func (s *DocumentStore) Write(_ context.Context, data []byte) error {
	return writeAtomic(s.path, data)
}

// Remove deletes the file.
func (s *DocumentStore) Remove(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	return nil
}

// Quarantine renames the current file to <path>.corrupt-<suffix> and returns
// the new path. Used to keep unreadable documents for inspection.
func (s *DocumentStore) Quarantine(suffix string) (string, error) {
	target := fmt.Sprintf("%s.corrupt-%s", s.path, suffix)
	if err := os.Rename(s.path, target); err != nil {
		return "", fmt.Errorf("quarantine %s: %w", s.path, err)
	}
	return target, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
