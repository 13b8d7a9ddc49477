// Package filestore holds uploaded attachments on the local filesystem,
// addressed by the SHA-256 hex digest internal/user's attachment pipeline
// computes for each upload (see user.processAttachments): the hash is both
// the storage key and the FileID a client later fetches the attachment by,
// so Save is naturally idempotent and Get needs nothing but the hash.
package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalFileStore stores attachment content under root, sharded by the
// first two hex characters of the hash so a single directory never holds
// every attachment the service has ever received.
type LocalFileStore struct {
	root string
}

// NewLocalFileStore creates root if it does not already exist.
func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) path(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.root, hash)
	}
	return filepath.Join(s.root, hash[:2], hash)
}

// Save writes r under hash. It no-ops if an attachment with that hash is
// already stored, since the same upload sent by two different users (or
// twice by one) hashes to the same content either way.
func (s *LocalFileStore) Save(r io.Reader, hash string) error {
	path := s.path(hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Get opens the attachment stored under hash, for main's GET /files/{hash}
// handler to copy to the response.
func (s *LocalFileStore) Get(hash string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", hash, err)
	}
	return f, nil
}
