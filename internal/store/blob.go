// Package store provides the local record store, storage accounting, and
// the eviction and cleanup policies that keep the field client inside its
// storage budget.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// PhotoBlobStore stores photo bytes by their content hash (SHA-256).
// Identical captures are stored only once; eviction deletes the blob while
// the photo row keeps the hash for later re-download.
type PhotoBlobStore struct {
	baseDir string
}

// NewPhotoBlobStore creates a PhotoBlobStore rooted at baseDir.
func NewPhotoBlobStore(baseDir string) *PhotoBlobStore {
	return &PhotoBlobStore{baseDir: baseDir}
}

// HashBytes calculates the SHA-256 hash of photo content.
func HashBytes(data []byte) string {
	h := sha256.New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashReader calculates the SHA-256 hash from an io.Reader.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to calculate hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Store writes data and returns its content hash. Files live at
// baseDir/{hash[0:2]}/{hash[2:4]}/{hash}, a two-level fan-out that keeps
// directories small.
func (s *PhotoBlobStore) Store(data []byte) (string, error) {
	hash := HashBytes(data)

	dir := filepath.Join(s.baseDir, hash[0:2], hash[2:4])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	path := filepath.Join(dir, hash)

	// Already present: identical content, nothing to write.
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}

	return hash, nil
}

// Retrieve reads photo bytes by content hash and verifies them against it.
func (s *PhotoBlobStore) Retrieve(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	if got := HashBytes(data); got != hash {
		return nil, fmt.Errorf("blob hash mismatch: expected %s, got %s", hash, got)
	}

	return data, nil
}

// Delete removes a blob by content hash. Deleting an absent blob is not an
// error.
func (s *PhotoBlobStore) Delete(hash string) error {
	path := s.path(hash)

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	// Opportunistically drop empty fan-out directories.
	dir := filepath.Dir(path)
	os.Remove(dir)
	os.Remove(filepath.Dir(dir))

	return nil
}

// Exists checks whether a blob is present for the given hash.
func (s *PhotoBlobStore) Exists(hash string) bool {
	_, err := os.Stat(s.path(hash))
	return err == nil
}

// Size returns the stored size of a blob in bytes.
func (s *PhotoBlobStore) Size(hash string) (int64, error) {
	info, err := os.Stat(s.path(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("blob not found: %w", err)
		}
		return 0, fmt.Errorf("failed to stat blob: %w", err)
	}
	return info.Size(), nil
}

func (s *PhotoBlobStore) path(hash string) string {
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash)
}
