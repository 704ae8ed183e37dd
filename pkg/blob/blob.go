// Package blob defines the object store the transfer pools move DICOM files
// to and from. Backends live in the s3, fs and memory subpackages.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned by Download when the key does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("blob store is closed")
)

// Store puts local files into, and gets them out of, an object store.
//
// Implementations must be safe for concurrent use: every transfer worker
// calls the same Store from its own goroutine.
type Store interface {
	// Upload copies the file at localPath to key.
	Upload(ctx context.Context, key, localPath string) error

	// Download copies key to localPath. The parent directory must exist.
	// A partially written file is never left at localPath.
	Download(ctx context.Context, key, localPath string) error

	// Name identifies the datastore, e.g. the bucket name.
	Name() string

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	Close() error
}

// WriteFileAtomic streams r into a temporary file next to path and renames
// it into place once fully written.
func WriteFileAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".part-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
