// Package fs implements blob.Store on a local or mounted directory.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/marmos91/dicomgw/pkg/blob"
	"github.com/marmos91/dicomgw/pkg/errkind"
)

// Config configures the filesystem store.
type Config struct {
	// Root is the directory keys are resolved under.
	Root string `mapstructure:"root" yaml:"root"`

	// CreateDir creates Root when it does not exist.
	CreateDir bool `mapstructure:"create_dir" yaml:"create_dir"`
}

// Store keeps blobs as files under Root, using the key as relative path.
type Store struct {
	root string

	mu     sync.RWMutex
	closed bool
}

// New opens a filesystem store.
func New(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("fs blob root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	info, err := os.Stat(root)
	switch {
	case os.IsNotExist(err) && cfg.CreateDir:
		if err := os.MkdirAll(root, 0755); err != nil {
			return nil, fmt.Errorf("create root %s: %w", root, err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat root %s: %w", root, err)
	case !info.IsDir():
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	return &Store{root: root}, nil
}

// resolve maps a key to a path under root, rejecting escapes.
func (s *Store) resolve(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(key))
	p := filepath.Join(s.root, clean)
	if p != s.root && !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes root", key)
	}
	return p, nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return blob.ErrStoreClosed
	}
	return nil
}

// Upload copies localPath to key.
func (s *Store) Upload(_ context.Context, key, localPath string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	dst, err := s.resolve(key)
	if err != nil {
		return errkind.Fatal("fs.upload", err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return errkind.Fatal("fs.upload", fmt.Errorf("open %s: %w", localPath, err))
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errkind.Transientf("fs.upload", err)
	}
	if err := blob.WriteFileAtomic(dst, src); err != nil {
		return errkind.Transientf("fs.upload", err)
	}
	return nil
}

// Download copies key to localPath.
func (s *Store) Download(_ context.Context, key, localPath string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	srcPath, err := s.resolve(key)
	if err != nil {
		return errkind.Fatal("fs.download", err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errkind.Fatal("fs.download", fmt.Errorf("%s: %w", key, blob.ErrNotFound))
		}
		return errkind.Transientf("fs.download", err)
	}
	defer func() { _ = src.Close() }()

	if err := blob.WriteFileAtomic(localPath, src); err != nil {
		return errkind.Transientf("fs.download", err)
	}
	return nil
}

// Name returns the root directory.
func (s *Store) Name() string {
	return s.root
}

// HealthCheck verifies root is still a directory.
func (s *Store) HealthCheck(context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("fs health check failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("fs health check failed: %s is not a directory", s.root)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ blob.Store = (*Store)(nil)
