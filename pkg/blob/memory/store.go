// Package memory implements an in-process blob.Store for tests and local
// experiments.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/marmos91/dicomgw/pkg/blob"
	"github.com/marmos91/dicomgw/pkg/errkind"
)

// Store holds blobs in a map.
type Store struct {
	name string

	mu      sync.RWMutex
	objects map[string][]byte
	closed  bool

	// failures maps a key to the number of upcoming operations on it that
	// fail with a transient error.
	failures map[string]int
	uploads  int
}

// New creates an empty store reporting name as its datastore id.
func New(name string) *Store {
	return &Store{
		name:     name,
		objects:  make(map[string][]byte),
		failures: make(map[string]int),
	}
}

// Put stores data under key directly.
func (s *Store) Put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
}

// Get returns the data under key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	return data, ok
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailNext makes the next n operations on key fail transiently.
func (s *Store) FailNext(key string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key] = n
}

// Uploads returns the number of successful uploads.
func (s *Store) Uploads() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uploads
}

// consumeFailure must be called with mu held.
func (s *Store) consumeFailure(key string) bool {
	if n := s.failures[key]; n > 0 {
		s.failures[key] = n - 1
		return true
	}
	return false
}

func (s *Store) Upload(_ context.Context, key, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return errkind.Fatal("memory.upload", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return blob.ErrStoreClosed
	}
	if s.consumeFailure(key) {
		return errkind.Transientf("memory.upload", fmt.Errorf("injected failure for %s", key))
	}
	s.objects[key] = data
	s.uploads++
	return nil
}

func (s *Store) Download(_ context.Context, key, localPath string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return blob.ErrStoreClosed
	}
	if s.consumeFailure(key) {
		s.mu.Unlock()
		return errkind.Transientf("memory.download", fmt.Errorf("injected failure for %s", key))
	}
	data, ok := s.objects[key]
	s.mu.Unlock()

	if !ok {
		return errkind.Fatal("memory.download", fmt.Errorf("%s: %w", key, blob.ErrNotFound))
	}
	if err := blob.WriteFileAtomic(localPath, bytes.NewReader(data)); err != nil {
		return errkind.Transientf("memory.download", err)
	}
	return nil
}

func (s *Store) Name() string {
	return s.name
}

func (s *Store) HealthCheck(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return blob.ErrStoreClosed
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
