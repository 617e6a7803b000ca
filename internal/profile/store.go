// Package profile persists browser identity records as JSON documents,
// one file per namespace, read and written wholesale.
package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/fpwarden/api/schemas"
)

// ErrNotFound is returned when no record exists at the given path.
var ErrNotFound = errors.New("profile record not found")

// Store reads and writes profile records. Mutating callers (the audit
// orchestrator, the normalizer) must hold the per-path advisory lock
// for the whole read-modify-write cycle, since records carry no version
// stamps.
type Store struct {
	log   *zap.Logger
	locks sync.Map // clean path -> *sync.Mutex
}

// NewStore creates a record store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{log: logger.Named("store")}
}

// Lock acquires the advisory lock for a record path and returns the
// unlock function.
func (s *Store) Lock(path string) func() {
	key := filepath.Clean(path)
	mu, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Load reads the whole record at path.
func (s *Store) Load(path string) (schemas.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read profile record: %w", err)
	}

	var p schemas.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile record %s: %w", path, err)
	}
	return p, nil
}

// Save writes the whole record back to path.
func (s *Store) Save(path string, p schemas.Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write profile record %s: %w", path, err)
	}
	s.log.Debug("Profile record written", zap.String("path", path))
	return nil
}

// ListNamespaces returns all namespace record paths under the profiles
// root directory.
func (s *Store) ListNamespaces(root string) ([]string, error) {
	pattern := filepath.Join(root, "profile_*", "namespaces", "*", "namespace.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to scan profiles dir %s: %w", root, err)
	}
	return matches, nil
}
