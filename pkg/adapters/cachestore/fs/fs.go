// Package fs implements the cache store on the local filesystem.
package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/genoflow/genoflow/pkg/domain"
)

// Store keeps one JSON document per fingerprint:
//
//	{Dir}/
//	  {fingerprint[0:2]}/
//	    {fingerprint}.json
//
// Writes go to a temp file and rename into place so a crash never leaves a
// corrupt entry at the canonical path. An existing entry is never overwritten:
// the first writer for a fingerprint wins.
type Store struct {
	dir string
}

// New creates a filesystem cache store rooted at dir.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Get retrieves an entry, nil when absent.
func (s *Store) Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	data, err := os.ReadFile(s.entryPath(fingerprint))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// A corrupt entry reads as a miss; it will be rewritten on success.
		return nil, nil
	}
	return &entry, nil
}

// Put stores an entry unless one already exists for the fingerprint.
func (s *Store) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	path := s.entryPath(entry.Fingerprint)
	if _, err := os.Stat(path); err == nil {
		return nil // first writer won already
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp cache entry: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing cache entry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	return nil
}

// Delete removes an entry; used by operators to force one re-execution.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	err := os.Remove(s.entryPath(fingerprint))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// entryPath shards by the first two fingerprint characters to keep any single
// directory small.
func (s *Store) entryPath(fingerprint string) string {
	if len(fingerprint) < 2 {
		return filepath.Join(s.dir, fingerprint+".json")
	}
	return filepath.Join(s.dir, fingerprint[:2], fingerprint+".json")
}
