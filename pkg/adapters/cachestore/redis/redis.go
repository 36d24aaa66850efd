// Package redis implements the cache store on Redis, for coordinating
// processes that share a cache across hosts.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/genoflow/genoflow/pkg/domain"
)

// Store keeps cache entries as JSON values under a fixed key prefix with a
// TTL. SetNX gives atomic first-writer-wins semantics so concurrent
// dispatches for the same fingerprint never duplicate an entry.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a Redis cache store.
func New(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{client: client, ttl: ttl, logger: logger}
}

// Get retrieves an entry, nil when absent.
func (s *Store) Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, error) {
	data, err := s.client.Get(ctx, entryKey(fingerprint)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("corrupt cache entry, treating as miss",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		return nil, nil
	}
	return &entry, nil
}

// Put stores an entry unless one already exists for the fingerprint.
func (s *Store) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("cache entry is nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	ok, err := s.client.SetNX(ctx, entryKey(entry.Fingerprint), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save cache entry: %w", err)
	}
	if !ok {
		s.logger.Debug("cache entry already present",
			zap.String("node", entry.Node),
			zap.String("fingerprint", entry.Fingerprint))
	}
	return nil
}

// Delete removes an entry.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, entryKey(fingerprint)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func entryKey(fingerprint string) string {
	return "genoflow:cache:" + fingerprint
}
