package cache

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/genoflow/genoflow/pkg/domain"
	"github.com/genoflow/genoflow/pkg/ports"
)

// Manager fronts a CacheStore with epoch checks and output verification. A hit
// counts only when the entry's epoch matches and every recorded output is
// still present and non-empty; corruption is self-detected here, before any
// cached tuple is published downstream.
type Manager struct {
	store  ports.CacheStore
	epoch  string
	logger *zap.Logger
}

// NewManager creates a cache manager. A nil store disables the layer: every
// probe misses and records are dropped.
func NewManager(store ports.CacheStore, epoch string, logger *zap.Logger) *Manager {
	return &Manager{store: store, epoch: epoch, logger: logger}
}

// Epoch returns the run's cache epoch token.
func (m *Manager) Epoch() string { return m.epoch }

// Probe checks whether the fingerprint can be satisfied from cache.
func (m *Manager) Probe(ctx context.Context, fingerprint string) (*domain.CacheEntry, bool) {
	if m.store == nil {
		return nil, false
	}
	entry, err := m.store.Get(ctx, fingerprint)
	if err != nil {
		m.logger.Warn("cache probe failed, treating as miss",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	if entry.Epoch != m.epoch {
		// Stale epochs are ignored, not deleted.
		m.logger.Debug("ignoring stale cache epoch",
			zap.String("node", entry.Node),
			zap.String("entry_epoch", entry.Epoch),
			zap.String("run_epoch", m.epoch))
		return nil, false
	}
	for _, out := range entry.Outputs {
		info, err := os.Stat(out.Path)
		if err != nil || info.Size() == 0 {
			m.logger.Warn("cached output missing or empty, treating as miss",
				zap.String("node", entry.Node),
				zap.String("sample", entry.SampleID),
				zap.String("path", out.Path))
			return nil, false
		}
	}
	return entry, true
}

// Record stores a new entry after a successful execution.
func (m *Manager) Record(ctx context.Context, fingerprint, node, sampleID string, outputs []domain.Artifact) {
	if m.store == nil {
		return
	}
	entry := &domain.CacheEntry{
		Fingerprint: fingerprint,
		Epoch:       m.epoch,
		Node:        node,
		SampleID:    sampleID,
		Outputs:     outputs,
		CreatedAt:   time.Now(),
	}
	if err := m.store.Put(ctx, entry); err != nil {
		m.logger.Warn("failed to record cache entry",
			zap.String("node", node),
			zap.String("sample", sampleID),
			zap.Error(err))
	}
}
