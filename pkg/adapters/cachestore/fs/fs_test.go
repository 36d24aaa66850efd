package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genoflow/genoflow/pkg/domain"
)

func entry(fp, node string) *domain.CacheEntry {
	return &domain.CacheEntry{
		Fingerprint: fp,
		Epoch:       "v1",
		Node:        node,
		SampleID:    "S1",
		Outputs:     []domain.Artifact{{Name: "bam", Path: "/w/S1.bam"}},
		CreatedAt:   time.Now(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entry("abcd1234", "align")))

	got, err := s.Get(ctx, "abcd1234")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "align", got.Node)
	assert.Equal(t, "v1", got.Epoch)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, "/w/S1.bam", got.Outputs[0].Path)
}

func TestStoreMissReturnsNil(t *testing.T) {
	s := New(t.TempDir())

	got, err := s.Get(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreFirstWriterWins(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entry("abcd1234", "align")))
	require.NoError(t, s.Put(ctx, entry("abcd1234", "other")))

	got, err := s.Get(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "align", got.Node)
}

func TestStoreDelete(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entry("abcd1234", "align")))
	require.NoError(t, s.Delete(ctx, "abcd1234"))

	got, err := s.Get(ctx, "abcd1234")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent entry is not an error.
	require.NoError(t, s.Delete(ctx, "abcd1234"))
}

func TestStoreCorruptEntryReadsAsMiss(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	path := filepath.Join(dir, "ab", "abcd1234.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	got, err := s.Get(context.Background(), "abcd1234")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreShardsByPrefix(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	require.NoError(t, s.Put(context.Background(), entry("abcd1234", "align")))

	_, err := os.Stat(filepath.Join(dir, "ab", "abcd1234.json"))
	require.NoError(t, err)
}
