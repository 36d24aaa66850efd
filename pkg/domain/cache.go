package domain

import "time"

// CacheEntry remembers one successfully completed instance keyed by content
// fingerprint. Entries carry the epoch they were written under; entries from a
// stale epoch are ignored, never deleted.
type CacheEntry struct {
	Fingerprint string     `json:"fingerprint"`
	Epoch       string     `json:"epoch"`
	Node        string     `json:"node"`
	SampleID    string     `json:"sample_id,omitempty"`
	Outputs     []Artifact `json:"outputs"`
	CreatedAt   time.Time  `json:"created_at"`
}
