package domain

import "time"

// RunStatus is the aggregate state of a whole run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// InstanceRecord is the reportable outcome of one instance.
type InstanceRecord struct {
	Node      string        `json:"node"`
	SampleID  string        `json:"sample_id,omitempty"`
	State     InstanceState `json:"state"`
	FromCache bool          `json:"from_cache"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// FailedPair identifies one (sample, stage) failure for the final summary.
type FailedPair struct {
	SampleID string `json:"sample_id"`
	Node     string `json:"node"`
	Reason   string `json:"reason"`
}

// RunSummary is what the scheduler hands back to the run controller. The
// report and notification layers consume it; it never feeds back into the DAG.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	Status    RunStatus     `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Instances []InstanceRecord `json:"instances"`
	Failures  []FailedPair     `json:"failures,omitempty"`

	// StarvedJoins maps node name to the keys that never completed across all
	// of its joined inputs before shutdown. A warning, not a failure.
	StarvedJoins map[string][]string `json:"starved_joins,omitempty"`

	CacheHits   int `json:"cache_hits"`
	Dispatched  int `json:"dispatched"`
	SampleCount int `json:"sample_count"`
}
