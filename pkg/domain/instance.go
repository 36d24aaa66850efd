package domain

import (
	"fmt"
	"time"
)

// InstanceState is the lifecycle state of a task instance.
type InstanceState string

const (
	InstancePending   InstanceState = "pending"
	InstanceReady     InstanceState = "ready"
	InstanceRunning   InstanceState = "running"
	InstanceSucceeded InstanceState = "succeeded"
	InstanceFailed    InstanceState = "failed"
	// InstanceSkipped marks instances that never ran: downstream of a failed
	// sample under continue-on-error, or abandoned by a fail-fast stop.
	InstanceSkipped InstanceState = "skipped"
)

// IsTerminal reports whether the state is final.
func (s InstanceState) IsTerminal() bool {
	switch s {
	case InstanceSucceeded, InstanceFailed, InstanceSkipped:
		return true
	default:
		return false
	}
}

// ResourceProfile declares what one instance of a stage needs from the ledger.
type ResourceProfile struct {
	CPUs        int           `json:"cpus"`
	MemoryBytes uint64        `json:"memory_bytes"`
	WallHint    time.Duration `json:"wall_hint,omitempty"`
}

// FailurePolicy controls how the scheduler reacts to a failed instance.
type FailurePolicy string

const (
	FailFast        FailurePolicy = "fail-fast"
	ContinueOnError FailurePolicy = "continue-on-error"
)

// TaskInstance is one materialized execution of a stage for one sample, or one
// global execution for aggregate stages.
type TaskInstance struct {
	ID       string        `json:"id"`
	Node     string        `json:"node"`
	SampleID string        `json:"sample_id,omitempty"`
	State    InstanceState `json:"state"`

	Input       Tuple      `json:"-"`
	Outputs     []Artifact `json:"outputs,omitempty"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	FromCache   bool       `json:"from_cache"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Transition moves the instance to next, validating the state machine.
// pending -> ready -> running -> succeeded|failed; pending/ready -> skipped.
// A cache hit goes ready -> succeeded directly with FromCache set.
func (i *TaskInstance) Transition(next InstanceState) error {
	allowed := false
	switch i.State {
	case InstancePending:
		allowed = next == InstanceReady || next == InstanceSkipped
	case InstanceReady:
		allowed = next == InstanceRunning || next == InstanceSucceeded || next == InstanceSkipped
	case InstanceRunning:
		allowed = next == InstanceSucceeded || next == InstanceFailed
	}
	if !allowed {
		return fmt.Errorf("instance %s/%s: disallowed transition %s -> %s",
			i.Node, i.SampleID, i.State, next)
	}
	i.State = next
	return nil
}

// Duration returns wall time between start and completion, zero if unknown.
func (i *TaskInstance) Duration() time.Duration {
	if i.StartedAt == nil || i.CompletedAt == nil {
		return 0
	}
	return i.CompletedAt.Sub(*i.StartedAt)
}
