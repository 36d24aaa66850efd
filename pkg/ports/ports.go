// Package ports defines the interfaces between the orchestration engine and
// its swappable adapters: execution backends, cache stores, the event bus and
// the metrics collector.
package ports

import (
	"context"
	"time"

	"github.com/genoflow/genoflow/pkg/domain"
)

// ExecRequest describes one task-instance execution. The backend treats the
// command as opaque and side-effecting with declared expected outputs.
type ExecRequest struct {
	InstanceID string
	Node       string
	SampleID   string

	Argv    []string
	Env     map[string]string
	WorkDir string
	// Image is used by containerized backends and ignored by local ones.
	Image string
	// Mounts lists the host directories the instance reads or writes (work
	// directory, input artifacts, reference files). Containerized backends
	// must bind-mount them; local ones ignore them.
	Mounts []string

	Outputs []domain.Artifact
	Profile domain.ResourceProfile
}

// ExecResult is what a backend reports after the process finished and every
// declared output was verified present and non-empty.
type ExecResult struct {
	ExitCode  int
	Artifacts []domain.Artifact
}

// Backend runs one task instance. Implementations must be safely retryable
// given identical inputs and must honor ctx cancellation as the scheduler's
// cancellation hook.
type Backend interface {
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
	Name() string
}

// CacheStore persists cache entries keyed by fingerprint. Put must be
// first-writer-wins so concurrent dispatches cannot duplicate an entry.
type CacheStore interface {
	Get(ctx context.Context, fingerprint string) (*domain.CacheEntry, error)
	Put(ctx context.Context, entry *domain.CacheEntry) error
	Delete(ctx context.Context, fingerprint string) error
}

// EventHandler consumes one run event.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes run/instance events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// MetricsCollector records engine metrics.
type MetricsCollector interface {
	RecordInstanceStarted(node string)
	RecordInstanceFinished(node string, state domain.InstanceState, d time.Duration)
	RecordCacheHit(node string)
	RecordCacheMiss(node string)
	RecordJoinStarved(node string, keys int)
	SetLedgerUtilization(cpu, memory float64)
	RecordRunCompleted(status domain.RunStatus, d time.Duration)
}

// NopMetrics discards all metrics. Useful for tests.
type NopMetrics struct{}

func (NopMetrics) RecordInstanceStarted(string)                                       {}
func (NopMetrics) RecordInstanceFinished(string, domain.InstanceState, time.Duration) {}
func (NopMetrics) RecordCacheHit(string)                                              {}
func (NopMetrics) RecordCacheMiss(string)                                             {}
func (NopMetrics) RecordJoinStarved(string, int)                                      {}
func (NopMetrics) SetLedgerUtilization(float64, float64)                              {}
func (NopMetrics) RecordRunCompleted(domain.RunStatus, time.Duration)                 {}

// NopBus discards all events. Useful for tests.
type NopBus struct{}

func (NopBus) Publish(context.Context, string, domain.Event) error   { return nil }
func (NopBus) Subscribe(context.Context, string, EventHandler) error { return nil }
func (NopBus) Close() error                                          { return nil }
