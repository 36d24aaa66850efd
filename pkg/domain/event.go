package domain

import "time"

// EventType identifies what happened during a run.
type EventType string

const (
	EventRunStarted        EventType = "run.started"
	EventRunCompleted      EventType = "run.completed"
	EventRunFailed         EventType = "run.failed"
	EventInstanceReady     EventType = "instance.ready"
	EventInstanceStarted   EventType = "instance.started"
	EventInstanceSucceeded EventType = "instance.succeeded"
	EventInstanceFailed    EventType = "instance.failed"
	EventInstanceSkipped   EventType = "instance.skipped"
	EventInstanceCached    EventType = "instance.cached"
	EventJoinStarved       EventType = "join.starved"
)

// Event is published on the run event bus; the websocket stream, the metrics
// layer and the final report are pure consumers.
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RunID     string                 `json:"run_id"`
	Node      string                 `json:"node,omitempty"`
	SampleID  string                 `json:"sample_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
