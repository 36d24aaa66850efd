package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the channel protocol and execution contract.
var (
	// ErrChannelClosed is returned when emitting on a closed channel.
	ErrChannelClosed = errors.New("channel closed")
	// ErrValueAlreadySet is returned when a value channel is set twice.
	ErrValueAlreadySet = errors.New("value channel already set")
	// ErrMissingOutput marks an instance whose process reported success but
	// left a declared output artifact absent or empty.
	ErrMissingOutput = errors.New("missing output artifact")
)

// ConfigurationError is fatal and pre-run: unbound inputs, cycles, unknown
// genomes, resource profiles exceeding total capacity. Nothing is dispatched
// once one is raised.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// Configf builds a ConfigurationError.
func Configf(format string, args ...interface{}) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// UnboundInputError means a declared input channel is never produced by any
// node and is not an initial channel.
type UnboundInputError struct {
	Node    string
	Channel string
}

func (e *UnboundInputError) Error() string {
	return fmt.Sprintf("unbound input: node %q declares input channel %q which no node produces", e.Node, e.Channel)
}

// CycleError means input resolution would visit a node twice on one path.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected involving nodes %v", e.Nodes)
}

// ProtocolError is a fatal channel wiring bug: emit-after-close, arity
// mismatch, duplicate producer.
type ProtocolError struct {
	Channel string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("channel protocol error on %q: %v", e.Channel, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ExecutionError is a per-instance failure: non-zero exit or missing output.
// Recoverable per the run's failure policy.
type ExecutionError struct {
	Node     string
	SampleID string
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.SampleID == "" {
		return fmt.Sprintf("stage %s failed (exit %d): %v", e.Node, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("stage %s failed for sample %s (exit %d): %v", e.Node, e.SampleID, e.ExitCode, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
