// Package dag builds the task graph from declared per-stage input/output
// channel bindings, resolving edges by channel identity and rejecting unbound
// inputs and cycles before anything runs.
package dag

import (
	"github.com/genoflow/genoflow/internal/dataflow"
	"github.com/genoflow/genoflow/pkg/domain"
)

// Command is the opaque execution body of one instance: the external tool
// invocation plus its declared output artifacts.
type Command struct {
	Argv    []string
	Env     map[string]string
	WorkDir string
	Image   string

	Outputs []domain.Artifact
}

// CommandFunc builds the command for one instance from its merged input tuple.
type CommandFunc func(in domain.Tuple) (Command, error)

// NodeSpec declares one processing stage: its input and output channel
// bindings, resource profile and execution body. Declaration order matters:
// the scheduler breaks dispatch ties by it.
type NodeSpec struct {
	Name string

	// Inputs are resolved by exact channel identity against initial channels
	// and other nodes' outputs. Stream inputs are joined by sample key; value
	// inputs contribute their single item to every instance.
	Inputs  []*dataflow.Channel
	Outputs []*dataflow.Channel

	Profile domain.ResourceProfile

	// Aggregate nodes consume their stream inputs whole (collect-all) and run
	// once, instead of once per sample.
	Aggregate bool

	// Category places published artifacts in the output tree
	// (alignments, analysis, qc, stats). Empty means not published.
	Category string

	Run CommandFunc
}

// PerSample reports whether the node fans out one instance per sample.
func (n *NodeSpec) PerSample() bool {
	if n.Aggregate {
		return false
	}
	for _, in := range n.Inputs {
		if in.Kind() == dataflow.Stream {
			return true
		}
	}
	return false
}

// StreamInputs returns the node's stream-channel bindings in declaration order.
func (n *NodeSpec) StreamInputs() []*dataflow.Channel {
	var out []*dataflow.Channel
	for _, in := range n.Inputs {
		if in.Kind() == dataflow.Stream {
			out = append(out, in)
		}
	}
	return out
}

// ValueInputs returns the node's value-channel bindings in declaration order.
func (n *NodeSpec) ValueInputs() []*dataflow.Channel {
	var out []*dataflow.Channel
	for _, in := range n.Inputs {
		if in.Kind() == dataflow.Value {
			out = append(out, in)
		}
	}
	return out
}
