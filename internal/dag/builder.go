package dag

import (
	"sort"

	"github.com/genoflow/genoflow/internal/dataflow"
	"github.com/genoflow/genoflow/pkg/domain"
)

// Graph is the finalized, read-only adjacency structure the scheduler walks.
// Each channel is produced by exactly one node (or is an initial channel), so
// the graph is acyclic by construction once validation passes.
type Graph struct {
	nodes []*NodeSpec // declaration order

	byName     map[string]*NodeSpec
	producer   map[*dataflow.Channel]*NodeSpec // nil entry = initial channel
	upstream   map[string][]string
	downstream map[string][]string
	depth      map[string]int
}

// Build resolves each node's declared inputs to either an initial channel or
// another node's declared output, by exact channel identity. It fails fast
// with an UnboundInputError if an input is never produced, a CycleError if
// the graph is cyclic, and a ConfigurationError for duplicate producers or
// duplicate node names.
func Build(nodes []*NodeSpec, initial []*dataflow.Channel) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, domain.Configf("graph has no nodes")
	}

	g := &Graph{
		nodes:      nodes,
		byName:     make(map[string]*NodeSpec, len(nodes)),
		producer:   make(map[*dataflow.Channel]*NodeSpec),
		upstream:   make(map[string][]string),
		downstream: make(map[string][]string),
		depth:      make(map[string]int),
	}

	for _, ch := range initial {
		if ch == nil {
			return nil, domain.Configf("nil initial channel")
		}
		g.producer[ch] = nil
	}

	for _, n := range nodes {
		if n.Name == "" {
			return nil, domain.Configf("node with empty name")
		}
		if _, dup := g.byName[n.Name]; dup {
			return nil, domain.Configf("duplicate node name %q", n.Name)
		}
		if n.Run == nil {
			return nil, domain.Configf("node %q has no execution body", n.Name)
		}
		g.byName[n.Name] = n

		for _, out := range n.Outputs {
			if prev, seen := g.producer[out]; seen {
				who := "an initial channel"
				if prev != nil {
					who = "node " + prev.Name
				}
				return nil, domain.Configf("channel %q produced by both %s and node %q", out.Name(), who, n.Name)
			}
			g.producer[out] = n
		}
	}

	// Resolve inputs to producers and build adjacency.
	for _, n := range nodes {
		if len(n.Inputs) == 0 {
			return nil, domain.Configf("node %q declares no inputs", n.Name)
		}
		seen := make(map[string]bool)
		for _, in := range n.Inputs {
			prod, bound := g.producer[in]
			if !bound {
				return nil, &domain.UnboundInputError{Node: n.Name, Channel: in.Name()}
			}
			if prod == nil {
				continue // initial channel
			}
			if prod == n {
				return nil, &domain.CycleError{Nodes: []string{n.Name}}
			}
			if !seen[prod.Name] {
				seen[prod.Name] = true
				g.upstream[n.Name] = append(g.upstream[n.Name], prod.Name)
				g.downstream[prod.Name] = append(g.downstream[prod.Name], n.Name)
			}
		}
	}

	if cyc := g.findCycle(); cyc != nil {
		return nil, &domain.CycleError{Nodes: cyc}
	}
	g.computeDepth()
	return g, nil
}

// Nodes returns the nodes in declaration order.
func (g *Graph) Nodes() []*NodeSpec {
	out := make([]*NodeSpec, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Node returns a node by name.
func (g *Graph) Node(name string) (*NodeSpec, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// NodeIndex returns the declaration index of a node, used by the scheduler's
// deterministic tie-break.
func (g *Graph) NodeIndex(name string) int {
	for i, n := range g.nodes {
		if n.Name == name {
			return i
		}
	}
	return -1
}

// Upstream returns the producers feeding the node, sorted.
func (g *Graph) Upstream(name string) []string {
	out := append([]string(nil), g.upstream[name]...)
	sort.Strings(out)
	return out
}

// Downstream returns the consumers fed by the node, sorted.
func (g *Graph) Downstream(name string) []string {
	out := append([]string(nil), g.downstream[name]...)
	sort.Strings(out)
	return out
}

// Producer returns the node producing the channel; nil for initial channels.
func (g *Graph) Producer(ch *dataflow.Channel) *NodeSpec {
	return g.producer[ch]
}

// Depth returns the topological depth of a node: the length of the longest
// producer path from any initial channel.
func (g *Graph) Depth(name string) int {
	return g.depth[name]
}

// findCycle runs Kahn's algorithm and returns the nodes left unresolved when
// the graph is cyclic, sorted for stable diagnostics.
func (g *Graph) findCycle() []string {
	indeg := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		indeg[n.Name] = len(g.upstream[n.Name])
	}

	var queue []string
	for _, n := range g.nodes {
		if indeg[n.Name] == 0 {
			queue = append(queue, n.Name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range g.downstream[cur] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited == len(g.nodes) {
		return nil
	}

	var cyc []string
	for name, d := range indeg {
		if d > 0 {
			cyc = append(cyc, name)
		}
	}
	sort.Strings(cyc)
	return cyc
}

// computeDepth walks nodes in topological order; validation guarantees this
// terminates.
func (g *Graph) computeDepth() {
	indeg := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		indeg[n.Name] = len(g.upstream[n.Name])
	}
	var queue []string
	for _, n := range g.nodes {
		if indeg[n.Name] == 0 {
			g.depth[n.Name] = 0
			queue = append(queue, n.Name)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.downstream[cur] {
			if g.depth[cur]+1 > g.depth[next] {
				g.depth[next] = g.depth[cur] + 1
			}
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
}
