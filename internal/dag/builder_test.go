package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genoflow/genoflow/internal/dataflow"
	"github.com/genoflow/genoflow/pkg/domain"
)

func noop(in domain.Tuple) (Command, error) { return Command{}, nil }

func node(name string, inputs, outputs []*dataflow.Channel) *NodeSpec {
	return &NodeSpec{Name: name, Inputs: inputs, Outputs: outputs, Run: noop}
}

func TestBuildLinearChain(t *testing.T) {
	samples := dataflow.NewStream("samples")
	trimmed := dataflow.NewStream("trimmed")
	aligned := dataflow.NewStream("aligned")

	g, err := Build([]*NodeSpec{
		node("trim", []*dataflow.Channel{samples}, []*dataflow.Channel{trimmed}),
		node("align", []*dataflow.Channel{trimmed}, []*dataflow.Channel{aligned}),
	}, []*dataflow.Channel{samples})
	require.NoError(t, err)

	assert.Equal(t, []string{"trim"}, g.Upstream("align"))
	assert.Equal(t, []string{"align"}, g.Downstream("trim"))
	assert.Equal(t, 0, g.Depth("trim"))
	assert.Equal(t, 1, g.Depth("align"))
	assert.Nil(t, g.Producer(samples))
	assert.Equal(t, "trim", g.Producer(trimmed).Name)
}

func TestBuildUnboundInput(t *testing.T) {
	samples := dataflow.NewStream("samples")
	orphan := dataflow.NewStream("orphan")

	_, err := Build([]*NodeSpec{
		node("align", []*dataflow.Channel{samples, orphan}, nil),
	}, []*dataflow.Channel{samples})

	var unbound *domain.UnboundInputError
	require.ErrorAs(t, err, &unbound)
	assert.Equal(t, "align", unbound.Node)
	assert.Equal(t, "orphan", unbound.Channel)
}

func TestBuildRejectsCycle(t *testing.T) {
	a := dataflow.NewStream("a")
	b := dataflow.NewStream("b")

	_, err := Build([]*NodeSpec{
		node("first", []*dataflow.Channel{b}, []*dataflow.Channel{a}),
		node("second", []*dataflow.Channel{a}, []*dataflow.Channel{b}),
	}, nil)

	var cyc *domain.CycleError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"first", "second"}, cyc.Nodes)
}

func TestBuildRejectsSelfLoop(t *testing.T) {
	a := dataflow.NewStream("a")

	_, err := Build([]*NodeSpec{
		node("loop", []*dataflow.Channel{a}, []*dataflow.Channel{a}),
	}, nil)

	var cyc *domain.CycleError
	require.ErrorAs(t, err, &cyc)
}

func TestBuildRejectsDuplicateProducer(t *testing.T) {
	samples := dataflow.NewStream("samples")
	out := dataflow.NewStream("out")

	_, err := Build([]*NodeSpec{
		node("one", []*dataflow.Channel{samples}, []*dataflow.Channel{out}),
		node("two", []*dataflow.Channel{samples}, []*dataflow.Channel{out}),
	}, []*dataflow.Channel{samples})

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestBuildRejectsDuplicateNodeName(t *testing.T) {
	samples := dataflow.NewStream("samples")

	_, err := Build([]*NodeSpec{
		node("trim", []*dataflow.Channel{samples}, nil),
		node("trim", []*dataflow.Channel{samples}, nil),
	}, []*dataflow.Channel{samples})

	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestFanOutAndJoinDepth(t *testing.T) {
	samples := dataflow.NewStream("samples")
	left := dataflow.NewStream("left")
	right := dataflow.NewStream("right")
	merged := dataflow.NewStream("merged")

	g, err := Build([]*NodeSpec{
		node("split_a", []*dataflow.Channel{samples}, []*dataflow.Channel{left}),
		node("split_b", []*dataflow.Channel{samples}, []*dataflow.Channel{right}),
		node("merge", []*dataflow.Channel{left, right}, []*dataflow.Channel{merged}),
	}, []*dataflow.Channel{samples})
	require.NoError(t, err)

	assert.Equal(t, []string{"split_a", "split_b"}, g.Upstream("merge"))
	assert.Equal(t, 1, g.Depth("merge"))
}

func TestPerSampleAndValueInputs(t *testing.T) {
	samples := dataflow.NewStream("samples")
	ref := dataflow.NewValue("reference")

	n := node("align", []*dataflow.Channel{samples, ref}, nil)
	assert.True(t, n.PerSample())
	assert.Len(t, n.StreamInputs(), 1)
	assert.Len(t, n.ValueInputs(), 1)

	agg := node("vcfeval", []*dataflow.Channel{samples, ref}, nil)
	agg.Aggregate = true
	assert.False(t, agg.PerSample())
}

func TestNodeIndexFollowsDeclarationOrder(t *testing.T) {
	samples := dataflow.NewStream("samples")
	g, err := Build([]*NodeSpec{
		node("fastqc", []*dataflow.Channel{samples}, nil),
		node("trim", []*dataflow.Channel{samples}, nil),
	}, []*dataflow.Channel{samples})
	require.NoError(t, err)

	assert.Equal(t, 0, g.NodeIndex("fastqc"))
	assert.Equal(t, 1, g.NodeIndex("trim"))
	assert.Equal(t, -1, g.NodeIndex("missing"))
}
