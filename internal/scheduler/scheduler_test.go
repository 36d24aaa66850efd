package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/genoflow/genoflow/internal/cache"
	"github.com/genoflow/genoflow/internal/dag"
	"github.com/genoflow/genoflow/internal/dataflow"
	cachememory "github.com/genoflow/genoflow/pkg/adapters/cachestore/memory"
	"github.com/genoflow/genoflow/pkg/domain"
	"github.com/genoflow/genoflow/pkg/ports"
)

// fakeBackend records executions and materializes declared outputs so the
// cache layer's output verification passes.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{fail: make(map[string]bool)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) failOn(node, sample string) {
	b.fail[node+"/"+sample] = true
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *fakeBackend) callList() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *fakeBackend) Execute(ctx context.Context, req ports.ExecRequest) (*ports.ExecResult, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req.Node+"/"+req.SampleID)
	shouldFail := b.fail[req.Node+"/"+req.SampleID]
	b.mu.Unlock()

	if shouldFail {
		return nil, &domain.ExecutionError{
			Node: req.Node, SampleID: req.SampleID, ExitCode: 1,
			Err: fmt.Errorf("injected failure"),
		}
	}
	for _, out := range req.Outputs {
		if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(out.Path, []byte(req.Node+" "+req.SampleID), 0o644); err != nil {
			return nil, err
		}
	}
	return &ports.ExecResult{Artifacts: req.Outputs}, nil
}

// stageNode builds a per-sample node that declares one output file derived
// from the stage and sample names.
func stageNode(t *testing.T, dir, name string, inputs, outputs []*dataflow.Channel) *dag.NodeSpec {
	t.Helper()
	return &dag.NodeSpec{
		Name:    name,
		Inputs:  inputs,
		Outputs: outputs,
		Profile: domain.ResourceProfile{CPUs: 1, MemoryBytes: 1 << 20},
		Run: func(in domain.Tuple) (dag.Command, error) {
			return dag.Command{
				Argv: []string{"true"},
				Outputs: []domain.Artifact{
					{Name: name + "_out", Path: filepath.Join(dir, name+"_"+in.Key+".out")},
				},
			}, nil
		},
	}
}

func seedSamples(t *testing.T, dir string, ch *dataflow.Channel, ids ...string) []domain.Sample {
	t.Helper()
	samples := make([]domain.Sample, 0, len(ids))
	for _, id := range ids {
		r1 := filepath.Join(dir, id+"_R1.fastq")
		require.NoError(t, os.WriteFile(r1, []byte("reads for "+id), 0o644))
		s := domain.Sample{ID: id, Status: domain.StatusCase, R1: r1}
		samples = append(samples, s)
		require.NoError(t, ch.Emit(domain.Tuple{
			Key:       id,
			Sample:    &s,
			Artifacts: []domain.Artifact{{Name: "r1", Path: r1}},
		}))
	}
	require.NoError(t, ch.Close())
	return samples
}

func newScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Ledger == nil {
		cfg.Ledger = NewLedger(4, 1<<30)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestRunExecutesChainForEverySample(t *testing.T) {
	dir := t.TempDir()
	samples := dataflow.NewStream("samples")
	trimmed := dataflow.NewStream("trimmed")
	aligned := dataflow.NewStream("aligned")

	nodes := []*dag.NodeSpec{
		stageNode(t, dir, "trim", []*dataflow.Channel{samples}, []*dataflow.Channel{trimmed}),
		stageNode(t, dir, "align", []*dataflow.Channel{trimmed}, []*dataflow.Channel{aligned}),
	}
	graph, err := dag.Build(nodes, []*dataflow.Channel{samples})
	require.NoError(t, err)

	backend := newFakeBackend()
	sched := newScheduler(t, Config{
		RunID:   "run-1",
		Graph:   graph,
		Samples: seedSamples(t, dir, samples, "S1", "S2"),
		Backend: backend,
	})

	summary, err := sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunSucceeded, summary.Status)
	assert.Equal(t, 4, summary.Dispatched)
	assert.Empty(t, summary.Failures)
	require.Len(t, summary.Instances, 4)
	for _, rec := range summary.Instances {
		assert.Equal(t, domain.InstanceSucceeded, rec.State, "%s/%s", rec.Node, rec.SampleID)
	}

	// Terminal stream carries one tuple per sample and is closed.
	out, err := aligned.Subscribe("check").Drain(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestContinueOnErrorIsolatesFailedSample(t *testing.T) {
	dir := t.TempDir()
	samples := dataflow.NewStream("samples")
	trimmed := dataflow.NewStream("trimmed")
	aligned := dataflow.NewStream("aligned")

	nodes := []*dag.NodeSpec{
		stageNode(t, dir, "trim", []*dataflow.Channel{samples}, []*dataflow.Channel{trimmed}),
		stageNode(t, dir, "align", []*dataflow.Channel{trimmed}, []*dataflow.Channel{aligned}),
	}
	graph, err := dag.Build(nodes, []*dataflow.Channel{samples})
	require.NoError(t, err)

	backend := newFakeBackend()
	backend.failOn("trim", "S1")

	sched := newScheduler(t, Config{
		RunID:   "run-2",
		Graph:   graph,
		Samples: seedSamples(t, dir, samples, "S1", "S2"),
		Backend: backend,
		Policy:  domain.ContinueOnError,
	})

	summary, err := sched.Run(context.Background())
	require.NoError(t, err, "per-instance failures are not fatal under continue-on-error")

	assert.Equal(t, domain.RunFailed, summary.Status)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "S1", summary.Failures[0].SampleID)
	assert.Equal(t, "trim", summary.Failures[0].Node)

	states := make(map[string]domain.InstanceState)
	for _, rec := range summary.Instances {
		states[rec.Node+"/"+rec.SampleID] = rec.State
	}
	assert.Equal(t, domain.InstanceFailed, states["trim/S1"])
	assert.Equal(t, domain.InstanceSkipped, states["align/S1"], "downstream of the failure never materializes")
	assert.Equal(t, domain.InstanceSucceeded, states["trim/S2"])
	assert.Equal(t, domain.InstanceSucceeded, states["align/S2"], "unrelated sample completes")
}

func TestFailFastStopsRunAndReturnsError(t *testing.T) {
	dir := t.TempDir()
	samples := dataflow.NewStream("samples")
	trimmed := dataflow.NewStream("trimmed")
	aligned := dataflow.NewStream("aligned")

	nodes := []*dag.NodeSpec{
		stageNode(t, dir, "trim", []*dataflow.Channel{samples}, []*dataflow.Channel{trimmed}),
		stageNode(t, dir, "align", []*dataflow.Channel{trimmed}, []*dataflow.Channel{aligned}),
	}
	graph, err := dag.Build(nodes, []*dataflow.Channel{samples})
	require.NoError(t, err)

	backend := newFakeBackend()
	backend.failOn("trim", "S1")

	sched := newScheduler(t, Config{
		RunID:   "run-3",
		Graph:   graph,
		Samples: seedSamples(t, dir, samples, "S1", "S2"),
		Backend: backend,
		Policy:  domain.FailFast,
	})

	summary, err := sched.Run(context.Background())
	var execErr *domain.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, domain.RunFailed, summary.Status)
}

func TestJoinStarvationIsSurfacedNotSilent(t *testing.T) {
	dir := t.TempDir()
	samples := dataflow.NewStream("samples")
	left := dataflow.NewStream("left")
	right := dataflow.NewStream("right")
	merged := dataflow.NewStream("merged")

	nodes := []*dag.NodeSpec{
		stageNode(t, dir, "germline", []*dataflow.Channel{samples}, []*dataflow.Channel{left}),
		stageNode(t, dir, "somatic", []*dataflow.Channel{samples}, []*dataflow.Channel{right}),
		stageNode(t, dir, "merge", []*dataflow.Channel{left, right}, []*dataflow.Channel{merged}),
	}
	graph, err := dag.Build(nodes, []*dataflow.Channel{samples})
	require.NoError(t, err)

	backend := newFakeBackend()
	backend.failOn("somatic", "S2")

	sched := newScheduler(t, Config{
		RunID:   "run-4",
		Graph:   graph,
		Samples: seedSamples(t, dir, samples, "S1", "S2"),
		Backend: backend,
		Policy:  domain.ContinueOnError,
	})

	summary, err := sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.RunFailed, summary.Status)
	require.Contains(t, summary.StarvedJoins, "merge")
	assert.Equal(t, []string{"S2"}, summary.StarvedJoins["merge"])

	states := make(map[string]domain.InstanceState)
	for _, rec := range summary.Instances {
		states[rec.Node+"/"+rec.SampleID] = rec.State
	}
	assert.Equal(t, domain.InstanceSucceeded, states["merge/S1"])
	assert.Equal(t, domain.InstanceSkipped, states["merge/S2"])
}

func TestCacheHitSkipsBackendOnIdenticalRerun(t *testing.T) {
	dir := t.TempDir()
	store := cachememory.New()
	logger := zap.NewNop()

	run := func(runID string, backend *fakeBackend) *domain.RunSummary {
		samples := dataflow.NewStream("samples")
		trimmed := dataflow.NewStream("trimmed")
		aligned := dataflow.NewStream("aligned")

		nodes := []*dag.NodeSpec{
			stageNode(t, dir, "trim", []*dataflow.Channel{samples}, []*dataflow.Channel{trimmed}),
			stageNode(t, dir, "align", []*dataflow.Channel{trimmed}, []*dataflow.Channel{aligned}),
		}
		graph, err := dag.Build(nodes, []*dataflow.Channel{samples})
		require.NoError(t, err)

		sched := newScheduler(t, Config{
			RunID:   runID,
			Graph:   graph,
			Samples: seedSamples(t, dir, samples, "S1", "S2"),
			Backend: backend,
			Cache:   cache.NewManager(store, "v1", logger),
			Logger:  logger,
		})
		summary, err := sched.Run(context.Background())
		require.NoError(t, err)
		return summary
	}

	first := newFakeBackend()
	summary1 := run("run-a", first)
	assert.Equal(t, domain.RunSucceeded, summary1.Status)
	assert.Equal(t, 4, first.callCount())
	assert.Zero(t, summary1.CacheHits)

	second := newFakeBackend()
	summary2 := run("run-b", second)
	assert.Equal(t, domain.RunSucceeded, summary2.Status)
	assert.Zero(t, second.callCount(), "identical rerun must not re-execute anything")
	assert.Equal(t, 4, summary2.CacheHits)
	for _, rec := range summary2.Instances {
		assert.True(t, rec.FromCache, "%s/%s", rec.Node, rec.SampleID)
	}
}

func TestChangedInputInvalidatesDownstreamFingerprints(t *testing.T) {
	dir := t.TempDir()
	store := cachememory.New()
	logger := zap.NewNop()

	run := func(runID, content string, backend *fakeBackend) {
		samples := dataflow.NewStream("samples")
		trimmed := dataflow.NewStream("trimmed")

		nodes := []*dag.NodeSpec{
			stageNode(t, dir, "trim", []*dataflow.Channel{samples}, []*dataflow.Channel{trimmed}),
		}
		graph, err := dag.Build(nodes, []*dataflow.Channel{samples})
		require.NoError(t, err)

		r1 := filepath.Join(dir, "S1_R1.fastq")
		require.NoError(t, os.WriteFile(r1, []byte(content), 0o644))
		s := domain.Sample{ID: "S1", Status: domain.StatusCase, R1: r1}
		require.NoError(t, samples.Emit(domain.Tuple{
			Key: "S1", Sample: &s,
			Artifacts: []domain.Artifact{{Name: "r1", Path: r1}},
		}))
		require.NoError(t, samples.Close())

		sched := newScheduler(t, Config{
			RunID:   runID,
			Graph:   graph,
			Samples: []domain.Sample{s},
			Backend: backend,
			Cache:   cache.NewManager(store, "v1", logger),
			Logger:  logger,
		})
		_, err = sched.Run(context.Background())
		require.NoError(t, err)
	}

	first := newFakeBackend()
	run("run-a", "reads v1", first)
	assert.Equal(t, 1, first.callCount())

	second := newFakeBackend()
	run("run-b", "reads v2", second)
	assert.Equal(t, 1, second.callCount(), "changed input content must re-execute")
}

// slowBackend stretches executions so status reads overlap in-flight writes.
type slowBackend struct {
	*fakeBackend
	delay time.Duration
}

func (b *slowBackend) Execute(ctx context.Context, req ports.ExecRequest) (*ports.ExecResult, error) {
	time.Sleep(b.delay)
	return b.fakeBackend.Execute(ctx, req)
}

func TestSnapshotIsSafeDuringLiveRun(t *testing.T) {
	dir := t.TempDir()
	samples := dataflow.NewStream("samples")
	trimmed := dataflow.NewStream("trimmed")
	aligned := dataflow.NewStream("aligned")

	nodes := []*dag.NodeSpec{
		stageNode(t, dir, "trim", []*dataflow.Channel{samples}, []*dataflow.Channel{trimmed}),
		stageNode(t, dir, "align", []*dataflow.Channel{trimmed}, []*dataflow.Channel{aligned}),
	}
	graph, err := dag.Build(nodes, []*dataflow.Channel{samples})
	require.NoError(t, err)

	sched := newScheduler(t, Config{
		RunID:   "run-6",
		Graph:   graph,
		Samples: seedSamples(t, dir, samples, "S1", "S2", "S3", "S4"),
		Backend: &slowBackend{fakeBackend: newFakeBackend(), delay: time.Millisecond},
	})

	// Poll the status view the whole time the run mutates instances.
	done := make(chan struct{})
	polled := make(chan struct{})
	go func() {
		defer close(polled)
		for {
			select {
			case <-done:
				return
			default:
				for _, inst := range sched.Snapshot() {
					_ = inst.State
					_ = inst.Fingerprint
					_ = inst.Outputs
				}
			}
		}
	}()

	summary, err := sched.Run(context.Background())
	close(done)
	<-polled
	require.NoError(t, err)
	assert.Equal(t, domain.RunSucceeded, summary.Status)

	for _, inst := range sched.Snapshot() {
		assert.Equal(t, domain.InstanceSucceeded, inst.State, "%s/%s", inst.Node, inst.SampleID)
		assert.NotEmpty(t, inst.Fingerprint)
	}
}

func TestDeletedCacheEntryReexecutesOnlyThatInstance(t *testing.T) {
	dir := t.TempDir()
	store := cachememory.New()
	logger := zap.NewNop()

	run := func(runID string, backend *fakeBackend) (*Scheduler, *domain.RunSummary) {
		samples := dataflow.NewStream("samples")
		trimmed := dataflow.NewStream("trimmed")
		aligned := dataflow.NewStream("aligned")

		nodes := []*dag.NodeSpec{
			stageNode(t, dir, "trim", []*dataflow.Channel{samples}, []*dataflow.Channel{trimmed}),
			stageNode(t, dir, "align", []*dataflow.Channel{trimmed}, []*dataflow.Channel{aligned}),
		}
		graph, err := dag.Build(nodes, []*dataflow.Channel{samples})
		require.NoError(t, err)

		sched := newScheduler(t, Config{
			RunID:   runID,
			Graph:   graph,
			Samples: seedSamples(t, dir, samples, "S1", "S2"),
			Backend: backend,
			Cache:   cache.NewManager(store, "v1", logger),
			Logger:  logger,
		})
		summary, err := sched.Run(context.Background())
		require.NoError(t, err)
		return sched, summary
	}

	first := newFakeBackend()
	sched1, summary1 := run("run-a", first)
	require.Equal(t, domain.RunSucceeded, summary1.Status)
	require.Equal(t, 4, first.callCount())

	var fp string
	for _, inst := range sched1.Snapshot() {
		if inst.Node == "trim" && inst.SampleID == "S1" {
			fp = inst.Fingerprint
		}
	}
	require.NotEmpty(t, fp)
	require.NoError(t, store.Delete(context.Background(), fp))

	second := newFakeBackend()
	_, summary2 := run("run-b", second)
	assert.Equal(t, domain.RunSucceeded, summary2.Status)
	assert.Equal(t, []string{"trim/S1"}, second.callList(),
		"only the instance whose entry was dropped re-executes")
	assert.Equal(t, 3, summary2.CacheHits,
		"the sibling sample and the unchanged downstream stay cached")
}

func TestSnapshotOrdersByStageThenSample(t *testing.T) {
	dir := t.TempDir()
	samples := dataflow.NewStream("samples")
	trimmed := dataflow.NewStream("trimmed")

	nodes := []*dag.NodeSpec{
		stageNode(t, dir, "trim", []*dataflow.Channel{samples}, []*dataflow.Channel{trimmed}),
	}
	graph, err := dag.Build(nodes, []*dataflow.Channel{samples})
	require.NoError(t, err)

	sched := newScheduler(t, Config{
		RunID:   "run-5",
		Graph:   graph,
		Samples: seedSamples(t, dir, samples, "S1", "S2"),
		Backend: newFakeBackend(),
	})
	_, err = sched.Run(context.Background())
	require.NoError(t, err)

	snap := sched.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "S1", snap[0].SampleID)
	assert.Equal(t, "S2", snap[1].SampleID)
}

func TestHostMountsCoverInputsReferenceAndWorkDir(t *testing.T) {
	cmd := dag.Command{
		WorkDir: "/work/S1/align",
		Outputs: []domain.Artifact{{Name: "bam", Path: "/work/S1/align/S1.sorted.bam"}},
	}
	in := domain.Tuple{
		Key: "S1",
		Ref: &domain.ReferenceBundle{
			Sequence:   "/refs/gatk38/genome.fasta",
			KnownSites: []string{"/refs/sites/dbsnp.vcf.gz"},
		},
		Artifacts: []domain.Artifact{
			{Name: "trimmed_r1", Path: "/work/S1/trim/S1.trimmed_R1.fastq.gz"},
			{Name: "ref_sequence", Path: "/refs/gatk38/genome.fasta"},
		},
	}

	mounts := hostMounts(cmd, in)
	assert.Equal(t, []string{
		"/refs/gatk38",
		"/refs/sites",
		"/work/S1/align",
		"/work/S1/trim",
	}, mounts)
}

func TestOversizedProfileIsConfigurationError(t *testing.T) {
	dir := t.TempDir()
	samples := dataflow.NewStream("samples")

	node := stageNode(t, dir, "align", []*dataflow.Channel{samples}, nil)
	node.Profile = domain.ResourceProfile{CPUs: 64, MemoryBytes: 1 << 20}
	graph, err := dag.Build([]*dag.NodeSpec{node}, []*dataflow.Channel{samples})
	require.NoError(t, err)

	_, err = New(Config{
		Graph:   graph,
		Backend: newFakeBackend(),
		Ledger:  NewLedger(4, 1<<30),
		Logger:  zap.NewNop(),
	})
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
