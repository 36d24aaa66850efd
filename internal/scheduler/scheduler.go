// Package scheduler tracks readiness of task instances per (node, sample),
// dispatches ready instances to an execution backend under a bounded resource
// ledger, and consults the resume cache before every dispatch.
package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genoflow/genoflow/internal/cache"
	"github.com/genoflow/genoflow/internal/dag"
	"github.com/genoflow/genoflow/internal/dataflow"
	"github.com/genoflow/genoflow/pkg/domain"
	"github.com/genoflow/genoflow/pkg/ports"
)

// PublishFunc copies a succeeded instance's artifacts into the structured
// output tree. Pure side effect; errors are logged, never fed back.
type PublishFunc func(node *dag.NodeSpec, inst *domain.TaskInstance) error

// Config wires a Scheduler.
type Config struct {
	RunID   string
	Graph   *dag.Graph
	Samples []domain.Sample
	Backend ports.Backend
	Cache   *cache.Manager
	Bus     ports.EventBus
	Metrics ports.MetricsCollector
	Ledger  *Ledger
	Policy  domain.FailurePolicy
	Publish PublishFunc
	Logger  *zap.Logger
	Clock   clock.Clock
}

// Scheduler walks the graph, emitting instances per sample as upstream data
// becomes available, and never blocks a thread while an instance waits for
// inbound tuples: suspension happens at the ready-queue wait only.
type Scheduler struct {
	cfg     Config
	graph   *dag.Graph
	backend ports.Backend
	cache   *cache.Manager
	bus     ports.EventBus
	metrics ports.MetricsCollector
	ledger  *Ledger
	logger  *zap.Logger
	clk     clock.Clock

	arrival map[string]int // sampleID -> arrival index in the initial channel

	mu         sync.Mutex
	cond       *sync.Cond
	instances  map[string]*domain.TaskInstance // keyed node+"\x00"+sample
	ready      []readyItem
	running    int
	collectors int
	stopped    bool
	fatal      error
	nodes      map[string]*nodeRuntime
	starved    map[string][]string
	failures   []domain.FailedPair
	cacheHits  int
	dispatched int

	execWG     sync.WaitGroup
	execCancel context.CancelFunc
}

type readyItem struct {
	nodeIdx    int
	arrivalIdx int
	inst       *domain.TaskInstance
	node       *dag.NodeSpec
}

type nodeRuntime struct {
	spec          *dag.NodeSpec
	collectorDone bool
	created       int
	terminal      int
	closed        bool
}

// New validates resource profiles against the ledger and prepares a scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Graph == nil {
		return nil, domain.Configf("scheduler requires a graph")
	}
	if cfg.Backend == nil {
		return nil, domain.Configf("scheduler requires an execution backend")
	}
	for _, n := range cfg.Graph.Nodes() {
		if err := cfg.Ledger.Fits(n.Name, n.Profile); err != nil {
			return nil, err
		}
	}
	if cfg.Policy == "" {
		cfg.Policy = domain.FailFast
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}
	if cfg.Bus == nil {
		cfg.Bus = ports.NopBus{}
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewManager(nil, "", cfg.Logger)
	}

	s := &Scheduler{
		cfg:       cfg,
		graph:     cfg.Graph,
		backend:   cfg.Backend,
		cache:     cfg.Cache,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		ledger:    cfg.Ledger,
		logger:    cfg.Logger,
		clk:       cfg.Clock,
		arrival:   make(map[string]int, len(cfg.Samples)),
		instances: make(map[string]*domain.TaskInstance),
		nodes:     make(map[string]*nodeRuntime),
		starved:   make(map[string][]string),
	}
	s.cond = sync.NewCond(&s.mu)
	for i, smp := range cfg.Samples {
		s.arrival[smp.ID] = i
	}
	for _, n := range cfg.Graph.Nodes() {
		s.nodes[n.Name] = &nodeRuntime{spec: n}
	}
	return s, nil
}

// Run drives the graph to completion and returns the run summary. The
// returned error is non-nil only for fatal conditions (configuration or
// protocol bugs, or any execution failure under fail-fast).
func (s *Scheduler) Run(ctx context.Context) (*domain.RunSummary, error) {
	started := s.clk.Now()
	s.publishEvent(ctx, domain.EventRunStarted, "", "", nil)

	execCtx, cancel := context.WithCancel(ctx)
	s.execCancel = cancel
	defer cancel()

	// Unblock the dispatch wait if the caller cancels.
	loopDone := make(chan struct{})
	defer close(loopDone)
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if !s.stopped {
				s.stopped = true
				if s.fatal == nil {
					s.fatal = ctx.Err()
				}
			}
			s.cond.Broadcast()
			s.mu.Unlock()
		case <-loopDone:
		}
	}()

	s.mu.Lock()
	s.collectors = len(s.graph.Nodes())
	s.mu.Unlock()
	for _, n := range s.graph.Nodes() {
		go s.collect(execCtx, n)
	}

	// Dispatch loop: instances block logically in the ready queue, not on
	// threads; the loop wakes on readiness and completion events only.
	s.mu.Lock()
	for {
		if s.stopped {
			s.skipReadyLocked(execCtx)
		} else {
			s.dispatchLocked(execCtx)
		}
		if s.collectors == 0 && s.running == 0 && len(s.ready) == 0 {
			break
		}
		s.cond.Wait()
	}
	s.mu.Unlock()

	cancel()
	s.execWG.Wait()

	summary := s.buildSummary(started)
	s.metrics.RecordRunCompleted(summary.Status, summary.Duration)
	if summary.Status == domain.RunFailed {
		s.publishEvent(ctx, domain.EventRunFailed, "", "", map[string]interface{}{"failures": len(summary.Failures)})
	} else {
		s.publishEvent(ctx, domain.EventRunCompleted, "", "", nil)
	}

	s.mu.Lock()
	fatal := s.fatal
	s.mu.Unlock()
	return summary, fatal
}

// Snapshot returns copies of all instances, for the status API.
func (s *Scheduler) Snapshot() []domain.TaskInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.TaskInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Node != b.Node {
			return s.graph.NodeIndex(a.Node) < s.graph.NodeIndex(b.Node)
		}
		return s.arrival[a.SampleID] < s.arrival[b.SampleID]
	})
	return out
}

// collect assembles input tuples for one node and enqueues ready instances.
// Per-sample nodes join their stream inputs by key; aggregate nodes buffer
// whole streams; value inputs contribute to every instance.
func (s *Scheduler) collect(ctx context.Context, node *dag.NodeSpec) {
	defer s.collectorFinished(ctx, node)

	var values []domain.Tuple
	for _, vc := range node.ValueInputs() {
		t, ok, err := vc.Subscribe(node.Name).Next(ctx)
		if err != nil {
			return
		}
		if !ok {
			// Value never arrived: upstream failed, nothing to do here.
			return
		}
		values = append(values, t)
	}

	streams := node.StreamInputs()

	switch {
	case node.Aggregate:
		var all []domain.Tuple
		for _, sc := range streams {
			tuples, err := sc.Subscribe(node.Name).Drain(ctx)
			if err != nil {
				return
			}
			all = append(all, tuples...)
		}
		if len(all) == 0 {
			return
		}
		merged := domain.MergeTuples(append(all, values...)...)
		merged.Key = ""
		merged.Sample = nil
		s.enqueue(ctx, node, merged)

	case len(streams) == 0:
		s.enqueue(ctx, node, domain.MergeTuples(values...))

	case len(streams) == 1:
		sub := streams[0].Subscribe(node.Name)
		for {
			t, ok, err := sub.Next(ctx)
			if err != nil || !ok {
				return
			}
			s.enqueue(ctx, node, domain.MergeTuples(append([]domain.Tuple{t}, values...)...))
		}

	default:
		kj := dataflow.NewKeyedJoin(len(streams))
		var wg sync.WaitGroup
		for i, sc := range streams {
			wg.Add(1)
			go func(slot int, sub *dataflow.Subscription) {
				defer wg.Done()
				for {
					t, ok, err := sub.Next(ctx)
					if err != nil || !ok {
						return
					}
					merged, complete, err := kj.Offer(slot, t)
					if err != nil {
						s.abort(err)
						return
					}
					if complete {
						s.enqueue(ctx, node, domain.MergeTuples(append([]domain.Tuple{merged}, values...)...))
					}
				}
			}(i, sc.Subscribe(node.Name))
		}
		wg.Wait()

		if keys := kj.Starved(); len(keys) > 0 {
			s.reportStarved(ctx, node, keys)
		}
	}
}

// enqueue creates a ready instance and inserts it into the ordered queue.
// Ties among simultaneously-ready instances break by (node declaration order,
// sample arrival order) so a run is reproducible for identical input order.
func (s *Scheduler) enqueue(ctx context.Context, node *dag.NodeSpec, in domain.Tuple) {
	inst := &domain.TaskInstance{
		ID:       uuid.New().String(),
		Node:     node.Name,
		SampleID: in.Key,
		State:    domain.InstancePending,
		Input:    in,
	}
	if err := inst.Transition(domain.InstanceReady); err != nil {
		s.abort(err)
		return
	}

	arrivalIdx := -1
	if in.Key != "" {
		if idx, ok := s.arrival[in.Key]; ok {
			arrivalIdx = idx
		}
	}
	item := readyItem{
		nodeIdx:    s.graph.NodeIndex(node.Name),
		arrivalIdx: arrivalIdx,
		inst:       inst,
		node:       node,
	}

	s.mu.Lock()
	s.instances[instanceKey(node.Name, in.Key)] = inst
	s.nodes[node.Name].created++
	pos := sort.Search(len(s.ready), func(i int) bool {
		r := s.ready[i]
		if r.nodeIdx != item.nodeIdx {
			return r.nodeIdx > item.nodeIdx
		}
		return r.arrivalIdx > item.arrivalIdx
	})
	s.ready = append(s.ready, readyItem{})
	copy(s.ready[pos+1:], s.ready[pos:])
	s.ready[pos] = item
	s.cond.Broadcast()
	s.mu.Unlock()

	s.publishEvent(ctx, domain.EventInstanceReady, node.Name, in.Key, nil)
}

// dispatchLocked reserves ledger capacity for ready instances in order and
// hands them to the backend. Instances whose profile does not fit the
// remaining capacity stay queued without blocking smaller ones behind them.
func (s *Scheduler) dispatchLocked(ctx context.Context) {
	remaining := s.ready[:0]
	for _, item := range s.ready {
		if s.stopped {
			remaining = append(remaining, item)
			continue
		}
		if !s.ledger.Reserve(item.node.Profile) {
			remaining = append(remaining, item)
			continue
		}
		s.running++
		s.dispatched++
		s.execWG.Add(1)
		go s.execute(ctx, item.node, item.inst)
	}
	s.ready = remaining
	cpu, mem := s.ledger.Utilization()
	s.metrics.SetLedgerUtilization(cpu, mem)
}

// skipReadyLocked abandons queued instances after a fail-fast stop.
func (s *Scheduler) skipReadyLocked(ctx context.Context) {
	for _, item := range s.ready {
		if err := item.inst.Transition(domain.InstanceSkipped); err == nil {
			now := s.clk.Now()
			item.inst.CompletedAt = &now
			s.nodes[item.node.Name].terminal++
			s.publishEvent(ctx, domain.EventInstanceSkipped, item.node.Name, item.inst.SampleID, nil)
		}
	}
	s.ready = s.ready[:0]
}

// execute runs one instance: cache probe, backend call, output emission.
func (s *Scheduler) execute(ctx context.Context, node *dag.NodeSpec, inst *domain.TaskInstance) {
	defer s.execWG.Done()
	defer func() {
		s.ledger.Release(node.Profile)
		s.mu.Lock()
		s.running--
		s.nodes[node.Name].terminal++
		s.cond.Broadcast()
		s.mu.Unlock()
		s.maybeCloseOutputs(node)
	}()

	// Instance fields are read concurrently by Snapshot; every write after
	// the instance is published into s.instances happens under s.mu.
	start := s.clk.Now()
	s.mu.Lock()
	inst.StartedAt = &start
	s.mu.Unlock()

	fp, err := cache.Fingerprint(s.cache.Epoch(), node.Name, node.Profile, inst.Input.Artifacts)
	if err != nil {
		s.finishFailed(ctx, node, inst, &domain.ExecutionError{
			Node: node.Name, SampleID: inst.SampleID, ExitCode: -1, Err: err,
		})
		return
	}
	s.mu.Lock()
	inst.Fingerprint = fp
	s.mu.Unlock()

	if entry, hit := s.cache.Probe(ctx, fp); hit {
		s.mu.Lock()
		inst.FromCache = true
		inst.Outputs = entry.Outputs
		s.cacheHits++
		s.mu.Unlock()
		s.metrics.RecordCacheHit(node.Name)
		s.finishSucceeded(ctx, node, inst, domain.EventInstanceCached)
		return
	}
	s.metrics.RecordCacheMiss(node.Name)

	cmd, err := node.Run(inst.Input)
	if err != nil {
		s.finishFailed(ctx, node, inst, &domain.ExecutionError{
			Node: node.Name, SampleID: inst.SampleID, ExitCode: -1, Err: err,
		})
		return
	}

	s.mu.Lock()
	err = inst.Transition(domain.InstanceRunning)
	s.mu.Unlock()
	if err != nil {
		s.abort(err)
		return
	}
	s.metrics.RecordInstanceStarted(node.Name)
	s.publishEvent(ctx, domain.EventInstanceStarted, node.Name, inst.SampleID, nil)
	s.logger.Info("dispatching instance",
		zap.String("node", node.Name),
		zap.String("sample", inst.SampleID),
		zap.Int("cpus", node.Profile.CPUs),
		zap.Uint64("memory_bytes", node.Profile.MemoryBytes),
		zap.String("backend", s.backend.Name()))

	result, err := s.backend.Execute(ctx, ports.ExecRequest{
		InstanceID: inst.ID,
		Node:       node.Name,
		SampleID:   inst.SampleID,
		Argv:       cmd.Argv,
		Env:        cmd.Env,
		WorkDir:    cmd.WorkDir,
		Image:      cmd.Image,
		Mounts:     hostMounts(cmd, inst.Input),
		Outputs:    cmd.Outputs,
		Profile:    node.Profile,
	})
	if err != nil {
		exit := -1
		var execErr *domain.ExecutionError
		if errors.As(err, &execErr) {
			exit = execErr.ExitCode
		}
		s.finishFailed(ctx, node, inst, &domain.ExecutionError{
			Node: node.Name, SampleID: inst.SampleID, ExitCode: exit, Err: err,
		})
		return
	}

	s.mu.Lock()
	inst.Outputs = result.Artifacts
	s.mu.Unlock()
	s.cache.Record(ctx, fp, node.Name, inst.SampleID, result.Artifacts)
	s.finishSucceeded(ctx, node, inst, domain.EventInstanceSucceeded)
}

func (s *Scheduler) finishSucceeded(ctx context.Context, node *dag.NodeSpec, inst *domain.TaskInstance, ev domain.EventType) {
	now := s.clk.Now()
	s.mu.Lock()
	inst.CompletedAt = &now
	err := inst.Transition(domain.InstanceSucceeded)
	fromCache := inst.FromCache
	duration := inst.Duration()
	outputs := inst.Outputs
	s.mu.Unlock()
	if err != nil {
		s.abort(err)
		return
	}
	s.metrics.RecordInstanceFinished(node.Name, domain.InstanceSucceeded, duration)
	s.publishEvent(ctx, ev, node.Name, inst.SampleID, map[string]interface{}{"from_cache": fromCache})

	if s.cfg.Publish != nil && node.Category != "" {
		if err := s.cfg.Publish(node, inst); err != nil {
			s.logger.Warn("publishing artifacts failed",
				zap.String("node", node.Name),
				zap.String("sample", inst.SampleID),
				zap.Error(err))
		}
	}

	out := domain.Tuple{
		Key:       inst.SampleID,
		Sample:    inst.Input.Sample,
		Artifacts: outputs,
	}
	for _, ch := range node.Outputs {
		if err := ch.Emit(out); err != nil {
			s.abort(err)
			return
		}
	}
}

func (s *Scheduler) finishFailed(ctx context.Context, node *dag.NodeSpec, inst *domain.TaskInstance, execErr *domain.ExecutionError) {
	now := s.clk.Now()
	s.mu.Lock()
	inst.CompletedAt = &now
	inst.Error = execErr.Error()
	err := inst.Transition(domain.InstanceFailed)
	duration := inst.Duration()
	s.mu.Unlock()
	if err != nil {
		s.abort(err)
		return
	}
	s.metrics.RecordInstanceFinished(node.Name, domain.InstanceFailed, duration)
	s.publishEvent(ctx, domain.EventInstanceFailed, node.Name, inst.SampleID, map[string]interface{}{"error": execErr.Error()})
	s.logger.Error("instance failed",
		zap.String("node", node.Name),
		zap.String("sample", inst.SampleID),
		zap.Int("exit_code", execErr.ExitCode),
		zap.Error(execErr.Err))

	s.mu.Lock()
	s.failures = append(s.failures, domain.FailedPair{
		SampleID: inst.SampleID,
		Node:     node.Name,
		Reason:   execErr.Error(),
	})
	stop := s.cfg.Policy == domain.FailFast && !s.stopped
	if stop {
		s.stopped = true
		if s.fatal == nil {
			s.fatal = execErr
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	if stop {
		s.logger.Warn("fail-fast: stopping dispatch and cancelling running instances",
			zap.String("node", node.Name),
			zap.String("sample", inst.SampleID))
		s.execCancel()
	}
}

// collectorFinished marks that a node will emit no more instances and closes
// its outputs once all created instances are terminal.
func (s *Scheduler) collectorFinished(ctx context.Context, node *dag.NodeSpec) {
	s.mu.Lock()
	s.collectors--
	s.nodes[node.Name].collectorDone = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.maybeCloseOutputs(node)
}

func (s *Scheduler) maybeCloseOutputs(node *dag.NodeSpec) {
	s.mu.Lock()
	rt := s.nodes[node.Name]
	shouldClose := rt.collectorDone && rt.terminal == rt.created && !rt.closed
	if shouldClose {
		rt.closed = true
	}
	s.mu.Unlock()

	if !shouldClose {
		return
	}
	for _, ch := range node.Outputs {
		if ch.Kind() == dataflow.Stream {
			if err := ch.Close(); err != nil {
				s.logger.Error("closing output channel", zap.String("channel", ch.Name()), zap.Error(err))
			}
		}
	}
}

// reportStarved records keys that never completed a join. Starvation is a
// warning at shutdown, not a hard failure.
func (s *Scheduler) reportStarved(ctx context.Context, node *dag.NodeSpec, keys []string) {
	s.logger.Warn("join starvation: keys missing from at least one joined channel",
		zap.String("node", node.Name),
		zap.Strings("keys", keys))
	s.metrics.RecordJoinStarved(node.Name, len(keys))
	s.publishEvent(ctx, domain.EventJoinStarved, node.Name, "", map[string]interface{}{"keys": keys})

	s.mu.Lock()
	s.starved[node.Name] = keys
	s.mu.Unlock()
}

// abort latches a fatal protocol error and stops the run.
func (s *Scheduler) abort(err error) {
	s.logger.Error("fatal scheduler error", zap.Error(err))
	s.mu.Lock()
	if s.fatal == nil {
		s.fatal = err
	}
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
	if s.execCancel != nil {
		s.execCancel()
	}
}

func (s *Scheduler) buildSummary(started time.Time) *domain.RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &domain.RunSummary{
		RunID:       s.cfg.RunID,
		StartedAt:   started,
		Duration:    s.clk.Now().Sub(started),
		CacheHits:   s.cacheHits,
		Dispatched:  s.dispatched,
		SampleCount: len(s.cfg.Samples),
		Failures:    append([]domain.FailedPair(nil), s.failures...),
	}
	if len(s.starved) > 0 {
		summary.StarvedJoins = make(map[string][]string, len(s.starved))
		for k, v := range s.starved {
			summary.StarvedJoins[k] = v
		}
	}

	for _, node := range s.graph.Nodes() {
		if node.PerSample() {
			for _, smp := range s.cfg.Samples {
				summary.Instances = append(summary.Instances, s.recordFor(node.Name, smp.ID))
			}
		} else {
			summary.Instances = append(summary.Instances, s.recordFor(node.Name, ""))
		}
	}

	if len(summary.Failures) > 0 || s.fatal != nil {
		summary.Status = domain.RunFailed
	} else {
		summary.Status = domain.RunSucceeded
	}
	return summary
}

// recordFor reports one (node, sample) outcome; instances that never
// materialized (upstream failure or starvation) report as skipped.
func (s *Scheduler) recordFor(node, sampleID string) domain.InstanceRecord {
	inst, ok := s.instances[instanceKey(node, sampleID)]
	if !ok {
		return domain.InstanceRecord{Node: node, SampleID: sampleID, State: domain.InstanceSkipped}
	}
	return domain.InstanceRecord{
		Node:      node,
		SampleID:  sampleID,
		State:     inst.State,
		FromCache: inst.FromCache,
		Duration:  inst.Duration(),
		Error:     inst.Error,
	}
}

func (s *Scheduler) publishEvent(ctx context.Context, t domain.EventType, node, sampleID string, data map[string]interface{}) {
	ev := domain.Event{
		ID:        uuid.New().String(),
		Type:      t,
		RunID:     s.cfg.RunID,
		Node:      node,
		SampleID:  sampleID,
		Timestamp: s.clk.Now(),
		Data:      data,
	}
	if err := s.bus.Publish(ctx, "run.events", ev); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", string(t)),
			zap.Error(err))
	}
}

func instanceKey(node, sampleID string) string {
	return node + "\x00" + sampleID
}

// hostMounts lists the host directories one instance touches: its work
// directory, the directory of every input artifact, the reference files and
// every declared output's directory. Containerized backends bind-mount these
// so the stage tools see the same paths as the host.
func hostMounts(cmd dag.Command, in domain.Tuple) []string {
	dirs := make(map[string]struct{})
	addFile := func(path string) {
		if path != "" {
			dirs[filepath.Dir(path)] = struct{}{}
		}
	}
	if cmd.WorkDir != "" {
		dirs[cmd.WorkDir] = struct{}{}
	}
	for _, a := range in.Artifacts {
		addFile(a.Path)
	}
	if ref := in.Ref; ref != nil {
		addFile(ref.Sequence)
		addFile(ref.Dictionary)
		addFile(ref.Index)
		addFile(ref.PopulationPanel)
		for _, sites := range ref.KnownSites {
			addFile(sites)
		}
	}
	for _, out := range cmd.Outputs {
		addFile(out.Path)
	}

	mounts := make([]string, 0, len(dirs))
	for d := range dirs {
		mounts = append(mounts, d)
	}
	sort.Strings(mounts)
	return mounts
}
