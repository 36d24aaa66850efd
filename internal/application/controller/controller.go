// Package controller assembles one pipeline run: sample discovery, reference
// resolution, graph construction, scheduling and the final summary.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genoflow/genoflow/internal/cache"
	"github.com/genoflow/genoflow/internal/config"
	"github.com/genoflow/genoflow/internal/dag"
	"github.com/genoflow/genoflow/internal/discovery"
	"github.com/genoflow/genoflow/internal/pipeline"
	"github.com/genoflow/genoflow/internal/reference"
	"github.com/genoflow/genoflow/internal/scheduler"
	"github.com/genoflow/genoflow/pkg/domain"
	"github.com/genoflow/genoflow/pkg/ports"
)

// Controller owns the lifecycle of a single run and exposes its state to the
// HTTP and websocket surfaces.
type Controller struct {
	cfg     *config.Config
	backend ports.Backend
	store   ports.CacheStore
	bus     ports.EventBus
	metrics ports.MetricsCollector
	logger  *zap.Logger
	clk     clock.Clock

	mu        sync.Mutex
	runID     string
	status    domain.RunStatus
	startedAt time.Time
	samples   []domain.Sample
	sched     *scheduler.Scheduler
	summary   *domain.RunSummary
	cancel    context.CancelFunc
}

// New creates a run controller.
func New(cfg *config.Config, backend ports.Backend, store ports.CacheStore,
	bus ports.EventBus, metrics ports.MetricsCollector, logger *zap.Logger, clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	return &Controller{
		cfg:     cfg,
		backend: backend,
		store:   store,
		bus:     bus,
		metrics: metrics,
		logger:  logger,
		clk:     clk,
		runID:   uuid.New().String(),
		status:  domain.RunRunning,
	}
}

// Run executes the pipeline end to end and returns the summary. The returned
// error is non-nil for fatal conditions: configuration errors, protocol bugs,
// or any execution failure under fail-fast.
func (c *Controller) Run(ctx context.Context) (*domain.RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.startedAt = c.clk.Now()
	c.cancel = cancel
	c.mu.Unlock()

	samples, err := discovery.Scan(c.cfg.ReadsDir, c.logger)
	if err != nil {
		return c.finish(nil, err)
	}
	c.mu.Lock()
	c.samples = samples
	c.mu.Unlock()

	ref, err := reference.Load(c.cfg.GenomesFile, c.cfg.Genome)
	if err != nil {
		return c.finish(nil, err)
	}
	c.logger.Info("run configured",
		zap.String("run_id", c.runID),
		zap.Int("samples", len(samples)),
		zap.String("genome", ref.GenomeID),
		zap.String("backend", c.backend.Name()),
		zap.String("policy", c.cfg.FailurePolicy))

	pipe := pipeline.New(pipeline.Options{
		WorkDir: c.cfg.WorkDir,
		Image:   c.cfg.DockerImage,
	})
	graph, err := dag.Build(pipe.Nodes, pipe.Initial())
	if err != nil {
		return c.finish(nil, err)
	}

	ledger := scheduler.NewLedger(c.cfg.CPUs, c.cfg.MemoryBytes())
	publisher := pipeline.NewPublisher(c.cfg.OutputDir, c.logger)
	sched, err := scheduler.New(scheduler.Config{
		RunID:   c.runID,
		Graph:   graph,
		Samples: samples,
		Backend: c.backend,
		Cache:   cache.NewManager(c.store, c.cfg.Cache.Epoch, c.logger),
		Bus:     c.bus,
		Metrics: c.metrics,
		Ledger:  ledger,
		Policy:  c.cfg.Policy(),
		Publish: publisher.Publish,
		Logger:  c.logger,
		Clock:   c.clk,
	})
	if err != nil {
		return c.finish(nil, err)
	}
	c.mu.Lock()
	c.sched = sched
	c.mu.Unlock()

	watchdog := scheduler.NewWatchdog(ledger, c.metrics, c.cfg.Timeouts.WatchdogInterval, c.logger, c.clk)
	watchdog.Start()
	defer watchdog.Stop()

	// Seed the initial channels before dispatch starts; subscriptions replay,
	// so collectors attached later still see every sample.
	if err := c.seed(pipe, ref, samples); err != nil {
		return c.finish(nil, err)
	}

	summary, err := sched.Run(ctx)
	return c.finish(summary, err)
}

func (c *Controller) seed(pipe *pipeline.Pipeline, ref *domain.ReferenceBundle, samples []domain.Sample) error {
	if err := pipe.Ref.Emit(pipeline.RefTuple(ref)); err != nil {
		return err
	}
	for _, s := range samples {
		if err := pipe.Samples.Emit(pipeline.SampleTuple(s)); err != nil {
			return err
		}
	}
	return pipe.Samples.Close()
}

func (c *Controller) finish(summary *domain.RunSummary, err error) (*domain.RunSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if summary == nil {
		summary = &domain.RunSummary{
			RunID:     c.runID,
			Status:    domain.RunFailed,
			StartedAt: c.startedAt,
			Duration:  c.clk.Now().Sub(c.startedAt),
		}
	}
	c.summary = summary
	c.status = summary.Status
	return summary, err
}

// Cancel stops the run; in-flight instances are cancelled through the backend.
func (c *Controller) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		c.logger.Warn("run cancelled", zap.String("run_id", c.runID))
		cancel()
	}
}

// RunID returns the run identifier.
func (c *Controller) RunID() string { return c.runID }

// Status reports the run's aggregate state for the API layer.
func (c *Controller) Status() RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := RunStatus{
		RunID:       c.runID,
		Status:      c.status,
		StartedAt:   c.startedAt,
		SampleCount: len(c.samples),
		Policy:      c.cfg.FailurePolicy,
		Backend:     c.backend.Name(),
	}
	if c.summary != nil {
		st.Duration = c.summary.Duration
		st.CacheHits = c.summary.CacheHits
		st.Dispatched = c.summary.Dispatched
		st.Failures = c.summary.Failures
		st.StarvedJoins = c.summary.StarvedJoins
	} else {
		st.Duration = c.clk.Now().Sub(c.startedAt)
	}
	return st
}

// Samples returns the discovered sample set.
func (c *Controller) Samples() []domain.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Sample(nil), c.samples...)
}

// Instances returns a snapshot of all task instances, ordered by stage then
// sample arrival.
func (c *Controller) Instances() []domain.TaskInstance {
	c.mu.Lock()
	sched := c.sched
	c.mu.Unlock()
	if sched == nil {
		return nil
	}
	return sched.Snapshot()
}

// RunStatus is the API-facing view of the run.
type RunStatus struct {
	RunID        string              `json:"run_id"`
	Status       domain.RunStatus    `json:"status"`
	StartedAt    time.Time           `json:"started_at"`
	Duration     time.Duration       `json:"duration"`
	SampleCount  int                 `json:"sample_count"`
	Policy       string              `json:"policy"`
	Backend      string              `json:"backend"`
	CacheHits    int                 `json:"cache_hits"`
	Dispatched   int                 `json:"dispatched"`
	Failures     []domain.FailedPair `json:"failures,omitempty"`
	StarvedJoins map[string][]string `json:"starved_joins,omitempty"`
}
