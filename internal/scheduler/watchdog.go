package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/genoflow/genoflow/pkg/ports"
)

// Watchdog periodically checks the resource ledger invariant (reserved never
// exceeds capacity) and exports utilization gauges.
type Watchdog struct {
	ledger   *Ledger
	metrics  ports.MetricsCollector
	interval time.Duration
	logger   *zap.Logger
	clk      clock.Clock

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewWatchdog creates a ledger watchdog.
func NewWatchdog(ledger *Ledger, metrics ports.MetricsCollector, interval time.Duration, logger *zap.Logger, clk clock.Clock) *Watchdog {
	if clk == nil {
		clk = clock.New()
	}
	return &Watchdog{
		ledger:   ledger,
		metrics:  metrics,
		interval: interval,
		logger:   logger,
		clk:      clk,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic check.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	go w.run()
}

// Stop halts the watchdog.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
}

func (w *Watchdog) run() {
	ticker := w.clk.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check logs utilization and flags an over-booked ledger, which would mean
// the reserve-then-commit discipline was violated somewhere.
func (w *Watchdog) check() {
	cpuUsed, memUsed := w.ledger.Reserved()
	cpuTotal, memTotal := w.ledger.Capacity()
	cpu, mem := w.ledger.Utilization()
	w.metrics.SetLedgerUtilization(cpu, mem)

	w.logger.Debug("resource ledger check",
		zap.Int("cpus_reserved", cpuUsed),
		zap.Int("cpus_total", cpuTotal),
		zap.String("memory_reserved", humanize.IBytes(memUsed)),
		zap.String("memory_total", humanize.IBytes(memTotal)))

	if cpuUsed > cpuTotal || memUsed > memTotal {
		w.logger.Error("resource ledger over-booked",
			zap.Int("cpus_reserved", cpuUsed),
			zap.Int("cpus_total", cpuTotal),
			zap.String("memory_reserved", humanize.IBytes(memUsed)),
			zap.String("memory_total", humanize.IBytes(memTotal)))
	}

	if cpu >= 1 || mem >= 1 {
		w.logger.Warn("resource ledger saturated, instances queueing",
			zap.Float64("cpu_utilization", cpu),
			zap.Float64("memory_utilization", mem))
	}
}
