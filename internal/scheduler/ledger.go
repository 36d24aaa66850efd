package scheduler

import (
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/genoflow/genoflow/pkg/domain"
)

// Ledger tracks reserved vs available CPU and memory capacity. Instances
// compete for the pool by weight, not by slot count: a lightweight node and a
// heavy node draw from the same capacity. Reserve is atomic
// check-then-commit so concurrent dispatches cannot double-book.
type Ledger struct {
	mu sync.Mutex

	cpuTotal int
	memTotal uint64
	cpuUsed  int
	memUsed  uint64
}

// NewLedger creates a ledger with the configured total capacity.
func NewLedger(cpus int, memoryBytes uint64) *Ledger {
	return &Ledger{cpuTotal: cpus, memTotal: memoryBytes}
}

// Fits reports whether the profile could ever be satisfied. A profile
// exceeding total capacity is a fatal configuration error, not a retryable
// condition; the builder calls this before any task runs.
func (l *Ledger) Fits(node string, p domain.ResourceProfile) error {
	if p.CPUs > l.cpuTotal {
		return domain.Configf("node %q requests %d cpus but total capacity is %d",
			node, p.CPUs, l.cpuTotal)
	}
	if p.MemoryBytes > l.memTotal {
		return domain.Configf("node %q requests %s memory but total capacity is %s",
			node, humanize.IBytes(p.MemoryBytes), humanize.IBytes(l.memTotal))
	}
	return nil
}

// Reserve attempts to reserve the profile, returning false when remaining
// capacity is insufficient right now.
func (l *Ledger) Reserve(p domain.ResourceProfile) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cpuUsed+p.CPUs > l.cpuTotal || l.memUsed+p.MemoryBytes > l.memTotal {
		return false
	}
	l.cpuUsed += p.CPUs
	l.memUsed += p.MemoryBytes
	return true
}

// Release returns a reservation to the pool.
func (l *Ledger) Release(p domain.ResourceProfile) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cpuUsed -= p.CPUs
	l.memUsed -= p.MemoryBytes
	if l.cpuUsed < 0 || l.memUsed > l.memTotal {
		// Releasing more than was reserved is a bookkeeping bug.
		panic("resource ledger released below zero")
	}
}

// Utilization returns the reserved fraction of CPU and memory, in [0,1].
func (l *Ledger) Utilization() (cpu, memory float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cpuTotal > 0 {
		cpu = float64(l.cpuUsed) / float64(l.cpuTotal)
	}
	if l.memTotal > 0 {
		memory = float64(l.memUsed) / float64(l.memTotal)
	}
	return cpu, memory
}

// Reserved returns the currently reserved amounts.
func (l *Ledger) Reserved() (cpus int, memoryBytes uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cpuUsed, l.memUsed
}

// Capacity returns the configured totals.
func (l *Ledger) Capacity() (cpus int, memoryBytes uint64) {
	return l.cpuTotal, l.memTotal
}
