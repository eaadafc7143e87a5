package consensus

import (
	"sync"
	"time"
)

// Metrics is the snapshot the façade's get_metrics() exposes.
type Metrics struct {
	BlocksProcessed   uint64
	Proposed          uint64
	ViewChanges       uint64
	FastPathCommits   uint64
	RoundsAttempted   uint64
	RoundsSucceeded   uint64
	TotalFinalityTime time.Duration
	TotalTxCommitted  uint64
	AggregatedCommits uint64
	startedAt         time.Time
}

// AverageFinalityTime is total finality time divided by blocks processed.
func (m Metrics) AverageFinalityTime() time.Duration {
	if m.BlocksProcessed == 0 {
		return 0
	}
	return m.TotalFinalityTime / time.Duration(m.BlocksProcessed)
}

// ThroughputTPS is committed transactions per second of engine uptime.
func (m Metrics) ThroughputTPS() float64 {
	elapsed := time.Since(m.startedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.TotalTxCommitted) / elapsed
}

// PipelineEfficiency is committed blocks over proposed blocks.
func (m Metrics) PipelineEfficiency() float64 {
	if m.Proposed == 0 {
		return 0
	}
	return float64(m.BlocksProcessed) / float64(m.Proposed)
}

// RoundSuccessRate is RoundsSucceeded (commits) over RoundsAttempted (rounds
// this replica started). A commit reached after a view change still counts
// as a success.
func (m Metrics) RoundSuccessRate() float64 {
	if m.RoundsAttempted == 0 {
		return 0
	}
	return float64(m.RoundsSucceeded) / float64(m.RoundsAttempted)
}

// metricsRegistry guards Metrics mutation from the event loop goroutine
// against concurrent reads from the façade goroutine.
type metricsRegistry struct {
	mu sync.RWMutex
	m  Metrics
}

func newMetricsRegistry(now time.Time) *metricsRegistry {
	return &metricsRegistry{m: Metrics{startedAt: now}}
}

func (r *metricsRegistry) snapshot() Metrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m
}

func (r *metricsRegistry) update(fn func(*Metrics)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.m)
}
