package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsDerivedRates(t *testing.T) {
	reg := newMetricsRegistry(time.Now().Add(-10 * time.Second))
	reg.update(func(m *Metrics) {
		m.BlocksProcessed = 4
		m.Proposed = 5
		m.RoundsAttempted = 6
		m.RoundsSucceeded = 4
		m.TotalFinalityTime = 4 * time.Second
		m.TotalTxCommitted = 40
	})

	snap := reg.snapshot()
	assert.Equal(t, time.Second, snap.AverageFinalityTime())
	assert.InDelta(t, 0.8, snap.PipelineEfficiency(), 0.001)
	assert.InDelta(t, float64(4)/float64(6), snap.RoundSuccessRate(), 0.001)
	assert.Greater(t, snap.ThroughputTPS(), 0.0)
}

func TestMetricsZeroStateIsSafe(t *testing.T) {
	reg := newMetricsRegistry(time.Now())
	snap := reg.snapshot()
	assert.Equal(t, time.Duration(0), snap.AverageFinalityTime())
	assert.Equal(t, 0.0, snap.PipelineEfficiency())
	assert.Equal(t, 0.0, snap.RoundSuccessRate())
}
