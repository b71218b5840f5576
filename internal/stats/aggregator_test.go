package stats_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-remote/backend/internal/models"
	"github.com/aura-remote/backend/internal/quality"
	"github.com/aura-remote/backend/internal/stats"
)

type sink struct {
	mu     sync.Mutex
	known  map[string]bool
	latest map[string]models.Performance
}

func newSink(ids ...string) *sink {
	s := &sink{known: map[string]bool{}, latest: map[string]models.Performance{}}
	for _, id := range ids {
		s.known[id] = true
	}
	return s
}

func (s *sink) UpdatePerformance(sessionID string, perf models.Performance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known[sessionID] {
		return false
	}
	s.latest[sessionID] = perf
	return true
}

func TestRecordSample_CapsAtFifty(t *testing.T) {
	agg := stats.NewAggregator(newSink("S1"), nil)

	for i := 0; i < 120; i++ {
		_, err := agg.RecordSample("S1", models.PerformanceSample{Latency: float64(i)})
		require.NoError(t, err)
	}

	samples := agg.Samples("S1")
	require.Len(t, samples, stats.MaxSamples)
	assert.Equal(t, 70.0, samples[0].Latency)
	assert.Equal(t, 119.0, samples[len(samples)-1].Latency)
}

func TestRecordSample_AveragesLastTen(t *testing.T) {
	s := newSink("S1")
	agg := stats.NewAggregator(s, nil)

	res, err := agg.RecordSample("S1", models.PerformanceSample{Latency: 40, FPS: 20})
	require.NoError(t, err)
	assert.Equal(t, 40.0, res.Performance.AvgLatency)

	for i := 1; i <= 15; i++ {
		res, err = agg.RecordSample("S1", models.PerformanceSample{Latency: float64(i * 10), FPS: float64(i)})
		require.NoError(t, err)
	}

	// Last ten latencies are 60..150, fps 6..15.
	assert.InDelta(t, 105.0, res.Performance.AvgLatency, 1e-9)
	assert.InDelta(t, 10.5, res.Performance.AvgFPS, 1e-9)
	assert.Equal(t, res.Performance, s.latest["S1"])
}

func TestRecordSample_BytesAndDrops(t *testing.T) {
	agg := stats.NewAggregator(newSink("S1"), nil)

	_, err := agg.RecordSample("S1", models.PerformanceSample{Bytes: 1000, PacketLoss: 1})
	require.NoError(t, err)
	res, err := agg.RecordSample("S1", models.PerformanceSample{Bytes: 500, PacketLoss: 12})
	require.NoError(t, err)

	assert.Equal(t, int64(1500), res.Performance.TotalBytes)
	assert.Equal(t, int64(1), res.Performance.Drops)
}

func TestRecordSample_UnknownSession(t *testing.T) {
	agg := stats.NewAggregator(newSink(), nil)

	_, err := agg.RecordSample("ghost", models.PerformanceSample{Latency: 10})

	assert.ErrorIs(t, err, stats.ErrUnknownSession)
	assert.Empty(t, agg.Samples("ghost"))
}

func TestRecordSample_TierChange(t *testing.T) {
	agg := stats.NewAggregator(newSink("S1"), nil)

	res, err := agg.RecordSample("S1", models.PerformanceSample{Latency: 20})
	require.NoError(t, err)
	assert.False(t, res.TierChanged)
	assert.Equal(t, quality.Excellent, res.Tier.Label)

	res, err = agg.RecordSample("S1", models.PerformanceSample{Latency: 500})
	require.NoError(t, err)
	assert.True(t, res.TierChanged)
	assert.Equal(t, quality.Fair, res.Tier.Label) // mean 260ms

	tier, ok := agg.Recommend("S1")
	require.True(t, ok)
	assert.Equal(t, res.Tier, tier)
}

func TestDrop(t *testing.T) {
	agg := stats.NewAggregator(newSink("S1"), nil)
	_, err := agg.RecordSample("S1", models.PerformanceSample{Latency: 20})
	require.NoError(t, err)

	agg.Drop("S1")

	assert.Empty(t, agg.Samples("S1"))
	_, ok := agg.Recommend("S1")
	assert.False(t, ok)
}
