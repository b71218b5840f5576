// Package stats keeps a short rolling window of endpoint telemetry per session.
package stats

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-remote/backend/internal/models"
	"github.com/aura-remote/backend/internal/quality"
)

const (
	// MaxSamples is the ring capacity per session.
	MaxSamples = 50
	// AverageWindow is how many recent samples the averages cover.
	AverageWindow = 10
	// DropLossPercent is the packet loss above which a sample counts as a drop.
	DropLossPercent = 5.0
)

var ErrUnknownSession = errors.New("stats for unknown session")

// PerformanceSink receives the recomputed performance block. It reports false
// when the session no longer exists.
type PerformanceSink interface {
	UpdatePerformance(sessionID string, perf models.Performance) bool
}

// Result is the outcome of RecordSample.
type Result struct {
	Performance models.Performance
	Tier        quality.Tier
	TierChanged bool
}

type window struct {
	samples    [MaxSamples]models.PerformanceSample
	next       int
	count      int
	totalBytes int64
	drops      int64
	tier       quality.Tier
	hasTier    bool
}

// Aggregator is purely in-memory; history is lost on restart.
type Aggregator struct {
	mu       sync.Mutex
	sessions map[string]*window
	sink     PerformanceSink
	logger   *zap.Logger
	now      func() time.Time
}

// NewAggregator creates an aggregator writing results into sink.
func NewAggregator(sink PerformanceSink, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		sessions: make(map[string]*window),
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordSample appends a sample and recomputes the session's trailing averages.
func (a *Aggregator) RecordSample(sessionID string, s models.PerformanceSample) (Result, error) {
	if s.Timestamp.IsZero() {
		s.Timestamp = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	w, ok := a.sessions[sessionID]
	if !ok {
		w = &window{}
		a.sessions[sessionID] = w
	}
	w.samples[w.next] = s
	w.next = (w.next + 1) % MaxSamples
	if w.count < MaxSamples {
		w.count++
	}
	if s.Bytes > 0 {
		w.totalBytes += s.Bytes
	}
	if s.PacketLoss > DropLossPercent {
		w.drops++
	}

	perf := models.Performance{TotalBytes: w.totalBytes, Drops: w.drops}
	perf.AvgLatency, perf.AvgFPS = w.averages()

	if a.sink != nil && !a.sink.UpdatePerformance(sessionID, perf) {
		delete(a.sessions, sessionID)
		return Result{}, ErrUnknownSession
	}

	tier := quality.ClassifyMillis(perf.AvgLatency)
	changed := w.hasTier && tier != w.tier
	w.tier, w.hasTier = tier, true
	if changed {
		a.logger.Debug("quality tier changed",
			zap.String("session_id", sessionID),
			zap.String("tier", string(tier.Label)),
			zap.Float64("avg_latency", perf.AvgLatency),
		)
	}
	return Result{Performance: perf, Tier: tier, TierChanged: changed}, nil
}

// Recommend returns the tier derived from the current trailing latency.
func (a *Aggregator) Recommend(sessionID string) (quality.Tier, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.sessions[sessionID]
	if !ok || !w.hasTier {
		return quality.Tier{}, false
	}
	return w.tier, true
}

// Samples returns the retained samples of a session, oldest first.
func (a *Aggregator) Samples(sessionID string) []models.PerformanceSample {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]models.PerformanceSample, 0, w.count)
	start := (w.next - w.count + MaxSamples) % MaxSamples
	for i := 0; i < w.count; i++ {
		out = append(out, w.samples[(start+i)%MaxSamples])
	}
	return out
}

// Drop forgets a session's telemetry.
func (a *Aggregator) Drop(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
}

func (w *window) averages() (latency, fps float64) {
	n := w.count
	if n > AverageWindow {
		n = AverageWindow
	}
	if n == 0 {
		return 0, 0
	}
	for i := 1; i <= n; i++ {
		s := w.samples[(w.next-i+MaxSamples)%MaxSamples]
		latency += s.Latency
		fps += s.FPS
	}
	return latency / float64(n), fps / float64(n)
}
