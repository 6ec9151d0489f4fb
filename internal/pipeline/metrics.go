package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/thebtf/engram-recall/internal/pipeline"

const maxRecentLatencies = 1000

// Metrics tracks pipeline usage in process and mirrors stage timings to
// OpenTelemetry instruments.
type Metrics struct {
	startTime       time.Time
	stageDuration   metric.Float64Histogram
	degradedCounter metric.Int64Counter
	stageTotals     map[string]*atomic.Int64 // microseconds
	recentLatencies []time.Duration
	latenciesMu     sync.Mutex
	totalQueries    atomic.Int64
	failedQueries   atomic.Int64
	hybridQueries   atomic.Int64
	rrfQueries      atomic.Int64
	semanticSkipped atomic.Int64
	semanticDegrade atomic.Int64
	priorityApplied atomic.Int64
	totalLatency    atomic.Int64 // microseconds
}

// NewMetrics creates a metrics tracker using the global meter provider.
func NewMetrics() *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{
		startTime:       time.Now(),
		recentLatencies: make([]time.Duration, 0, maxRecentLatencies),
		stageTotals: map[string]*atomic.Int64{
			StageFilter:   {},
			StageSemantic: {},
			StageScore:    {},
		},
	}
	// Instrument creation only fails on invalid names; fall back to no-ops.
	if h, err := meter.Float64Histogram("engram.pipeline.stage.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Duration of one pipeline stage")); err == nil {
		m.stageDuration = h
	}
	if c, err := meter.Int64Counter("engram.pipeline.semantic.degraded",
		metric.WithDescription("Requests whose semantic stage degraded to lexical")); err == nil {
		m.degradedCounter = c
	}
	return m
}

// RecordStage records the duration of one stage run.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if total, ok := m.stageTotals[stage]; ok {
		total.Add(d.Microseconds())
	}
	if m.stageDuration != nil {
		m.stageDuration.Record(ctx, float64(d.Microseconds())/1000,
			metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// RecordQuery records a completed request.
func (m *Metrics) RecordQuery(ctx context.Context, d Diagnostics, latency time.Duration, err error) {
	m.totalQueries.Add(1)
	m.totalLatency.Add(latency.Microseconds())
	if err != nil {
		m.failedQueries.Add(1)
	}

	switch d.Fusion {
	case FusionHybrid:
		m.hybridQueries.Add(1)
	case FusionRRF:
		m.rrfQueries.Add(1)
	}
	if d.SemanticSkipped != "" {
		m.semanticSkipped.Add(1)
	}
	if d.SemanticDegraded != "" {
		m.semanticDegrade.Add(1)
		if m.degradedCounter != nil {
			m.degradedCounter.Add(ctx, 1)
		}
	}
	if d.SmartPriorityApplied {
		m.priorityApplied.Add(1)
	}

	m.latenciesMu.Lock()
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > maxRecentLatencies {
		m.recentLatencies = m.recentLatencies[len(m.recentLatencies)-maxRecentLatencies:]
	}
	m.latenciesMu.Unlock()
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	AvgStageLatency  map[string]time.Duration
	TotalQueries     int64
	FailedQueries    int64
	HybridQueries    int64
	RRFQueries       int64
	SemanticSkipped  int64
	SemanticDegraded int64
	PriorityApplied  int64
	AvgLatency       time.Duration
	P50Latency       time.Duration
	P95Latency       time.Duration
	P99Latency       time.Duration
	Uptime           time.Duration
}

// GetSnapshot returns the current metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.latenciesMu.Lock()
	defer m.latenciesMu.Unlock()

	total := m.totalQueries.Load()
	snapshot := MetricsSnapshot{
		TotalQueries:     total,
		FailedQueries:    m.failedQueries.Load(),
		HybridQueries:    m.hybridQueries.Load(),
		RRFQueries:       m.rrfQueries.Load(),
		SemanticSkipped:  m.semanticSkipped.Load(),
		SemanticDegraded: m.semanticDegrade.Load(),
		PriorityApplied:  m.priorityApplied.Load(),
		AvgStageLatency:  make(map[string]time.Duration, len(m.stageTotals)),
		Uptime:           time.Since(m.startTime),
	}

	if total > 0 {
		snapshot.AvgLatency = time.Duration(m.totalLatency.Load()/total) * time.Microsecond
		for stage, sum := range m.stageTotals {
			snapshot.AvgStageLatency[stage] = time.Duration(sum.Load()/total) * time.Microsecond
		}
	}

	if len(m.recentLatencies) > 0 {
		sorted := make([]time.Duration, len(m.recentLatencies))
		copy(sorted, m.recentLatencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		snapshot.P50Latency = percentile(sorted, 0.50)
		snapshot.P95Latency = percentile(sorted, 0.95)
		snapshot.P99Latency = percentile(sorted, 0.99)
	}
	return snapshot
}

// percentile returns the pth percentile of an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// String returns a human-readable representation of the snapshot.
func (s MetricsSnapshot) String() string {
	return fmt.Sprintf(`Retrieval Pipeline Metrics:
  Queries: %d (failed: %d, hybrid: %d, rrf: %d)
  Latency: avg %v (p50: %v, p95: %v, p99: %v)
  Stages: filter %v, semantic %v, score %v
  Semantic: skipped %d, degraded %d
  Smart priority applied: %d
  Uptime: %v`,
		s.TotalQueries, s.FailedQueries, s.HybridQueries, s.RRFQueries,
		s.AvgLatency, s.P50Latency, s.P95Latency, s.P99Latency,
		s.AvgStageLatency[StageFilter], s.AvgStageLatency[StageSemantic], s.AvgStageLatency[StageScore],
		s.SemanticSkipped, s.SemanticDegraded,
		s.PriorityApplied,
		s.Uptime.Round(time.Second),
	)
}
