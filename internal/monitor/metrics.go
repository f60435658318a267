package monitor

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing, so components can be built without one in tests.
type Metrics struct {
	Registry *prometheus.Registry

	streamMessages   *prometheus.CounterVec
	streamReconnects prometheus.Counter
	safetyInstalls   *prometheus.CounterVec
	trailingAmends   *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	refreshFailures  *prometheus.CounterVec
	persistErrors    prometheus.Counter
	trackers         *prometheus.GaugeVec

	// DecisionLatency keeps recent decision-service round trips for /healthz.
	DecisionLatency *LatencyHistogram
}

// NewMetrics creates and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		streamMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_stream_messages_total",
			Help: "Stream messages dispatched, by event type.",
		}, []string{"event"}),
		streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_stream_reconnects_total",
			Help: "Stream sessions that ended and were reconnected.",
		}),
		safetyInstalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_safety_installs_total",
			Help: "Safety order installations by outcome (secured|failed|skipped).",
		}, []string{"outcome"}),
		trailingAmends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_trailing_amendments_total",
			Help: "Trailing stop amendments by result (applied|failed|activated).",
		}, []string{"result"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_decisions_total",
			Help: "Decision service verdicts (BUY|SELL|WAIT|REJECTED).",
		}, []string{"verdict"}),
		refreshFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_refresh_failures_total",
			Help: "Slow data refresh failures by kind (funding|oi|lsr).",
		}, []string{"kind"}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_tracker_persist_errors_total",
			Help: "Failed tracker table writes.",
		}),
		trackers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_trackers",
			Help: "Tracker entries by status.",
		}, []string{"status"}),
		DecisionLatency: NewLatencyHistogram(500),
	}
	m.Registry.MustRegister(
		m.streamMessages, m.streamReconnects, m.safetyInstalls, m.trailingAmends,
		m.decisions, m.refreshFailures, m.persistErrors, m.trackers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) StreamMessage(event string) {
	if m != nil {
		m.streamMessages.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) StreamReconnect() {
	if m != nil {
		m.streamReconnects.Inc()
	}
}

func (m *Metrics) SafetyInstall(outcome string) {
	if m != nil {
		m.safetyInstalls.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TrailingAmend(result string) {
	if m != nil {
		m.trailingAmends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Decision(verdict string) {
	if m != nil {
		m.decisions.WithLabelValues(verdict).Inc()
	}
}

func (m *Metrics) RefreshFailure(kind string) {
	if m != nil {
		m.refreshFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) PersistError() {
	if m != nil {
		m.persistErrors.Inc()
	}
}

// SetTrackerCounts replaces the per-status tracker gauge.
func (m *Metrics) SetTrackerCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.trackers.Reset()
	for status, n := range counts {
		m.trackers.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveDecision records one decision-service round trip.
func (m *Metrics) ObserveDecision(d time.Duration) {
	if m != nil {
		m.DecisionLatency.RecordDuration(d)
	}
}

// LatencyHistogram tracks latency samples with sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Only recomputed after new samples.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// RuntimeSnapshot is the process section of the health report.
type RuntimeSnapshot struct {
	DecisionLatency LatencyStats `json:"decision_latency"`
	GoroutineCount  int          `json:"goroutine_count"`
	HeapAlloc       uint64       `json:"heap_alloc_bytes"`
	Timestamp       time.Time    `json:"timestamp"`
}

// Runtime returns a point-in-time process snapshot.
func (m *Metrics) Runtime() RuntimeSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	snap := RuntimeSnapshot{
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		Timestamp:      time.Now(),
	}
	if m != nil {
		snap.DecisionLatency = m.DecisionLatency.Stats()
	}
	return snap
}
