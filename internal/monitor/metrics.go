package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks ledger throughput and latency in process.
type SystemMetrics struct {
	// Latency histograms
	TradeLatency      *LatencyHistogram
	SettlementLatency *LatencyHistogram
	ReportLatency     *LatencyHistogram
	HTTPLatency       *LatencyHistogram

	// Counters
	tradesCreated       uint64
	tradesCancelled     uint64
	settlementsApplied  uint64
	unmatchedSettlement uint64
	conflictsCount      uint64
	errorsCount         uint64

	startedAt time.Time
}

// LatencyHistogram keeps the most recent latency samples; stats are recomputed only after new samples.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool         // Whether samples have changed since last Stats()
	cachedStats LatencyStats // Cached computed stats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		TradeLatency:      NewLatencyHistogram(1000),
		SettlementLatency: NewLatencyHistogram(1000),
		ReportLatency:     NewLatencyHistogram(1000),
		HTTPLatency:       NewLatencyHistogram(1000),
		startedAt:         time.Now(),
	}
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
		// Shift window: remove oldest
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true // Mark as dirty for lazy recomputation
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99.
// Uses lazy computation - only recomputes when samples have changed.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Return cached stats if samples haven't changed
	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	// Compute new stats
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	lo, hi := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   lo,
		Max:   hi,
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

// IncrementTradesCreated counts a booked trade.
func (m *SystemMetrics) IncrementTradesCreated() {
	atomic.AddUint64(&m.tradesCreated, 1)
}

// IncrementTradesCancelled counts a cancelled trade.
func (m *SystemMetrics) IncrementTradesCancelled() {
	atomic.AddUint64(&m.tradesCancelled, 1)
}

// IncrementSettlements counts a receipt or payment; unmatched ones are counted separately too.
func (m *SystemMetrics) IncrementSettlements(matched bool) {
	atomic.AddUint64(&m.settlementsApplied, 1)
	if !matched {
		atomic.AddUint64(&m.unmatchedSettlement, 1)
	}
}

// IncrementConflicts counts units aborted on lock contention.
func (m *SystemMetrics) IncrementConflicts() {
	atomic.AddUint64(&m.conflictsCount, 1)
}

// IncrementErrors increments error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// MetricsSnapshot is a point-in-time view of SystemMetrics.
type MetricsSnapshot struct {
	TradeLatency         LatencyStats `json:"trade_latency"`
	SettlementLatency    LatencyStats `json:"settlement_latency"`
	ReportLatency        LatencyStats `json:"report_latency"`
	HTTPLatency          LatencyStats `json:"http_latency"`
	TradesCreated        uint64       `json:"trades_created"`
	TradesCancelled      uint64       `json:"trades_cancelled"`
	SettlementsApplied   uint64       `json:"settlements_applied"`
	UnmatchedSettlements uint64       `json:"unmatched_settlements"`
	ConflictsCount       uint64       `json:"conflicts_count"`
	ErrorsCount          uint64       `json:"errors_count"`
	GoroutineCount       int          `json:"goroutine_count"`
	HeapAlloc            uint64       `json:"heap_alloc_bytes"`
	UptimeSeconds        float64      `json:"uptime_seconds"`
	Timestamp            time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		TradeLatency:         m.TradeLatency.Stats(),
		SettlementLatency:    m.SettlementLatency.Stats(),
		ReportLatency:        m.ReportLatency.Stats(),
		HTTPLatency:          m.HTTPLatency.Stats(),
		TradesCreated:        atomic.LoadUint64(&m.tradesCreated),
		TradesCancelled:      atomic.LoadUint64(&m.tradesCancelled),
		SettlementsApplied:   atomic.LoadUint64(&m.settlementsApplied),
		UnmatchedSettlements: atomic.LoadUint64(&m.unmatchedSettlement),
		ConflictsCount:       atomic.LoadUint64(&m.conflictsCount),
		ErrorsCount:          atomic.LoadUint64(&m.errorsCount),
		GoroutineCount:       runtime.NumGoroutine(),
		HeapAlloc:            memStats.HeapAlloc,
		UptimeSeconds:        time.Since(m.startedAt).Seconds(),
		Timestamp:            time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
