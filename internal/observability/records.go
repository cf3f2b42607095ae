package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Decision Record ────────────────────────────────────────────────────────

// Record is the per-decision observability event. Records are emitted in
// completion order, not arrival order.
type Record struct {
	RequestID        string              `json:"request_id"`
	Bucket           domain.Bucket       `json:"bucket"`
	Provider         domain.ProviderKind `json:"provider"`
	Model            string              `json:"model"`
	Success          bool                `json:"success"`
	Denied           bool                `json:"denied,omitempty"`
	DenyReason       string              `json:"deny_reason,omitempty"`
	ExecutionMS      float64             `json:"execution_ms"`
	PromptTokens     int                 `json:"prompt_tokens"`
	CompletionTokens int                 `json:"completion_tokens"`
	CostUSD          float64             `json:"cost_usd"`
	FallbackUsed     bool                `json:"fallback_used"`
	FallbackReason   string              `json:"fallback_reason,omitempty"`
	Anthropic429     bool                `json:"anthropic_429"`
	EmbeddingFallback bool               `json:"embedding_fallback,omitempty"`
	ArtifactVersion  string              `json:"artifact_version"`

	// WinVsBaseline is an externally supplied signal; nil means no data.
	WinVsBaseline *bool `json:"win_vs_baseline,omitempty"`

	At time.Time `json:"at"`
}

// Sink receives completed records. The sqlite store implements this.
type Sink interface {
	Append(Record) error
}

// ─── Recorder ───────────────────────────────────────────────────────────────

// Config configures the recorder.
type Config struct {
	// Window is the sliding-window span for SLO counters (min 1 h).
	Window time.Duration

	// RingSize caps the in-memory recent-records buffer (default 1024).
	RingSize int

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Window:   time.Hour,
		RingSize: 1024,
		Now:      time.Now,
	}
}

// Recorder aggregates records into the sliding-window counters and keeps a
// ring of recent records for the dashboard.
type Recorder struct {
	cfg  Config
	sink Sink // optional

	mu      sync.RWMutex
	ring    []Record
	ringIdx int
	full    bool

	window []Record // time-ordered window for percentile queries

	startedAt time.Time
	total     int64
	failures  int64
}

// NewRecorder creates a recorder. sink may be nil.
func NewRecorder(cfg Config, sink Sink) *Recorder {
	if cfg.Window < time.Hour {
		cfg.Window = time.Hour
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = 1024
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{
		cfg:       cfg,
		sink:      sink,
		ring:      make([]Record, cfg.RingSize),
		startedAt: cfg.Now(),
	}
}

// Observe ingests one completed record: updates prometheus metrics, the
// sliding window, the ring, and the optional sink.
func (r *Recorder) Observe(rec Record) {
	if rec.At.IsZero() {
		rec.At = r.cfg.Now()
	}

	DecisionsTotal.WithLabelValues(string(rec.Bucket), string(rec.Provider)).Inc()
	DecisionLatency.WithLabelValues(string(rec.Bucket)).Observe(rec.ExecutionMS)
	if rec.CostUSD > 0 {
		TaskCost.WithLabelValues(string(rec.Bucket)).Observe(rec.CostUSD)
	}
	if rec.FallbackUsed {
		FallbacksTotal.WithLabelValues(rec.FallbackReason).Inc()
		if !rec.Success {
			FailoverMisfires.Inc()
		}
	}
	if rec.Anthropic429 {
		Anthropic429Total.Inc()
	}
	if rec.EmbeddingFallback {
		EmbeddingFallbacks.Inc()
	}

	r.mu.Lock()
	r.total++
	if !rec.Success {
		r.failures++
	}
	r.ring[r.ringIdx] = rec
	r.ringIdx++
	if r.ringIdx >= len(r.ring) {
		r.ringIdx = 0
		r.full = true
	}
	r.window = append(r.trimLocked(), rec)
	r.mu.Unlock()

	if r.sink != nil {
		_ = r.sink.Append(rec)
	}
}

// trimLocked drops window entries older than the configured span.
// Caller holds mu.
func (r *Recorder) trimLocked() []Record {
	cutoff := r.cfg.Now().Add(-r.cfg.Window)
	w := r.window
	i := 0
	for i < len(w) && w[i].At.Before(cutoff) {
		i++
	}
	return w[i:]
}

// Recent returns the most recent N records, newest first.
func (r *Recorder) Recent(limit int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := r.ringIdx
	if r.full {
		count = len(r.ring)
	}
	if limit <= 0 || limit > count {
		limit = count
	}
	out := make([]Record, limit)
	idx := r.ringIdx
	for i := 0; i < limit; i++ {
		idx--
		if idx < 0 {
			idx = len(r.ring) - 1
		}
		out[i] = r.ring[idx]
	}
	return out
}

// ─── Window Statistics ──────────────────────────────────────────────────────

// WindowStats summarizes the sliding window for the dashboard and the SLO
// evaluation.
type WindowStats struct {
	Count          int                      `json:"count"`
	RouteShare     map[domain.Bucket]float64 `json:"route_share"`
	CostMean       float64                  `json:"cost_mean"`
	CostP95        float64                  `json:"cost_p95"`
	LatencyP95     float64                  `json:"latency_p95"`
	LatencyP99     float64                  `json:"latency_p99"`
	Anthropic429Rate float64                `json:"anthropic_429_rate"`
	MisfireRate    float64                  `json:"misfire_rate"`
	WinRate        float64                  `json:"win_rate"`
	WinRateSamples int                      `json:"win_rate_samples"`
	UptimePct      float64                  `json:"uptime_pct"`
}

// Window computes statistics over the sliding window.
func (r *Recorder) Window() WindowStats {
	r.mu.Lock()
	r.window = r.trimLocked()
	window := make([]Record, len(r.window))
	copy(window, r.window)
	total, failures := r.total, r.failures
	r.mu.Unlock()

	st := WindowStats{
		Count:      len(window),
		RouteShare: make(map[domain.Bucket]float64),
	}
	if total > 0 {
		st.UptimePct = 100 * float64(total-failures) / float64(total)
	} else {
		st.UptimePct = 100
	}
	if len(window) == 0 {
		return st
	}

	var (
		costs, latencies []float64
		costSum          float64
		rl429, fallbacks, misfires int
		wins, winSamples int
	)
	shares := make(map[domain.Bucket]int)
	for _, rec := range window {
		shares[rec.Bucket]++
		costs = append(costs, rec.CostUSD)
		costSum += rec.CostUSD
		latencies = append(latencies, rec.ExecutionMS)
		if rec.Anthropic429 {
			rl429++
		}
		if rec.FallbackUsed {
			fallbacks++
			if !rec.Success {
				misfires++
			}
		}
		if rec.WinVsBaseline != nil {
			winSamples++
			if *rec.WinVsBaseline {
				wins++
			}
		}
	}
	n := float64(len(window))
	for b, c := range shares {
		st.RouteShare[b] = float64(c) / n
	}
	st.CostMean = costSum / n
	st.CostP95 = percentile(costs, 0.95)
	st.LatencyP95 = percentile(latencies, 0.95)
	st.LatencyP99 = percentile(latencies, 0.99)
	st.Anthropic429Rate = float64(rl429) / n
	if fallbacks > 0 {
		st.MisfireRate = float64(misfires) / float64(fallbacks)
	}
	st.WinRateSamples = winSamples
	if winSamples > 0 {
		st.WinRate = float64(wins) / float64(winSamples)
	}
	return st
}

// percentile returns the p-quantile (0..1) by nearest-rank on a sorted copy.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
