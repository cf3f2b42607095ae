package observability

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func testRecorder(now *time.Time) *Recorder {
	cfg := DefaultConfig()
	cfg.Now = func() time.Time { return *now }
	return NewRecorder(cfg, nil)
}

func okRecord(bucket domain.Bucket, latencyMS, cost float64) Record {
	return Record{
		RequestID:   "r",
		Bucket:      bucket,
		Provider:    domain.ProviderOpenAI,
		Model:       "gpt-4o",
		Success:     true,
		ExecutionMS: latencyMS,
		CostUSD:     cost,
	}
}

// ─── Window Statistics ──────────────────────────────────────────────────────

func TestWindow_RouteShareAndCost(t *testing.T) {
	now := time.Unix(1000, 0)
	r := testRecorder(&now)

	r.Observe(okRecord(domain.BucketCheap, 100, 0.001))
	r.Observe(okRecord(domain.BucketCheap, 120, 0.002))
	r.Observe(okRecord(domain.BucketHard, 900, 0.10))
	r.Observe(okRecord(domain.BucketMid, 300, 0.01))

	st := r.Window()
	if st.Count != 4 {
		t.Fatalf("count = %d, want 4", st.Count)
	}
	if math.Abs(st.RouteShare[domain.BucketCheap]-0.5) > 1e-9 {
		t.Errorf("cheap share = %v, want 0.5", st.RouteShare[domain.BucketCheap])
	}
	wantMean := (0.001 + 0.002 + 0.10 + 0.01) / 4
	if math.Abs(st.CostMean-wantMean) > 1e-9 {
		t.Errorf("cost mean = %v, want %v", st.CostMean, wantMean)
	}
	if st.LatencyP95 < 300 {
		t.Errorf("latency p95 = %v, should reflect slow tail", st.LatencyP95)
	}
}

func TestWindow_DropsOldRecords(t *testing.T) {
	now := time.Unix(1000, 0)
	r := testRecorder(&now)

	r.Observe(okRecord(domain.BucketCheap, 100, 0))
	now = now.Add(2 * time.Hour)
	r.Observe(okRecord(domain.BucketMid, 200, 0))

	st := r.Window()
	if st.Count != 1 {
		t.Errorf("count after window expiry = %d, want 1", st.Count)
	}
	if st.RouteShare[domain.BucketCheap] != 0 {
		t.Error("expired record still in route share")
	}
}

func TestWindow_MisfireRate(t *testing.T) {
	now := time.Unix(1000, 0)
	r := testRecorder(&now)

	ok := okRecord(domain.BucketMid, 100, 0)
	ok.FallbackUsed = true
	ok.FallbackReason = "transient"
	r.Observe(ok)

	bad := okRecord(domain.BucketMid, 100, 0)
	bad.Success = false
	bad.FallbackUsed = true
	bad.FallbackReason = "transient"
	r.Observe(bad)

	st := r.Window()
	if math.Abs(st.MisfireRate-0.5) > 1e-9 {
		t.Errorf("misfire rate = %v, want 0.5", st.MisfireRate)
	}
}

func TestWindow_WinRateNeedsSamples(t *testing.T) {
	now := time.Unix(1000, 0)
	r := testRecorder(&now)

	r.Observe(okRecord(domain.BucketCheap, 50, 0))
	st := r.Window()
	if st.WinRateSamples != 0 {
		t.Errorf("samples = %d, want 0", st.WinRateSamples)
	}

	win := okRecord(domain.BucketCheap, 50, 0)
	yes := true
	win.WinVsBaseline = &yes
	r.Observe(win)

	st = r.Window()
	if st.WinRateSamples != 1 || st.WinRate != 1 {
		t.Errorf("win rate = %v over %d samples", st.WinRate, st.WinRateSamples)
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	now := time.Unix(1000, 0)
	r := testRecorder(&now)

	for i := 0; i < 5; i++ {
		rec := okRecord(domain.BucketCheap, float64(i), 0)
		rec.RequestID = string(rune('a' + i))
		r.Observe(rec)
	}
	recent := r.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("recent = %d entries, want 3", len(recent))
	}
	if recent[0].RequestID != "e" || recent[2].RequestID != "c" {
		t.Errorf("order = %q %q %q, want e d c", recent[0].RequestID, recent[1].RequestID, recent[2].RequestID)
	}
}

func TestPercentile(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	if got := percentile(values, 0.95); got != 100 {
		t.Errorf("p95 of 10 values = %v, want 100", got)
	}
	if got := percentile(values, 0.5); got != 50 {
		t.Errorf("p50 = %v, want 50", got)
	}
	if got := percentile(nil, 0.95); got != 0 {
		t.Errorf("empty percentile = %v, want 0", got)
	}
}

// ─── SLO Gates ──────────────────────────────────────────────────────────────

func sloConfig() SLOConfig {
	return SLOConfig{
		P95MS:          2500,
		MaxMisfireRate: 0.05,
		MinUptimePct:   99.5,
		MaxCostPerTask: 0.25,
		MinWinRate:     0.5,
	}
}

func TestEvaluateSLO_AllPass(t *testing.T) {
	report := EvaluateSLO(sloConfig(), WindowStats{
		LatencyP95: 800, MisfireRate: 0.01, UptimePct: 99.9,
		CostMean: 0.02, WinRate: 0.7, WinRateSamples: 100,
	})
	if !report.Healthy {
		t.Errorf("report = %+v, want healthy", report)
	}
}

func TestEvaluateSLO_BlockingGateFails(t *testing.T) {
	report := EvaluateSLO(sloConfig(), WindowStats{
		LatencyP95: 4000, MisfireRate: 0.01, UptimePct: 99.9,
	})
	if report.Healthy {
		t.Error("p95 breach must block")
	}
	for _, g := range report.Gates {
		if g.Name == "latency_p95_ms" && g.Passed {
			t.Error("latency gate should fail")
		}
	}
}

func TestEvaluateSLO_WarningGateDoesNotBlock(t *testing.T) {
	report := EvaluateSLO(sloConfig(), WindowStats{
		LatencyP95: 800, MisfireRate: 0.01, UptimePct: 99.9,
		CostMean: 5.0, // breaches the warning gate only
	})
	if !report.Healthy {
		t.Error("cost breach is a warning, not a block")
	}
}

func TestAlerter_FiresOnTransitionOnly(t *testing.T) {
	var events []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Event string `json:"event"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		events = append(events, payload.Event)
	}))
	defer srv.Close()

	a := NewAlerter(srv.URL, nil)
	unhealthy := SLOReport{Healthy: false}
	healthy := SLOReport{Healthy: true}

	a.Evaluate(context.Background(), unhealthy)
	a.Evaluate(context.Background(), unhealthy) // no re-fire
	a.Evaluate(context.Background(), healthy)

	want := []string{"slo_breach", "slo_recovered"}
	if len(events) != len(want) || events[0] != want[0] || events[1] != want[1] {
		t.Errorf("events = %v, want %v", events, want)
	}
}

func TestEvaluateSLO_WinRateNoData(t *testing.T) {
	report := EvaluateSLO(sloConfig(), WindowStats{
		LatencyP95: 800, UptimePct: 99.9, WinRateSamples: 0,
	})
	for _, g := range report.Gates {
		if g.Name == "win_rate" {
			if !g.Passed || !g.NoData {
				t.Errorf("win_rate gate = %+v, want pass with no_data", g)
			}
		}
	}
}
