package triage

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/switchboard-ai/switchboard/internal/artifact"
	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

// fixedClock returns a clock that advances by step on each call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

var testSchema = []string{
	"token_count", "context_ratio", "has_code", "has_math", "ngram_entropy",
	"top_p_distance_0", "top_p_distance_1", "top_p_distance_2",
	"user_success_rate", "avg_latency",
}

// testEnsembleBlob builds a 3-tree ensemble (one boosting round) where each
// class tree splits on token_count: small counts score cheap high, large
// counts score hard high.
func testEnsembleBlob(t *testing.T) json.RawMessage {
	t.Helper()
	e := map[string]any{
		"num_class": 3,
		"trees": []map[string]any{
			// cheap: high for small token counts
			{"nodes": []map[string]any{
				{"f": 0, "t": 1000.0, "l": 1, "r": 2},
				{"f": -1, "v": 2.0},
				{"f": -1, "v": -1.0},
			}},
			// mid: flat
			{"nodes": []map[string]any{
				{"f": -1, "v": 0.0},
			}},
			// hard: high for large token counts
			{"nodes": []map[string]any{
				{"f": 0, "t": 1000.0, "l": 1, "r": 2},
				{"f": -1, "v": -1.0},
				{"f": -1, "v": 2.0},
			}},
		},
	}
	blob, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal ensemble: %v", err)
	}
	return blob
}

func testArtifact(t *testing.T, blob json.RawMessage) *artifact.Artifact {
	t.Helper()
	art := artifact.Emergency(384)
	art.Version = "test-1"
	art.GBDT = artifact.GBDT{
		Framework:     "sbtree-json",
		Blob:          blob,
		FeatureSchema: testSchema,
	}
	return art
}

// ─── Vectorize ──────────────────────────────────────────────────────────────

func TestVectorize_SchemaOrder(t *testing.T) {
	f := domain.Features{
		TokenCount:    120,
		ContextRatio:  0.25,
		HasCode:       true,
		HasMath:       false,
		NgramEntropy:  7.5,
		TopPDistances: []float64{0.1, 0.4},
	}
	vec := Vectorize(testSchema, f)

	if len(vec) != len(testSchema) {
		t.Fatalf("vector length = %d, want %d", len(vec), len(testSchema))
	}
	if vec[0] != 120 {
		t.Errorf("token_count = %v", vec[0])
	}
	if vec[2] != 1 || vec[3] != 0 {
		t.Errorf("has_code/has_math = %v/%v", vec[2], vec[3])
	}
	// top_p_distance_2 is absent → imputed to 1.0
	if vec[7] != 1.0 {
		t.Errorf("missing distance should impute to 1.0, got %v", vec[7])
	}
	if vec[8] != 0.5 {
		t.Errorf("user_success_rate should impute to 0.5, got %v", vec[8])
	}
	if vec[9] != 1000 {
		t.Errorf("avg_latency should impute to 1000, got %v", vec[9])
	}
}

func TestVectorize_UnknownNameImputesZero(t *testing.T) {
	vec := Vectorize([]string{"no_such_feature"}, domain.Features{TokenCount: 5})
	if vec[0] != 0 {
		t.Errorf("unknown feature = %v, want 0", vec[0])
	}
}

// ─── GBDT ───────────────────────────────────────────────────────────────────

func TestEnsemble_ProbabilitiesSumToOne(t *testing.T) {
	ens, err := ParseEnsemble(testEnsembleBlob(t), len(testSchema))
	if err != nil {
		t.Fatalf("ParseEnsemble: %v", err)
	}
	for _, tokens := range []float64{10, 500, 5000, 100000} {
		vec := make([]float64, len(testSchema))
		vec[0] = tokens
		p := ens.Predict(vec)
		sum := p[0] + p[1] + p[2]
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("tokens=%v: probabilities sum to %v", tokens, sum)
		}
	}
}

func TestEnsemble_SplitsByTokenCount(t *testing.T) {
	ens, err := ParseEnsemble(testEnsembleBlob(t), len(testSchema))
	if err != nil {
		t.Fatalf("ParseEnsemble: %v", err)
	}

	small := make([]float64, len(testSchema))
	small[0] = 20
	p := ens.Predict(small)
	if p[0] <= p[2] {
		t.Errorf("small prompt: cheap %v should beat hard %v", p[0], p[2])
	}

	large := make([]float64, len(testSchema))
	large[0] = 50000
	p = ens.Predict(large)
	if p[2] <= p[0] {
		t.Errorf("large prompt: hard %v should beat cheap %v", p[2], p[0])
	}
}

func TestParseEnsemble_Rejects(t *testing.T) {
	cases := []struct {
		name string
		blob string
	}{
		{"empty", ""},
		{"wrong class count", `{"num_class":2,"trees":[{"nodes":[{"f":-1,"v":0}]}]}`},
		{"tree count not multiple", `{"num_class":3,"trees":[{"nodes":[{"f":-1,"v":0}]}]}`},
		{"feature out of schema", `{"num_class":3,"trees":[
			{"nodes":[{"f":99,"t":0,"l":0,"r":0}]},
			{"nodes":[{"f":-1,"v":0}]},
			{"nodes":[{"f":-1,"v":0}]}]}`},
	}
	for _, tt := range cases {
		if _, err := ParseEnsemble(json.RawMessage(tt.blob), 10); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

// ─── Classifier ─────────────────────────────────────────────────────────────

func TestClassifier_GBDTPath(t *testing.T) {
	c := NewClassifier(nil, fixedClock(time.Unix(0, 0), time.Millisecond))
	c.Reload(testArtifact(t, testEnsembleBlob(t)))

	probs := c.Classify(domain.Features{TokenCount: 20, TopPDistances: []float64{0.1, 0.2, 0.3}})
	if math.Abs(probs.Sum()-1) > 1e-6 {
		t.Errorf("probabilities sum to %v", probs.Sum())
	}
	if probs.Cheap <= probs.Hard {
		t.Errorf("small prompt should lean cheap: %+v", probs)
	}

	st := c.Stats()
	if st.GBDTHits != 1 || st.HeuristicHits != 0 {
		t.Errorf("stats = %+v, want one gbdt hit", st)
	}
	if st.ModelVersion != "test-1" {
		t.Errorf("model version = %q", st.ModelVersion)
	}
}

func TestClassifier_NonFiniteFallsBackToHeuristic(t *testing.T) {
	c := NewClassifier(nil, fixedClock(time.Unix(0, 0), time.Millisecond))
	c.Reload(testArtifact(t, testEnsembleBlob(t)))

	probs := c.Classify(domain.Features{NgramEntropy: math.NaN()})
	if math.Abs(probs.Sum()-1) > 1e-6 {
		t.Errorf("heuristic probabilities sum to %v", probs.Sum())
	}
	if c.Stats().HeuristicHits != 1 {
		t.Errorf("expected heuristic hit, stats = %+v", c.Stats())
	}
}

func TestClassifier_BadBlobStaysHeuristic(t *testing.T) {
	c := NewClassifier(nil, fixedClock(time.Unix(0, 0), time.Millisecond))
	c.Reload(testArtifact(t, json.RawMessage(`{"num_class":5}`)))

	probs := c.Classify(domain.Features{TokenCount: 100})
	if math.Abs(probs.Sum()-1) > 1e-6 {
		t.Errorf("probabilities sum to %v", probs.Sum())
	}
	st := c.Stats()
	if st.Failures != 1 || st.HeuristicHits != 1 {
		t.Errorf("stats = %+v, want one load failure and one heuristic hit", st)
	}
}

func TestClassifier_ReloadOnlyOnVersionChange(t *testing.T) {
	c := NewClassifier(nil, fixedClock(time.Unix(0, 0), time.Millisecond))
	art := testArtifact(t, testEnsembleBlob(t))
	c.Reload(art)
	loadsAfterFirst := c.Stats().AvgLoadMS

	c.Reload(art) // same version → no-op
	if c.Stats().AvgLoadMS != loadsAfterFirst {
		t.Error("same-version reload should be a no-op")
	}
}

// ─── Heuristic ──────────────────────────────────────────────────────────────

func TestHeuristic_SumsToOne(t *testing.T) {
	cases := []domain.Features{
		{},
		{TokenCount: 300_000, ContextRatio: 1},
		{HasCode: true, HasMath: true, NgramEntropy: 12},
	}
	for _, f := range cases {
		p := Heuristic(f)
		if math.Abs(p.Sum()-1) > 1e-6 {
			t.Errorf("Heuristic(%+v).Sum() = %v", f, p.Sum())
		}
	}
}

func TestHeuristic_LongContextRaisesHard(t *testing.T) {
	short := Heuristic(domain.Features{TokenCount: 100})
	long := Heuristic(domain.Features{TokenCount: 100_000, ContextRatio: 0.6})
	if long.Hard <= short.Hard {
		t.Errorf("long context should raise hard: %v <= %v", long.Hard, short.Hard)
	}
}

func TestHeuristic_CodeRaisesMid(t *testing.T) {
	plain := Heuristic(domain.Features{})
	code := Heuristic(domain.Features{HasCode: true})
	if code.Mid <= plain.Mid {
		t.Errorf("code should raise mid: %v <= %v", code.Mid, plain.Mid)
	}
}
