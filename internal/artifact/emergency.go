package artifact

import (
	"crypto/sha256"
	"fmt"
)

// Emergency builds the embedded fallback artifact. It guarantees the router
// can serve without any network access: a degraded cluster count with
// deterministic centroids, reasonable α/threshold defaults, and no GBDT blob
// (triage runs its heuristic classifier).
//
// Centroids are derived by spreading hash bytes over [-1, 1], the same
// scheme the feature extractor uses for its deterministic embedding, so a
// fallback-embedded prompt still lands in a stable cluster.
func Emergency(dimension int) *Artifact {
	if dimension <= 0 {
		dimension = 384
	}
	const clusters = 4

	centroids := make([][]float32, clusters)
	for i := range centroids {
		centroids[i] = hashVector(fmt.Sprintf("emergency-centroid-%d", i), dimension)
	}

	uniform := func(q float64) []float64 {
		qs := make([]float64, clusters)
		for i := range qs {
			qs[i] = q
		}
		return qs
	}

	art := &Artifact{
		Version:   "emergency-0",
		Centroids: centroids,
		Alpha:     0.6,
		Thresholds: Thresholds{Cheap: 0.62, Hard: 0.58},
		Penalties:  Penalties{LatencySD: 0.05, CtxOver80: 0.1},
		Qhat: map[string][]float64{
			"deepseek/deepseek-r1":              uniform(0.55),
			"meta-llama/llama-3.3-70b-instruct": uniform(0.50),
			"gpt-4o-mini":                       uniform(0.52),
			"gpt-4o":                            uniform(0.68),
			"gemini-2.5-flash":                  uniform(0.62),
			"gemini-2.5-pro":                    uniform(0.78),
			"claude-sonnet-4-20250514":          uniform(0.82),
			"o3":                                uniform(0.80),
		},
		Chat: map[string]float64{
			"deepseek/deepseek-r1":              0.05,
			"meta-llama/llama-3.3-70b-instruct": 0.04,
			"gpt-4o-mini":                       0.06,
			"gpt-4o":                            0.35,
			"gemini-2.5-flash":                  0.10,
			"gemini-2.5-pro":                    0.45,
			"claude-sonnet-4-20250514":          0.55,
			"o3":                                0.70,
		},
		GBDT: GBDT{
			Framework: "heuristic",
			FeatureSchema: []string{
				"token_count", "context_ratio", "has_code", "has_math",
				"ngram_entropy", "top_p_distance_0", "top_p_distance_1",
				"top_p_distance_2", "user_success_rate", "avg_latency",
			},
		},
	}
	art.Fingerprint = "emergency-" + fmt.Sprint(dimension)
	return art
}

// hashVector spreads sha256 bytes of seed over [-1, 1], repeating the hash
// with a counter suffix until dim values are produced.
func hashVector(seed string, dim int) []float32 {
	vec := make([]float32, 0, dim)
	for block := 0; len(vec) < dim; block++ {
		h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", seed, block)))
		for _, b := range h {
			if len(vec) == dim {
				break
			}
			vec = append(vec, float32(b)/127.5-1.0)
		}
	}
	return vec
}
