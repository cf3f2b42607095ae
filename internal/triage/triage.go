// Package triage assigns each request to a cost/quality bucket.
//
// The classifier consumes an ordered feature vector whose order matches the
// artifact's feature-name schema and returns {cheap, mid, hard} probabilities
// summing to 1. When the serialized model fails to load or predict — or the
// vector contains non-finite values — a heuristic additive classifier takes
// over, so triage always answers.
package triage

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/artifact"
	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Feature Vector Assembly ────────────────────────────────────────────────

// Imputation defaults for features absent from a request. The schema names
// these explicitly so tuner and router stay in agreement.
const (
	imputeUserSuccessRate = 0.5
	imputeAvgLatencyMS    = 1000
	imputeDistance        = 1.0
)

// Vectorize builds the ordered feature vector for the given schema.
// Unknown schema names impute to zero.
func Vectorize(schema []string, f domain.Features) []float64 {
	vec := make([]float64, len(schema))
	for i, name := range schema {
		switch {
		case name == "token_count":
			vec[i] = float64(f.TokenCount)
		case name == "context_ratio":
			vec[i] = f.ContextRatio
		case name == "has_code":
			vec[i] = boolToFloat(f.HasCode)
		case name == "has_math":
			vec[i] = boolToFloat(f.HasMath)
		case name == "ngram_entropy":
			vec[i] = f.NgramEntropy
		case name == "user_success_rate":
			vec[i] = imputeUserSuccessRate
		case name == "avg_latency":
			vec[i] = imputeAvgLatencyMS
		case strings.HasPrefix(name, "top_p_distance_"):
			idx := int(name[len(name)-1] - '0')
			if idx >= 0 && idx < len(f.TopPDistances) {
				vec[i] = f.TopPDistances[idx]
			} else {
				vec[i] = imputeDistance
			}
		default:
			vec[i] = 0
		}
	}
	return vec
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// finite reports whether every vector entry is a finite number.
func finite(vec []float64) bool {
	for _, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ─── Classifier ─────────────────────────────────────────────────────────────

// Stats tracks classifier health for the status endpoint.
type Stats struct {
	Total         int64   `json:"total"`
	GBDTHits      int64   `json:"gbdt_hits"`
	HeuristicHits int64   `json:"heuristic_hits"`
	Failures      int64   `json:"failures"`
	AvgLatencyUS  float64 `json:"avg_latency_us"`
	AvgLoadMS     float64 `json:"avg_load_ms"`
	ModelVersion  string  `json:"model_version"`
}

// Classifier turns Features into BucketProbs. It reloads its model when the
// artifact version changes.
type Classifier struct {
	log *logrus.Entry
	now func() time.Time

	mu       sync.RWMutex
	version  string
	schema   []string
	ensemble *Ensemble // nil → heuristic only

	total, gbdtHits, heurHits, failures int64
	latencySumUS                        float64
	loadSumMS                           float64
	loads                               int64
}

// NewClassifier creates a classifier; Reload must be called (directly or via
// the artifact store's swap hook) before GBDT prediction is available.
func NewClassifier(log *logrus.Entry, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{log: log, now: now}
}

// Reload parses the artifact's model blob. A parse failure leaves the
// classifier in heuristic mode rather than failing the caller.
func (c *Classifier) Reload(art *artifact.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if art.Version == c.version {
		return
	}
	start := c.now()
	c.version = art.Version
	c.schema = art.GBDT.FeatureSchema
	c.ensemble = nil

	if len(art.GBDT.Blob) > 0 && art.GBDT.Framework != "heuristic" {
		ens, err := ParseEnsemble(art.GBDT.Blob, len(art.GBDT.FeatureSchema))
		if err != nil {
			c.failures++
			if c.log != nil {
				c.log.WithError(err).Warn("gbdt load failed; using heuristic triage")
			}
		} else {
			c.ensemble = ens
		}
	}
	c.loadSumMS += float64(c.now().Sub(start).Microseconds()) / 1000.0
	c.loads++
}

// Classify returns bucket probabilities for the features.
func (c *Classifier) Classify(f domain.Features) domain.BucketProbs {
	start := c.now()

	c.mu.RLock()
	schema := c.schema
	ens := c.ensemble
	c.mu.RUnlock()

	var probs domain.BucketProbs
	usedGBDT := false
	if ens != nil {
		vec := Vectorize(schema, f)
		if finite(vec) {
			p := ens.Predict(vec)
			probs = domain.BucketProbs{Cheap: p[0], Mid: p[1], Hard: p[2]}
			usedGBDT = true
		}
	}
	if !usedGBDT {
		probs = Heuristic(f)
	}
	probs = probs.Normalize()

	elapsed := float64(c.now().Sub(start).Microseconds())
	c.mu.Lock()
	c.total++
	if usedGBDT {
		c.gbdtHits++
	} else {
		c.heurHits++
	}
	c.latencySumUS += elapsed
	c.mu.Unlock()

	return probs
}

// Stats returns a snapshot of classifier statistics.
func (c *Classifier) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{
		Total:         c.total,
		GBDTHits:      c.gbdtHits,
		HeuristicHits: c.heurHits,
		Failures:      c.failures,
		ModelVersion:  c.version,
	}
	if c.total > 0 {
		st.AvgLatencyUS = c.latencySumUS / float64(c.total)
	}
	if c.loads > 0 {
		st.AvgLoadMS = c.loadSumMS / float64(c.loads)
	}
	return st
}

// ─── Heuristic Fallback ─────────────────────────────────────────────────────

// Heuristic is the additive fallback classifier. Long context raises hard,
// code/math raise mid and hard, high trigram entropy raises mid, and a large
// context ratio raises hard. Scores normalize to probabilities.
func Heuristic(f domain.Features) domain.BucketProbs {
	cheap, mid, hard := 1.0, 0.6, 0.3

	if f.TokenCount > 32_000 {
		hard += 1.2
	} else if f.TokenCount > 8_000 {
		mid += 0.5
		hard += 0.3
	}
	if f.HasCode {
		mid += 0.5
		hard += 0.3
	}
	if f.HasMath {
		mid += 0.3
		hard += 0.5
	}
	if f.NgramEntropy > 9 {
		mid += 0.4
	}
	if f.ContextRatio > 0.5 {
		hard += 0.8
	}

	return domain.BucketProbs{Cheap: cheap, Mid: mid, Hard: hard}.Normalize()
}
