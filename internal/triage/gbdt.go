package triage

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// ─── Tree Ensemble ──────────────────────────────────────────────────────────

// The artifact's "sbtree-json" blob is a gradient-boosted ensemble dumped as
// plain JSON: a flat node array per tree, each tree voting for one of the
// three classes in round-robin boosting order. Class scores are the summed
// leaf values; probabilities come from a softmax.
//
// The feature-name schema travels next to the blob and is the real contract:
// the evaluator consumes an ordered vector whose order matches it.

// node is one split or leaf in a tree. Leaves have Feature == -1.
type node struct {
	Feature   int     `json:"f"`          // feature index, -1 for leaf
	Threshold float64 `json:"t"`          // split threshold
	Left      int     `json:"l"`          // left child index (value < threshold)
	Right     int     `json:"r"`          // right child index
	Value     float64 `json:"v"`          // leaf value
	Missing   int     `json:"m,omitempty"` // child for missing values (default left)
}

// tree is a flat node array; node 0 is the root.
type tree struct {
	Nodes []node `json:"nodes"`
}

// predict walks the tree for one feature vector.
func (t tree) predict(features []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		v := features[n.Feature]
		if math.IsNaN(v) {
			if n.Missing > 0 {
				i = n.Missing
			} else {
				i = n.Left
			}
			continue
		}
		if v < n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Ensemble is a parsed multiclass boosted-tree model.
type Ensemble struct {
	NumClass int    `json:"num_class"`
	BaseScore float64 `json:"base_score"`
	Trees    []tree `json:"trees"`
	numFeatures int
}

// ParseEnsemble decodes and sanity-checks an sbtree-json blob against the
// feature schema length.
func ParseEnsemble(blob json.RawMessage, numFeatures int) (*Ensemble, error) {
	if len(blob) == 0 {
		return nil, errors.New("empty gbdt blob")
	}
	var e Ensemble
	if err := json.Unmarshal(blob, &e); err != nil {
		return nil, errors.Wrap(err, "parse gbdt blob")
	}
	if e.NumClass != 3 {
		return nil, errors.Errorf("gbdt has %d classes, want 3", e.NumClass)
	}
	if len(e.Trees) == 0 || len(e.Trees)%e.NumClass != 0 {
		return nil, errors.Errorf("gbdt tree count %d not a multiple of %d", len(e.Trees), e.NumClass)
	}
	for ti, t := range e.Trees {
		if len(t.Nodes) == 0 {
			return nil, errors.Errorf("tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			if n.Feature >= numFeatures {
				return nil, errors.Errorf("tree %d node %d references feature %d beyond schema (%d)", ti, ni, n.Feature, numFeatures)
			}
			if n.Feature >= 0 && (n.Left < 0 || n.Left >= len(t.Nodes) || n.Right < 0 || n.Right >= len(t.Nodes)) {
				return nil, errors.Errorf("tree %d node %d has out-of-range children", ti, ni)
			}
		}
	}
	e.numFeatures = numFeatures
	return &e, nil
}

// Predict returns softmax class probabilities [cheap, mid, hard] for an
// ordered feature vector.
func (e *Ensemble) Predict(features []float64) [3]float64 {
	var scores [3]float64
	for i := range scores {
		scores[i] = e.BaseScore
	}
	// Boosting rounds interleave classes: tree k votes for class k % 3.
	for k, t := range e.Trees {
		scores[k%e.NumClass] += t.predict(features)
	}
	return softmax(scores)
}

// softmax converts raw class scores to probabilities, numerically stabilized
// by max subtraction.
func softmax(scores [3]float64) [3]float64 {
	maxS := scores[0]
	for _, s := range scores[1:] {
		if s > maxS {
			maxS = s
		}
	}
	var sum float64
	var out [3]float64
	for i, s := range scores {
		out[i] = math.Exp(s - maxS)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
