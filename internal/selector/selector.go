// Package selector ranks a bucket's shortlist by the α-weighted
// quality-minus-cost score.
//
// For candidate m in cluster c:
//
//	score_m = α·qhat[m][c] − (1−α)·chat[m] − penalties
//
// where penalties charge for latency variance and for prompts already above
// 80% of the model's context window. Ties break by ascending cost, then by
// the configured preference order, so re-scoring a fixed input is
// deterministic down to byte-identical ordering.
package selector

import (
	"sort"

	"github.com/switchboard-ai/switchboard/internal/artifact"
	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Filters ────────────────────────────────────────────────────────────────

// Filter removes candidates before scoring. Filters compose; each is
// independently enforceable (cool-down exclusion and the aggregator's
// exclude-authors list are separate filters even though they often overlap).
type Filter func(domain.ModelCard) bool

// ExcludeProviderKinds drops candidates whose provider kind is listed.
func ExcludeProviderKinds(kinds ...domain.ProviderKind) Filter {
	set := make(map[domain.ProviderKind]struct{}, len(kinds))
	for _, k := range kinds {
		set[k] = struct{}{}
	}
	return func(card domain.ModelCard) bool {
		_, drop := set[card.Provider]
		return !drop
	}
}

// ExcludeAuthors drops candidates whose author is listed. Applies to
// aggregator-kind candidate construction per the meta-provider contract.
func ExcludeAuthors(authors []string) Filter {
	set := make(map[string]struct{}, len(authors))
	for _, a := range authors {
		set[a] = struct{}{}
	}
	return func(card domain.ModelCard) bool {
		if card.Provider != domain.ProviderAggregator {
			return true
		}
		_, drop := set[card.Author]
		return !drop
	}
}

// ─── Selector ───────────────────────────────────────────────────────────────

// Ranked is one scored candidate with its resolved card.
type Ranked struct {
	Card  domain.ModelCard
	Score float64
}

// Weight scales a candidate's quality term by provider health; nil means
// every provider weighs 1.
type Weight func(domain.ProviderKind) float64

// Rank scores the shortlist against the artifact and returns a total order,
// best first. feats supplies the cluster id and context ratio; shortlist
// order is the configured preference order used for final tie-breaking.
// Candidates rejected by any filter are dropped before scoring.
func Rank(art *artifact.Artifact, shortlist []domain.ModelCard, feats domain.Features, weight Weight, filters ...Filter) []Ranked {
	alpha := art.Alpha

	ranked := make([]Ranked, 0, len(shortlist))
	prefOrder := make(map[string]int, len(shortlist))
next:
	for i, card := range shortlist {
		for _, f := range filters {
			if !f(card) {
				continue next
			}
		}
		prefOrder[card.Slug] = i

		q := art.Quality(card.Slug, feats.ClusterID)
		if weight != nil {
			q *= weight(card.Provider)
		}
		c := art.Cost(card.Slug)
		pen := art.Penalties.LatencySD * card.LatencySD
		if feats.ContextRatio > 0.8 {
			pen += art.Penalties.CtxOver80
		}
		ranked = append(ranked, Ranked{
			Card:  card,
			Score: alpha*q - (1-alpha)*c - pen,
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		ci, cj := art.Cost(ranked[i].Card.Slug), art.Cost(ranked[j].Card.Slug)
		if ci != cj {
			return ci < cj
		}
		return prefOrder[ranked[i].Card.Slug] < prefOrder[ranked[j].Card.Slug]
	})
	return ranked
}

// Split returns the primary and the ordered fallback list of at most
// maxFallbacks alternates. Returns ok=false when the ranked list is empty.
func Split(ranked []Ranked, maxFallbacks int) (primary Ranked, fallbacks []domain.Candidate, ok bool) {
	if len(ranked) == 0 {
		return Ranked{}, nil, false
	}
	primary = ranked[0]
	for _, r := range ranked[1:] {
		if len(fallbacks) == maxFallbacks {
			break
		}
		fallbacks = append(fallbacks, domain.Candidate{Slug: r.Card.Slug, Score: r.Score})
	}
	return primary, fallbacks, true
}
