// Package policy picks the bucket and candidate shortlist for a request.
//
// Rules apply in order, first match wins: the long-context guardrail forces
// hard and prefers very-large-context families; then the cheap threshold;
// then the hard threshold; otherwise mid.
package policy

import (
	"context"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the bucket policy.
type Config struct {
	// LongContextTrigger is the token count at or above which hard is forced
	// (default 200k).
	LongContextTrigger int

	// LongContextMinCtx is the input-context floor preferred once the
	// guardrail fires (default 1M).
	LongContextMinCtx int

	// CheapCandidates, MidCandidates, HardCandidates are the configured
	// shortlists, in preference order.
	CheapCandidates []string
	MidCandidates   []string
	HardCandidates  []string
}

// DefaultConfig returns production defaults with empty shortlists.
func DefaultConfig() Config {
	return Config{
		LongContextTrigger: 200_000,
		LongContextMinCtx:  1_000_000,
	}
}

// ─── Policy ─────────────────────────────────────────────────────────────────

// Outcome is the policy verdict for one request.
type Outcome struct {
	Bucket domain.Bucket
	// Shortlist is the candidate list for the bucket, filtered to models
	// present in the catalog with enough input context.
	Shortlist []domain.ModelCard
	// LongContext is true when the guardrail fired.
	LongContext bool
}

// Policy applies thresholds and guardrails.
type Policy struct {
	cfg     Config
	catalog *catalog.Client
}

// New creates a bucket policy backed by the catalog.
func New(cfg Config, cat *catalog.Client) *Policy {
	if cfg.LongContextTrigger <= 0 {
		cfg.LongContextTrigger = 200_000
	}
	if cfg.LongContextMinCtx <= 0 {
		cfg.LongContextMinCtx = 1_000_000
	}
	return &Policy{cfg: cfg, catalog: cat}
}

// Decide picks the bucket and shortlist. thresholds come from the artifact
// so the tuner's fitted cut-offs apply without a config deploy.
func (p *Policy) Decide(ctx context.Context, probs domain.BucketProbs, feats domain.Features, cheapThreshold, hardThreshold float64) Outcome {
	// Rule 1: context guardrail.
	if feats.TokenCount >= p.cfg.LongContextTrigger {
		return Outcome{
			Bucket:      domain.BucketHard,
			Shortlist:   p.shortlist(ctx, p.cfg.HardCandidates, feats.TokenCount, true),
			LongContext: true,
		}
	}

	// Rules 2–4: thresholds, then default mid.
	var bucket domain.Bucket
	var names []string
	switch {
	case probs.Cheap >= cheapThreshold:
		bucket, names = domain.BucketCheap, p.cfg.CheapCandidates
	case probs.Hard >= hardThreshold:
		bucket, names = domain.BucketHard, p.cfg.HardCandidates
	default:
		bucket, names = domain.BucketMid, p.cfg.MidCandidates
	}
	return Outcome{
		Bucket:    bucket,
		Shortlist: p.shortlist(ctx, names, feats.TokenCount, false),
	}
}

// shortlist resolves configured slugs against the catalog, dropping models
// that are absent or whose input context cannot hold the prompt. When the
// long-context guardrail fired, models meeting the large-context floor sort
// ahead of the rest (configured order preserved within each group).
func (p *Policy) shortlist(ctx context.Context, names []string, tokenCount int, longContext bool) []domain.ModelCard {
	var preferred, rest []domain.ModelCard
	for _, slug := range names {
		card, err := p.catalog.Lookup(ctx, slug)
		if err != nil {
			continue
		}
		if card.CtxInMax > 0 && card.CtxInMax < tokenCount {
			continue
		}
		if longContext && card.CtxInMax >= p.cfg.LongContextMinCtx {
			preferred = append(preferred, card)
		} else {
			rest = append(rest, card)
		}
	}
	if longContext {
		return append(preferred, rest...)
	}
	return rest
}
