package features

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the extractor.
type Config struct {
	// Budget is the total extraction deadline (default 25ms). On timeout the
	// extractor returns degraded features; it never fails the request.
	Budget time.Duration

	// Dimension is the embedding vector length (384 or 768).
	Dimension int

	// TopK is how many centroid distances to report (default 3).
	TopK int

	// MaxPromptBytes caps the text considered for hashing and lexical
	// analysis (default 256 KiB).
	MaxPromptBytes int

	// FamilyMaxContext is the context window used for the context_ratio
	// denominator (default 200k).
	FamilyMaxContext int

	// CacheSize and CacheTTL size the embedding cache.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Budget:           25 * time.Millisecond,
		Dimension:        384,
		TopK:             3,
		MaxPromptBytes:   256 << 10,
		FamilyMaxContext: 200_000,
		CacheSize:        12_000,
		CacheTTL:         24 * time.Hour,
	}
}

// ─── Extractor ──────────────────────────────────────────────────────────────

// Extractor reduces a request to a Features value within the budget.
type Extractor struct {
	cfg       Config
	primary   Embedder
	secondary Embedder
	cache     *Cache
	index     *Index
	tokens    *TokenCounter
	log       *logrus.Entry
}

// NewExtractor creates an extractor. primary/secondary may be nil; the
// deterministic fallback guarantees an embedding regardless.
func NewExtractor(cfg Config, primary, secondary Embedder, index *Index, log *logrus.Entry) *Extractor {
	if cfg.Budget <= 0 {
		cfg.Budget = 25 * time.Millisecond
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = 384
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.MaxPromptBytes <= 0 {
		cfg.MaxPromptBytes = 256 << 10
	}
	if cfg.FamilyMaxContext <= 0 {
		cfg.FamilyMaxContext = 200_000
	}
	return &Extractor{
		cfg:       cfg,
		primary:   primary,
		secondary: secondary,
		cache:     NewCache(cfg.CacheSize, cfg.CacheTTL),
		index:     index,
		tokens:    NewTokenCounter(),
		log:       log,
	}
}

// Index returns the extractor's nearest-centroid index, so the artifact
// reloader can swap centroids on publication.
func (e *Extractor) Index() *Index { return e.index }

// CacheLen returns the embedding cache occupancy.
func (e *Extractor) CacheLen() int { return e.cache.Len() }

// Extract produces Features for a request. It runs the embedding+cluster
// path and the lexical path concurrently; the embedding+cluster path is
// bounded by the remaining budget, while the lexical and token paths work on
// a bounded prefix and are always joined. An embedding timeout substitutes a
// default and marks the features degraded.
func (e *Extractor) Extract(ctx context.Context, req domain.ChatRequest) domain.Features {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Budget)
	defer cancel()

	text := req.PromptText(e.cfg.MaxPromptBytes)

	// Total (uncapped) prompt size drives the token estimate so the
	// long-context guardrail sees the real pressure even when the analyzed
	// text is truncated.
	var totalBytes int
	for _, m := range req.Messages {
		totalBytes += len(m.Content) + 1
	}

	// Lexical analysis runs over a bounded prefix; regex and trigram work on
	// megabyte prompts would eat the whole budget for signals that saturate
	// within the first few kilobytes.
	lex := text
	if len(lex) > 64<<10 {
		lex = lex[:64<<10]
	}

	// The embedding+cluster path is the only one that can suspend; it runs
	// in its own goroutine and reports over a channel so a budget overrun
	// never races the degraded path below.
	type embedResult struct {
		vec      []float32
		fallback bool
		cluster  int
		topDist  []float64
	}
	embedCh := make(chan embedResult, 1)
	go func() {
		var res embedResult
		if cached, ok := e.cache.Get(text); ok {
			res.vec = cached
		} else {
			res.vec, res.fallback = EmbedChain(ctx, e.primary, e.secondary, text, e.cfg.Dimension)
			e.cache.Set(text, res.vec)
		}
		res.cluster, res.topDist = e.index.Query(res.vec, e.cfg.TopK)
		embedCh <- res
	}()

	// Lexical + token paths are CPU-bound and fast; run them concurrently
	// with the embedding call and join unconditionally.
	var (
		hasCode, hasMath bool
		entropy          float64
		tokenCount       int
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		hasCode = HasCode(lex)
		hasMath = HasMath(lex)
		entropy = TrigramEntropy(lex)
		return nil
	})
	g.Go(func() error {
		if totalBytes > len(text) {
			// Truncated: estimate from the full size.
			tokenCount = totalBytes / 4
		} else {
			tokenCount = e.tokens.Count(text)
		}
		return nil
	})
	_ = g.Wait()

	var (
		vec      []float32
		usedFall bool
		cluster  int
		topDist  []float64
		degraded bool
	)
	select {
	case res := <-embedCh:
		vec, usedFall, cluster, topDist = res.vec, res.fallback, res.cluster, res.topDist
	case <-ctx.Done():
		// Budget exhausted: substitute the deterministic embedding and
		// continue. The in-flight backend call is cancelled via ctx.
		degraded = true
		vec = FallbackEmbed(text, e.cfg.Dimension)
		usedFall = true
		cluster, topDist = e.index.Query(vec, e.cfg.TopK)
	}

	if tokenCount == 0 {
		tokenCount = domain.EstimateTokens(text)
	}

	ratio := float64(tokenCount) / float64(e.cfg.FamilyMaxContext)
	if ratio > 1 {
		ratio = 1
	}

	feats := domain.Features{
		Embedding:         vec,
		ClusterID:         cluster,
		TopPDistances:     topDist,
		TokenCount:        tokenCount,
		ContextRatio:      ratio,
		HasCode:           hasCode,
		HasMath:           hasMath,
		NgramEntropy:      entropy,
		EmbeddingFallback: usedFall,
		Degraded:          degraded,
	}

	if usedFall && e.log != nil {
		// Soft warning per contract: all backends failed but the
		// deterministic fallback kept the request alive.
		e.log.WithField("cluster", cluster).Debug("embedding fallback used")
	}
	return feats
}
