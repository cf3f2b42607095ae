// Package router is the facade that owns the routing pipeline.
//
// A Router value holds the artifact pointer, cool-down map, caches, and
// health counters — there is no process-wide mutable state. The hot path is
// auth detection → feature extraction → triage → bucket policy → α-score
// selection → execution → record, with data flowing forward only.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/artifact"
	"github.com/switchboard-ai/switchboard/internal/auth"
	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/domain"
	"github.com/switchboard-ai/switchboard/internal/engine"
	"github.com/switchboard-ai/switchboard/internal/features"
	"github.com/switchboard-ai/switchboard/internal/observability"
	"github.com/switchboard-ai/switchboard/internal/policy"
	"github.com/switchboard-ai/switchboard/internal/providers"
	"github.com/switchboard-ai/switchboard/internal/selector"
	"github.com/switchboard-ai/switchboard/internal/triage"
)

// ─── Router ─────────────────────────────────────────────────────────────────

// Router owns the full decision and execution pipeline.
type Router struct {
	cfg        config.Config
	artifacts  *artifact.Store
	extractor  *features.Extractor
	classifier *triage.Classifier
	policy     *policy.Policy
	catalog    *catalog.Client
	auth       *auth.Registry
	engine     *engine.Engine
	recorder   *observability.Recorder
	log        *logrus.Entry
	now        func() time.Time
}

// Deps bundles the collaborators the host constructs.
type Deps struct {
	Artifacts *artifact.Store
	Catalog   *catalog.Client
	Auth      *auth.Registry
	Callers   map[domain.ProviderKind]providers.Caller
	Recorder  *observability.Recorder
	Extractor *features.Extractor
	Log       *logrus.Entry
	Now       func() time.Time
}

// New wires the pipeline. The artifact store's swap hook keeps the triage
// model and the centroid index in lockstep with artifact publication.
func New(cfg config.Config, deps Deps) *Router {
	if deps.Now == nil {
		deps.Now = time.Now
	}

	classifier := triage.NewClassifier(deps.Log, deps.Now)

	pol := policy.New(policy.Config{
		LongContextTrigger: cfg.Router.LongContextTrigger,
		CheapCandidates:    cfg.Router.CheapCandidates,
		MidCandidates:      cfg.Router.MidCandidates,
		HardCandidates:     cfg.Router.HardCandidates,
	}, deps.Catalog)

	r := &Router{
		cfg:        cfg,
		artifacts:  deps.Artifacts,
		extractor:  deps.Extractor,
		classifier: classifier,
		policy:     pol,
		catalog:    deps.Catalog,
		auth:       deps.Auth,
		recorder:   deps.Recorder,
		log:        deps.Log,
		now:        deps.Now,
	}

	cooldowns := engine.NewCooldowns(deps.Now)
	health := engine.NewHealth(0, deps.Now)
	engCfg := engine.DefaultConfig()
	engCfg.CooldownTTL = cfg.CooldownTTL()
	engCfg.Now = deps.Now
	r.engine = engine.New(engCfg, deps.Callers, deps.Catalog, cooldowns, health,
		r.reselect, r.thinkingFor, deps.Log)

	sync := func(art *artifact.Artifact) {
		classifier.Reload(art)
		deps.Extractor.Index().Replace(art.Centroids)
	}
	sync(deps.Artifacts.Current())
	deps.Artifacts.OnSwap(sync)

	return r
}

// Engine exposes the execution engine (for the API layer's health view).
func (r *Router) Engine() *engine.Engine { return r.engine }

// Classifier exposes triage statistics for the status endpoint.
func (r *Router) Classifier() *triage.Classifier { return r.classifier }

// Recorder exposes the observability recorder.
func (r *Router) Recorder() *observability.Recorder { return r.recorder }

// ─── Decide ─────────────────────────────────────────────────────────────────

// Decide runs the decision pipeline without executing the provider call.
// The returned features are needed again for reroute re-selection.
func (r *Router) Decide(ctx context.Context, req domain.ChatRequest, headers http.Header) (domain.Decision, domain.Features, error) {
	authDir, err := r.auth.Resolve(headers)
	var envOnly []domain.ProviderKind
	if err != nil {
		// AuthMissing is non-retryable, but routing may proceed restricted
		// to providers that can authenticate from the environment.
		envKinds := r.auth.EnvFallbackKinds()
		if len(envKinds) == 0 {
			return domain.Decision{}, domain.Features{}, err
		}
		envOnly = envKinds
	}

	art := r.artifacts.Current()

	extractStart := r.now()
	feats := r.extractor.Extract(ctx, req)
	observability.ExtractionLatency.Observe(float64(r.now().Sub(extractStart).Microseconds()) / 1000.0)

	// A pinned model must resolve in a candidate list; otherwise rewrite to
	// auto or deny, per config.
	forced, denyErr := r.resolveModelOverride(ctx, req.Model)
	if denyErr != nil {
		return domain.Decision{}, feats, denyErr
	}

	probs := r.classifier.Classify(feats)
	outcome := r.policy.Decide(ctx, probs, feats, art.Thresholds.Cheap, art.Thresholds.Hard)

	shortlist := outcome.Shortlist
	if forced != nil {
		shortlist = []domain.ModelCard{*forced}
	}

	var exclude []domain.ProviderKind
	if envOnly != nil {
		exclude = kindsExcept(envOnly)
	}
	dec, ok := r.selectDecision(art, outcome.Bucket, shortlist, feats, authDir, exclude)
	if !ok {
		return domain.Decision{}, feats, domain.ErrNoCandidates
	}
	if envOnly != nil {
		envAuth, ok := engine.EnvAuth(dec.Provider)
		if !ok {
			return domain.Decision{}, feats, domain.ErrAuthMissing
		}
		dec.Auth = envAuth
	}
	return dec, feats, nil
}

// kindsExcept returns every provider kind not in the allow set.
func kindsExcept(allow []domain.ProviderKind) []domain.ProviderKind {
	all := []domain.ProviderKind{
		domain.ProviderAnthropic, domain.ProviderOpenAI,
		domain.ProviderGemini, domain.ProviderAggregator,
	}
	allowed := make(map[domain.ProviderKind]struct{}, len(allow))
	for _, k := range allow {
		allowed[k] = struct{}{}
	}
	var out []domain.ProviderKind
	for _, k := range all {
		if _, ok := allowed[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// resolveModelOverride handles a non-"auto" requested model. Returns the
// forced card when the model is allowed, an error when denied, or nil/nil
// for delegated choice (including rewrite-to-auto).
func (r *Router) resolveModelOverride(ctx context.Context, model string) (*domain.ModelCard, error) {
	if model == "" || model == "auto" {
		return nil, nil
	}
	allowed := false
	for _, bucket := range []string{"cheap", "mid", "hard"} {
		for _, slug := range r.cfg.Router.Candidates(bucket) {
			if slug == model {
				allowed = true
			}
		}
	}
	if !allowed {
		if r.cfg.Router.RewriteUnknownModel {
			return nil, nil
		}
		return nil, domain.ErrModelNotAllowed
	}
	card, err := r.catalog.Lookup(ctx, model)
	if err != nil {
		return nil, err
	}
	return &card, nil
}

// selectDecision runs C4 over a shortlist and assembles the decision value.
func (r *Router) selectDecision(art *artifact.Artifact, bucket domain.Bucket, shortlist []domain.ModelCard,
	feats domain.Features, authDir domain.AuthDirective, extraExclude []domain.ProviderKind) (domain.Decision, bool) {

	filters := []selector.Filter{
		selector.ExcludeAuthors(r.cfg.Router.Aggregator.ExcludeAuthors),
	}
	// Preemptive cool-down exclusion: while the user's entry is live, the
	// selector never sees anthropic-kind candidates.
	if authDir.Token != "" && r.engine.Cooldowns().Active(domain.CooldownKey(authDir.Token)) {
		filters = append(filters, selector.ExcludeProviderKinds(domain.ProviderAnthropic))
	}
	if len(extraExclude) > 0 {
		filters = append(filters, selector.ExcludeProviderKinds(extraExclude...))
	}

	ranked := selector.Rank(art, shortlist, feats, r.engine.Health().Weight, filters...)
	primary, fallbacks, ok := selector.Split(ranked, r.cfg.Router.TopP)
	if !ok {
		return domain.Decision{}, false
	}

	dec := domain.Decision{
		ID:       uuid.NewString(),
		Bucket:   bucket,
		Provider: primary.Card.Provider,
		Model:    primary.Card.Slug,
		Thinking: r.thinkingFor(primary.Card, bucket),
		Prefs: domain.ProviderPrefs{
			Sort:           r.cfg.Router.Aggregator.Provider.Sort,
			MaxPrice:       r.cfg.Router.Aggregator.Provider.MaxPrice,
			AllowFallbacks: r.cfg.Router.Aggregator.Provider.AllowFallbacks,
			ExcludeAuthors: r.cfg.Router.Aggregator.ExcludeAuthors,
		},
		Auth:            authDir,
		Fallbacks:       fallbacks,
		ArtifactVersion: art.Version,
	}
	return dec, true
}

// thinkingFor maps the bucket's configured thinking default onto a model's
// declared parameter style, clamping budgets to the model's ranges.
func (r *Router) thinkingFor(card domain.ModelCard, bucket domain.Bucket) domain.ThinkingParams {
	if bucket == domain.BucketCheap {
		return domain.ThinkingParams{}
	}
	def := r.cfg.Router.BucketDefaults.Mid
	if bucket == domain.BucketHard {
		def = r.cfg.Router.BucketDefaults.Hard
	}
	switch card.ThinkingType {
	case domain.ThinkingEffort:
		if def.Effort == "" {
			return domain.ThinkingParams{}
		}
		return domain.ThinkingParams{Type: domain.ThinkingEffort, Effort: def.Effort}
	case domain.ThinkingBudget:
		if def.Budget <= 0 {
			return domain.ThinkingParams{}
		}
		return domain.ThinkingParams{Type: domain.ThinkingBudget, Budget: card.Ranges.Clamp(def.Budget)}
	default:
		return domain.ThinkingParams{}
	}
}

// reselect re-runs policy+selection with provider kinds excluded. The engine
// calls it for the Anthropic-429 immediate reroute; auth is resolved by the
// engine afterwards, so the directive here stays empty.
func (r *Router) reselect(ctx context.Context, feats domain.Features, exclude []domain.ProviderKind) (domain.Decision, bool) {
	art := r.artifacts.Current()
	probs := r.classifier.Classify(feats)
	outcome := r.policy.Decide(ctx, probs, feats, art.Thresholds.Cheap, art.Thresholds.Hard)
	return r.selectDecision(art, outcome.Bucket, outcome.Shortlist, feats, domain.AuthDirective{}, exclude)
}

// ─── Route ──────────────────────────────────────────────────────────────────

// Route decides and executes one request, emitting the observability record
// in completion order.
func (r *Router) Route(ctx context.Context, req domain.ChatRequest, headers http.Header) (providers.Response, domain.Decision, error) {
	start := r.now()

	dec, feats, err := r.Decide(ctx, req, headers)
	if err != nil {
		r.recorder.Observe(observability.Record{
			RequestID:  uuid.NewString(),
			Denied:     true,
			DenyReason: err.Error(),
			Success:    false,
			ExecutionMS: float64(r.now().Sub(start).Microseconds()) / 1000.0,
			At:         r.now(),
		})
		return providers.Response{}, domain.Decision{}, err
	}

	result, execErr := r.engine.Execute(ctx, dec, req, feats)

	rec := observability.Record{
		RequestID:         dec.ID,
		Bucket:            dec.Bucket,
		Provider:          result.Provider,
		Model:             result.Model,
		Success:           execErr == nil,
		ExecutionMS:       float64(r.now().Sub(start).Microseconds()) / 1000.0,
		PromptTokens:      result.Response.Usage.PromptTokens,
		CompletionTokens:  result.Response.Usage.CompletionTokens,
		FallbackUsed:      result.FallbackUsed,
		FallbackReason:    result.FallbackReason,
		Anthropic429:      result.Anthropic429,
		EmbeddingFallback: feats.EmbeddingFallback,
		ArtifactVersion:   dec.ArtifactVersion,
		At:                r.now(),
	}
	if execErr == nil {
		if pricing, perr := r.catalog.Pricing(ctx, result.Model); perr == nil {
			rec.CostUSD = pricing.Cost(rec.PromptTokens, rec.CompletionTokens)
		}
	}
	r.recorder.Observe(rec)
	observability.LiveCooldowns.Set(float64(r.engine.Cooldowns().LiveCount()))
	for kind, state := range r.engine.Health().States() {
		v := 1.0
		switch state {
		case engine.Degraded:
			v = 0.5
		case engine.Unhealthy:
			v = 0
		}
		observability.ProviderHealth.WithLabelValues(string(kind)).Set(v)
	}

	return result.Response, dec, execErr
}
