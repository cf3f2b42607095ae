package engine

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/domain"
	"github.com/switchboard-ai/switchboard/internal/providers"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config configures the execution engine.
type Config struct {
	// MaxAttempts bounds total provider calls per request (default 2:
	// primary plus one fallback).
	MaxAttempts int

	// RerouteBudget bounds the Anthropic-429 immediate reroute (default
	// 300ms).
	RerouteBudget time.Duration

	// CooldownTTL is the per-user exclusion window after an Anthropic 429
	// (default 4 min).
	CooldownTTL time.Duration

	// RateLimitWindow marks a non-Anthropic provider rate-limited for this
	// long after a 429 (default 30s).
	RateLimitWindow time.Duration

	// BackoffBase seeds the exponential backoff between transient retries
	// (default 50ms, capped at 1s).
	BackoffBase time.Duration

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     2,
		RerouteBudget:   300 * time.Millisecond,
		CooldownTTL:     4 * time.Minute,
		RateLimitWindow: 30 * time.Second,
		BackoffBase:     50 * time.Millisecond,
		Now:             time.Now,
	}
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// ReselectFunc re-runs the selector with provider kinds excluded. Used for
// the Anthropic-429 immediate reroute.
type ReselectFunc func(ctx context.Context, feats domain.Features, exclude []domain.ProviderKind) (domain.Decision, bool)

// ThinkingFunc resolves the thinking directive for a model within a bucket.
// The engine calls it when a fallback model differs from the primary.
type ThinkingFunc func(card domain.ModelCard, bucket domain.Bucket) domain.ThinkingParams

// Result is the execution outcome fed to observability.
type Result struct {
	Response       providers.Response
	Provider       domain.ProviderKind
	Model          string
	Attempts       int
	FallbackUsed   bool
	FallbackReason string
	Anthropic429   bool
	Err            error
}

// Engine executes decisions with typed fallback.
type Engine struct {
	cfg       Config
	callers   map[domain.ProviderKind]providers.Caller
	catalog   *catalog.Client
	cooldowns *Cooldowns
	health    *Health
	reselect  ReselectFunc
	thinking  ThinkingFunc
	log       *logrus.Entry
}

// New creates an engine. reselect and thinking are supplied by the router.
func New(cfg Config, callers map[domain.ProviderKind]providers.Caller, cat *catalog.Client,
	cooldowns *Cooldowns, health *Health, reselect ReselectFunc, thinking ThinkingFunc, log *logrus.Entry) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if cfg.RerouteBudget <= 0 {
		cfg.RerouteBudget = 300 * time.Millisecond
	}
	if cfg.CooldownTTL <= 0 {
		cfg.CooldownTTL = 4 * time.Minute
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 50 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:       cfg,
		callers:   callers,
		catalog:   cat,
		cooldowns: cooldowns,
		health:    health,
		reselect:  reselect,
		thinking:  thinking,
		log:       log,
	}
}

// Cooldowns exposes the cool-down map for the selector's preemptive filter.
func (e *Engine) Cooldowns() *Cooldowns { return e.cooldowns }

// Health exposes the provider health tracker.
func (e *Engine) Health() *Health { return e.health }

// Execute runs a decision to completion: primary call, then the typed
// fallback protocol. The returned Result is always populated for recording,
// even when err is non-nil.
func (e *Engine) Execute(ctx context.Context, dec domain.Decision, req domain.ChatRequest, feats domain.Features) (Result, error) {
	res := Result{Provider: dec.Provider, Model: dec.Model, Attempts: 1}

	call := e.buildCall(dec, req, dec.Model, dec.Thinking)
	resp, err := e.dispatch(ctx, dec.Provider, call)
	if err == nil {
		res.Response = resp
		res.Provider = resp.Provider
		res.Model = resp.Model
		return res, nil
	}

	var pe *domain.ProviderError
	if !errors.As(err, &pe) || !pe.Retryable() {
		// Permanent failures (4xx non-429, content filter, parse) return
		// the upstream error verbatim; no fallback.
		res.Err = err
		return res, err
	}

	// Anthropic 429: immediate non-Anthropic reroute plus cool-down.
	if pe.IsRateLimit() && pe.Provider == domain.ProviderAnthropic {
		res.Anthropic429 = true
		e.startCooldown(dec)
		return e.rerouteNonAnthropic(ctx, dec, req, feats, res)
	}

	// Non-Anthropic 429: short rate-limited window, then walk fallbacks.
	reason := string(pe.Kind)
	if pe.IsRateLimit() {
		e.health.MarkRateLimited(pe.Provider, e.cfg.RateLimitWindow)
	}
	return e.walkFallbacks(ctx, dec, req, res, pe, reason)
}

// ─── Anthropic reroute ──────────────────────────────────────────────────────

// startCooldown records the per-user exclusion so later selector calls skip
// anthropic-kind candidates preemptively.
func (e *Engine) startCooldown(dec domain.Decision) {
	if dec.Auth.Token == "" {
		return
	}
	key := domain.CooldownKey(dec.Auth.Token)
	e.cooldowns.Set(key, "anthropic-429", e.cfg.CooldownTTL)
	if e.log != nil {
		e.log.WithField("cooldown_key", key).Info("anthropic 429: cool-down started")
	}
}

// rerouteNonAnthropic re-runs selection with anthropic-kind excluded and
// executes the new primary once, inside the reroute budget.
func (e *Engine) rerouteNonAnthropic(ctx context.Context, dec domain.Decision, req domain.ChatRequest, feats domain.Features, res Result) (Result, error) {
	res.FallbackUsed = true
	res.FallbackReason = "anthropic-429"

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RerouteBudget)
	defer cancel()

	next, ok := e.reselect(rctx, feats, []domain.ProviderKind{domain.ProviderAnthropic})
	if !ok {
		res.Err = domain.ErrFallbacksExhausted
		return res, domain.ErrFallbacksExhausted
	}
	next.Auth = e.fallbackAuth(dec, next.Provider)

	res.Attempts++
	res.Provider = next.Provider
	res.Model = next.Model
	call := e.buildCall(next, req, next.Model, next.Thinking)
	resp, err := e.dispatch(rctx, next.Provider, call)
	if err != nil {
		res.Err = err
		return res, err
	}
	res.Response = resp
	res.Provider = resp.Provider
	res.Model = resp.Model
	return res, nil
}

// ─── Fallback walk ──────────────────────────────────────────────────────────

// walkFallbacks tries the decision's ordered alternates. A candidate on the
// same provider kind as a rate-limited primary is skipped — the fallback
// list must never repeat the provider whose rate limit triggered it.
func (e *Engine) walkFallbacks(ctx context.Context, dec domain.Decision, req domain.ChatRequest, res Result, cause *domain.ProviderError, reason string) (Result, error) {
	res.FallbackUsed = len(dec.Fallbacks) > 0
	res.FallbackReason = reason

	backoff := e.cfg.BackoffBase
	lastErr := error(cause)
	for _, cand := range dec.Fallbacks {
		if res.Attempts >= e.cfg.MaxAttempts {
			break
		}
		card, err := e.catalog.Lookup(ctx, cand.Slug)
		if err != nil {
			continue
		}
		if cause.IsRateLimit() && card.Provider == cause.Provider {
			continue
		}
		if !e.health.Allow(card.Provider) {
			continue
		}

		if cause.Kind == domain.ProviderErrTransient {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				res.Err = ctx.Err()
				return res, ctx.Err()
			}
			if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
		}

		next := dec
		next.Provider = card.Provider
		next.Model = card.Slug
		next.Thinking = e.thinking(card, dec.Bucket)
		next.Auth = e.fallbackAuth(dec, card.Provider)

		res.Attempts++
		res.Provider = card.Provider
		res.Model = card.Slug
		call := e.buildCall(next, req, card.Slug, next.Thinking)
		resp, err := e.dispatch(ctx, card.Provider, call)
		if err == nil {
			res.Response = resp
			res.Provider = resp.Provider
			res.Model = resp.Model
			return res, nil
		}
		lastErr = err

		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			if !pe.Retryable() {
				break
			}
			if pe.IsRateLimit() {
				e.health.MarkRateLimited(pe.Provider, e.cfg.RateLimitWindow)
			}
		}
	}

	res.Err = lastErr
	return res, lastErr
}

// ─── Call plumbing ──────────────────────────────────────────────────────────

// dispatch routes one call through the adapter for the provider kind and
// records the outcome in the health tracker.
func (e *Engine) dispatch(ctx context.Context, kind domain.ProviderKind, call providers.CallRequest) (providers.Response, error) {
	caller, ok := e.callers[kind]
	if !ok {
		return providers.Response{}, &domain.ProviderError{
			Provider: kind, Model: call.Model,
			Kind: domain.ProviderErrPermanent,
			Err:  errors.New("no adapter registered for provider kind"),
		}
	}
	resp, err := caller.Call(ctx, call)
	e.health.Record(kind, err == nil)
	return resp, err
}

func (e *Engine) buildCall(dec domain.Decision, req domain.ChatRequest, model string, thinking domain.ThinkingParams) providers.CallRequest {
	return providers.CallRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   chooseMaxTokens(req.MaxTokens, dec.MaxTokens),
		Thinking:    thinking,
		Auth:        dec.Auth,
		Prefs:       dec.Prefs,
	}
}

// fallbackAuth reuses the request credentials when the fallback stays on the
// same provider kind; otherwise it falls back to environment credentials.
func (e *Engine) fallbackAuth(dec domain.Decision, kind domain.ProviderKind) domain.AuthDirective {
	if kind == dec.Provider {
		return dec.Auth
	}
	if auth, ok := EnvAuth(kind); ok {
		return auth
	}
	return dec.Auth
}

// EnvAuth resolves process-environment credentials for a provider kind.
func EnvAuth(kind domain.ProviderKind) (domain.AuthDirective, bool) {
	var envVar string
	mode := domain.AuthBearer
	switch kind {
	case domain.ProviderAnthropic:
		envVar, mode = "ANTHROPIC_API_KEY", domain.AuthAPIKey
	case domain.ProviderOpenAI:
		envVar = "OPENAI_API_KEY"
	case domain.ProviderGemini:
		envVar, mode = "GEMINI_API_KEY", domain.AuthAPIKey
	case domain.ProviderAggregator:
		envVar = "OPENROUTER_API_KEY"
	default:
		return domain.AuthDirective{}, false
	}
	token := os.Getenv(envVar)
	if token == "" {
		return domain.AuthDirective{}, false
	}
	return domain.AuthDirective{Mode: mode, Token: token, Adapter: string(kind)}, true
}

func chooseMaxTokens(reqMax, decMax int) int {
	if reqMax > 0 {
		return reqMax
	}
	return decMax
}
