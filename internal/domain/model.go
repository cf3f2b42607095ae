// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ─── Request Types ──────────────────────────────────────────────────────────

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is an incoming chat-completion request after JSON decoding.
// Model is frequently "auto", which delegates model choice to the router.
type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// PromptText concatenates message contents in order, capped at maxBytes.
// The cap bounds hashing and lexical analysis on pathological inputs;
// 0 means no cap.
func (r ChatRequest) PromptText(maxBytes int) string {
	var total int
	for _, m := range r.Messages {
		total += len(m.Content) + 1
	}
	if maxBytes > 0 && total > maxBytes {
		total = maxBytes
	}
	buf := make([]byte, 0, total)
	for _, m := range r.Messages {
		if maxBytes > 0 && len(buf) >= maxBytes {
			break
		}
		buf = append(buf, m.Content...)
		buf = append(buf, '\n')
	}
	if maxBytes > 0 && len(buf) > maxBytes {
		buf = buf[:maxBytes]
	}
	return string(buf)
}

// ─── Feature Types ──────────────────────────────────────────────────────────

// Features is the frozen per-request feature vector produced by extraction.
type Features struct {
	Embedding     []float32 `json:"-"`
	ClusterID     int       `json:"cluster_id"`
	TopPDistances []float64 `json:"top_p_distances"`
	TokenCount    int       `json:"token_count"`
	ContextRatio  float64   `json:"context_ratio"`
	HasCode       bool      `json:"has_code"`
	HasMath       bool      `json:"has_math"`
	NgramEntropy  float64   `json:"ngram_entropy"`

	// EmbeddingFallback is true when every embedding backend failed and the
	// deterministic hash-derived vector was used instead.
	EmbeddingFallback bool `json:"embedding_fallback,omitempty"`
	// Degraded is true when any sub-step hit its deadline and a default
	// value was substituted.
	Degraded bool `json:"degraded,omitempty"`
}

// ─── Buckets ────────────────────────────────────────────────────────────────

// Bucket is a cost/quality tier.
type Bucket string

const (
	BucketCheap Bucket = "cheap"
	BucketMid   Bucket = "mid"
	BucketHard  Bucket = "hard"
)

// BucketProbs holds triage class probabilities. They sum to 1.
type BucketProbs struct {
	Cheap float64 `json:"cheap"`
	Mid   float64 `json:"mid"`
	Hard  float64 `json:"hard"`
}

// Sum returns cheap+mid+hard. Callers verifying the probability invariant
// should compare against 1 with a small epsilon.
func (p BucketProbs) Sum() float64 { return p.Cheap + p.Mid + p.Hard }

// Normalize rescales the probabilities to sum to exactly 1.
// A zero vector normalizes to the uniform distribution.
func (p BucketProbs) Normalize() BucketProbs {
	s := p.Sum()
	if s <= 0 {
		return BucketProbs{Cheap: 1.0 / 3, Mid: 1.0 / 3, Hard: 1.0 / 3}
	}
	return BucketProbs{Cheap: p.Cheap / s, Mid: p.Mid / s, Hard: p.Hard / s}
}

// Argmax returns the bucket with the highest probability.
func (p BucketProbs) Argmax() Bucket {
	switch {
	case p.Hard >= p.Cheap && p.Hard >= p.Mid:
		return BucketHard
	case p.Cheap >= p.Mid:
		return BucketCheap
	default:
		return BucketMid
	}
}

// ─── Provider Types ─────────────────────────────────────────────────────────

// ProviderKind identifies one of the upstream provider shapes.
type ProviderKind string

const (
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderOpenAI     ProviderKind = "openai"
	ProviderGemini     ProviderKind = "gemini"
	ProviderAggregator ProviderKind = "aggregator"
)

// ThinkingType distinguishes the two provider thinking-parameter styles.
type ThinkingType string

const (
	ThinkingEffort ThinkingType = "effort" // enum low|medium|high
	ThinkingBudget ThinkingType = "budget" // integer token budget
)

// ThinkingRanges are the per-model budget clamp points declared by the catalog.
type ThinkingRanges struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
	Max    int `json:"max"`
}

// Clamp bounds a requested budget to [Low, Max]. Zero ranges pass the value
// through unchanged.
func (r ThinkingRanges) Clamp(budget int) int {
	if r.Max > 0 && budget > r.Max {
		budget = r.Max
	}
	if r.Low > 0 && budget < r.Low {
		budget = r.Low
	}
	return budget
}

// ThinkingParams carries the resolved thinking directive for one call.
// Exactly one of Effort or Budget is meaningful, per Type.
type ThinkingParams struct {
	Type   ThinkingType `json:"type,omitempty"`
	Effort string       `json:"effort,omitempty"`
	Budget int          `json:"budget,omitempty"`
}

// Enabled reports whether any thinking directive is set.
func (t ThinkingParams) Enabled() bool { return t.Type != "" }

// ─── Model Catalog Types ────────────────────────────────────────────────────

// Pricing is per-million-token cost in USD.
type Pricing struct {
	InPerMillion  float64 `json:"in_per_million"`
	OutPerMillion float64 `json:"out_per_million"`
}

// Cost computes the dollar cost of a completed call.
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1e6*p.InPerMillion +
		float64(completionTokens)/1e6*p.OutPerMillion
}

// ModelCard is a catalog capability record for one model.
type ModelCard struct {
	Slug          string         `json:"slug"`
	Provider      ProviderKind   `json:"provider"`
	Author        string         `json:"author,omitempty"`
	Family        string         `json:"family"`
	CtxInMax      int            `json:"ctx_in"`
	CtxOutMax     int            `json:"ctx_out"`
	SupportsJSON  bool           `json:"json"`
	SupportsTools bool           `json:"tools"`
	ThinkingType  ThinkingType   `json:"thinking_type,omitempty"`
	Ranges        ThinkingRanges `json:"ranges"`
	Pricing       Pricing        `json:"pricing"`
	LatencySD     float64        `json:"latency_sd,omitempty"`
}

// ─── Decision Types ─────────────────────────────────────────────────────────

// AuthMode distinguishes credential shapes accepted by providers.
type AuthMode string

const (
	AuthBearer AuthMode = "bearer"
	AuthAPIKey AuthMode = "apikey"
)

// AuthDirective tells the engine how to authenticate the chosen call.
type AuthDirective struct {
	Mode         AuthMode `json:"mode"`
	Token        string   `json:"-"`
	RefreshToken string   `json:"-"`
	Adapter      string   `json:"adapter,omitempty"`
}

// ProviderPrefs are aggregator-kind routing preferences forwarded upstream.
type ProviderPrefs struct {
	Sort           string   `json:"sort,omitempty"`
	MaxPrice       float64  `json:"max_price,omitempty"`
	AllowFallbacks bool     `json:"allow_fallbacks"`
	ExcludeAuthors []string `json:"exclude_authors,omitempty"`
}

// Candidate is one scored selector output.
type Candidate struct {
	Slug  string  `json:"slug"`
	Score float64 `json:"score"`
}

// Decision is the routing verdict for one request. It is a pure value
// carried downstream; the engine never mutates it.
type Decision struct {
	ID        string         `json:"id"`
	Bucket    Bucket         `json:"bucket"`
	Provider  ProviderKind   `json:"provider"`
	Model     string         `json:"model"`
	Thinking  ThinkingParams `json:"thinking"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Prefs     ProviderPrefs  `json:"prefs"`
	Auth      AuthDirective  `json:"auth"`

	// Fallbacks is the ordered list of alternates, best first. The engine
	// walks it on retryable failure.
	Fallbacks []Candidate `json:"fallbacks"`

	// ArtifactVersion pins the artifact the decision was computed from.
	ArtifactVersion string `json:"artifact_version"`
}

// ─── Cool-down ──────────────────────────────────────────────────────────────

// CooldownEntry is a time-bounded per-user provider exclusion.
type CooldownEntry struct {
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the entry is still in effect at now.
func (e CooldownEntry) Live(now time.Time) bool { return now.Before(e.ExpiresAt) }

// CooldownKey derives the stable per-user key from the bearer token.
func CooldownKey(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:16])
}

// ─── Utilities ──────────────────────────────────────────────────────────────

// SHA256Hex computes SHA-256 hash and returns hex string.
func SHA256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// EstimateTokens is the four-characters-per-token estimate used when no
// tokenizer is available. Always at least 1 for non-empty text.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// HumanDuration formats a duration as "1m30s" style for status output.
func HumanDuration(d time.Duration) string {
	if d < 0 {
		return "expired"
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
