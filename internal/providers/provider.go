// Package providers holds the upstream chat-completion adapters.
//
// Each adapter formats the chat payload for one provider shape, applies the
// resolved thinking parameters and auth directive, and maps failures to the
// typed ProviderError the engine's fallback protocol dispatches on. Adapters
// never retry; retry policy belongs to the engine.
package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Call Types ─────────────────────────────────────────────────────────────

// CallRequest is everything an adapter needs for one upstream call.
type CallRequest struct {
	Model       string
	Messages    []domain.Message
	Temperature float32
	MaxTokens   int
	Thinking    domain.ThinkingParams
	Auth        domain.AuthDirective
	Prefs       domain.ProviderPrefs
}

// Usage is upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is a normalized upstream reply.
type Response struct {
	Content  string              `json:"content"`
	Model    string              `json:"model"`
	Provider domain.ProviderKind `json:"provider"`
	Usage    Usage               `json:"usage"`
	// Raw holds a verbatim upstream body. None of the adapters in this
	// package sets it; it is not serialized.
	Raw []byte `json:"-"`
}

// Caller is the adapter interface. One implementation per provider kind.
type Caller interface {
	Kind() domain.ProviderKind
	Call(ctx context.Context, req CallRequest) (Response, error)
}

// ─── Shared HTTP plumbing ───────────────────────────────────────────────────

// httpError builds a typed ProviderError from an upstream HTTP response.
func httpError(kind domain.ProviderKind, model string, resp *http.Response) *domain.ProviderError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	pe := &domain.ProviderError{
		Provider: kind,
		Model:    model,
		Kind:     domain.ClassifyStatus(resp.StatusCode),
		Status:   resp.StatusCode,
		Body:     string(body),
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			pe.RetryAfter = secs
		}
	}
	return pe
}

// transportError wraps a network/timeout failure.
func transportError(kind domain.ProviderKind, model string, err error) *domain.ProviderError {
	k := domain.ProviderErrTransient
	if errors.Is(err, context.DeadlineExceeded) {
		k = domain.ProviderErrTimeout
	}
	return &domain.ProviderError{Provider: kind, Model: model, Kind: k, Err: err}
}

// newHTTPClient returns the shared adapter client. Per-call deadlines come
// from the context; the transport timeout is only a safety net.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Minute}
}
