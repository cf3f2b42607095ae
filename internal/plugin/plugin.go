// Package plugin adapts the router to a host gateway's plugin boundary.
//
// The host calls PreHook for each request in registration order and PostHook
// in reverse order; every PreHook that ran gets its PostHook. Plugins must be
// reentrant and thread-safe — all per-request state travels through the
// context, never through plugin fields.
package plugin

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/switchboard-ai/switchboard/internal/domain"
	"github.com/switchboard-ai/switchboard/internal/providers"
	"github.com/switchboard-ai/switchboard/internal/router"
)

// ─── Host Types ─────────────────────────────────────────────────────────────

// Request is the host's mutable view of an in-flight request.
type Request struct {
	Chat    domain.ChatRequest
	Headers http.Header

	// Fields the router may rewrite before the host dispatches upstream.
	Provider domain.ProviderKind
	Model    string
	Thinking domain.ThinkingParams
	Prefs    domain.ProviderPrefs
}

// ShortCircuit ends host processing early. Deny short-circuits must disallow
// host-level fallbacks so a policy refusal cannot be retried around.
type ShortCircuit struct {
	Response       *providers.Response
	Err            error
	AllowFallbacks bool
}

// Plugin is the host's extension interface.
type Plugin interface {
	GetName() string
	PreHook(ctx context.Context, req *Request) (*Request, *ShortCircuit, error)
	PostHook(ctx context.Context, resp *providers.Response, callErr error) (*providers.Response, error, error)
	Cleanup() error
}

// ─── Router Plugin ──────────────────────────────────────────────────────────

type ctxKey string

const decisionKey ctxKey = "switchboard-decision"

// DecisionFromContext returns the routing decision stamped into ctx by
// WithDecision. PreHook does not stamp the context.
func DecisionFromContext(ctx context.Context) (domain.Decision, bool) {
	d, ok := ctx.Value(decisionKey).(domain.Decision)
	return d, ok
}

// WithDecision stamps a decision into the context. Exposed for tests.
func WithDecision(ctx context.Context, d domain.Decision) context.Context {
	return context.WithValue(ctx, decisionKey, d)
}

// Closer releases resources on Cleanup (the record store, HTTP clients).
type Closer func() error

// RouterPlugin routes requests inside a host gateway. PreHook rewrites the
// request's model/provider/params; PostHook logs the outcome at debug level.
type RouterPlugin struct {
	router  *router.Router
	log     *logrus.Entry
	closers []Closer
}

// NewRouterPlugin wraps a router for plugin deployment.
func NewRouterPlugin(r *router.Router, log *logrus.Entry, closers ...Closer) *RouterPlugin {
	return &RouterPlugin{router: r, log: log, closers: closers}
}

// GetName identifies the plugin to the host.
func (p *RouterPlugin) GetName() string { return "switchboard-router" }

// PreHook decides the route and mutates the request. Auth failures deny with
// host fallbacks disallowed; a missing shortlist degrades to the host's own
// default rather than failing traffic.
func (p *RouterPlugin) PreHook(ctx context.Context, req *Request) (*Request, *ShortCircuit, error) {
	dec, _, err := p.router.Decide(ctx, req.Chat, req.Headers)
	if err != nil {
		switch err {
		case domain.ErrAuthMissing, domain.ErrAuthInvalid, domain.ErrModelNotAllowed:
			return req, &ShortCircuit{
				Err:            err,
				AllowFallbacks: false,
			}, nil
		default:
			// Degraded routing is the host's problem to retry, not a deny.
			return req, nil, err
		}
	}

	req.Provider = dec.Provider
	req.Model = dec.Model
	req.Thinking = dec.Thinking
	req.Prefs = dec.Prefs
	return req, nil, nil
}

// PostHook runs for every PreHook regardless of outcome. The router's own
// Route path records internally; the plugin path emits no decision record:
// PostHook only writes a debug log line when ctx carries a decision, and
// passes the response and error through unchanged.
func (p *RouterPlugin) PostHook(ctx context.Context, resp *providers.Response, callErr error) (*providers.Response, error, error) {
	if dec, ok := DecisionFromContext(ctx); ok && p.log != nil {
		p.log.WithFields(logrus.Fields{
			"decision": dec.ID,
			"model":    dec.Model,
			"success":  callErr == nil,
		}).Debug("post-hook")
	}
	return resp, callErr, nil
}

// Cleanup flushes records and closes clients.
func (p *RouterPlugin) Cleanup() error {
	var firstErr error
	for _, c := range p.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
