// Package auth resolves request credentials through a registry of provider
// adapters.
//
// Each adapter detects its own credential shape in the incoming headers and
// extracts a directive the engine can forward upstream. Adapters are a tagged
// variant — apikey, oauth-bearer, oauth-pkce — behind one small interface; no
// inheritance, a name-keyed registry is sufficient. OAuth adapters also
// implement the PKCE trio (initiate, exchange, refresh) with at most one
// refresh in flight per user.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Adapter Interface ──────────────────────────────────────────────────────

// Adapter detects and extracts one credential shape.
type Adapter interface {
	// Name identifies the adapter in config and decision records.
	Name() string
	// Kind is the provider the extracted credentials authenticate against.
	Kind() domain.ProviderKind
	// Matches reports whether the request carries this adapter's credentials.
	Matches(h http.Header) bool
	// Extract yields the auth directive. Only called after Matches.
	Extract(h http.Header) (domain.AuthDirective, error)
	// EnvFallback reports whether the adapter can authenticate from the
	// process environment when the request carries no credentials. Fallback
	// after AuthMissing is only allowed to such providers.
	EnvFallback() bool
}

// OAuthFlow is the optional PKCE surface.
type OAuthFlow interface {
	Initiate(state string) (authorizeURL, verifier string)
	Exchange(ctx context.Context, code, verifier string) (domain.AuthDirective, error)
	Refresh(ctx context.Context, refreshToken string) (domain.AuthDirective, error)
}

// ─── Registry ───────────────────────────────────────────────────────────────

// Registry holds enabled adapters in registration order. Exactly one
// adapter's credentials are used per request: the first match wins.
type Registry struct {
	adapters []Adapter
	refresh  singleflight.Group
}

// NewRegistry creates a registry with the given adapters, filtered to the
// enabled set (nil enabled = all).
func NewRegistry(adapters []Adapter, enabled []string) *Registry {
	if enabled == nil {
		return &Registry{adapters: adapters}
	}
	allow := make(map[string]struct{}, len(enabled))
	for _, name := range enabled {
		allow[name] = struct{}{}
	}
	var kept []Adapter
	for _, a := range adapters {
		if _, ok := allow[a.Name()]; ok {
			kept = append(kept, a)
		}
	}
	return &Registry{adapters: kept}
}

// Resolve finds the first adapter matching the request headers and extracts
// its credentials. Returns ErrAuthMissing when nothing matches.
func (r *Registry) Resolve(h http.Header) (domain.AuthDirective, error) {
	for _, a := range r.adapters {
		if a.Matches(h) {
			return a.Extract(h)
		}
	}
	return domain.AuthDirective{}, domain.ErrAuthMissing
}

// ByName returns the named adapter, if registered.
func (r *Registry) ByName(name string) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}

// EnvFallbackKinds lists provider kinds that can authenticate without
// request credentials. Used to bound fallback after AuthMissing.
func (r *Registry) EnvFallbackKinds() []domain.ProviderKind {
	var kinds []domain.ProviderKind
	for _, a := range r.adapters {
		if a.EnvFallback() {
			kinds = append(kinds, a.Kind())
		}
	}
	return kinds
}

// RefreshToken refreshes an OAuth credential through the named adapter.
// Concurrent callers for the same user key share one in-flight refresh and
// reuse its result.
func (r *Registry) RefreshToken(ctx context.Context, adapterName, userKey, refreshToken string) (domain.AuthDirective, error) {
	a, ok := r.ByName(adapterName)
	if !ok {
		return domain.AuthDirective{}, errors.Errorf("unknown auth adapter %q", adapterName)
	}
	flow, ok := a.(OAuthFlow)
	if !ok {
		return domain.AuthDirective{}, errors.Errorf("adapter %q does not support refresh", adapterName)
	}
	v, err, _ := r.refresh.Do(userKey, func() (any, error) {
		return flow.Refresh(ctx, refreshToken)
	})
	if err != nil {
		return domain.AuthDirective{}, err
	}
	return v.(domain.AuthDirective), nil
}

// ─── Header Helpers ─────────────────────────────────────────────────────────

// bearerToken extracts the Authorization bearer value, if any.
func bearerToken(h http.Header) (string, bool) {
	v := h.Get("Authorization")
	if v == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(v, prefix) {
		return "", false
	}
	return strings.TrimSpace(v[len(prefix):]), true
}
