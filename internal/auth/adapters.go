package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Anthropic (oauth-bearer passthrough) ───────────────────────────────────

// AnthropicAdapter passes through OAuth bearer tokens minted by the
// Anthropic-compatible service. Token shape "sk-ant-oat..." marks the OAuth
// variant; plain "sk-ant-..." is an API key sent the same way.
type AnthropicAdapter struct{}

func (AnthropicAdapter) Name() string              { return "anthropic" }
func (AnthropicAdapter) Kind() domain.ProviderKind { return domain.ProviderAnthropic }
func (AnthropicAdapter) EnvFallback() bool         { return os.Getenv("ANTHROPIC_API_KEY") != "" }

func (AnthropicAdapter) Matches(h http.Header) bool {
	if h.Get("x-api-key") != "" && strings.HasPrefix(h.Get("x-api-key"), "sk-ant-") {
		return true
	}
	tok, ok := bearerToken(h)
	return ok && strings.HasPrefix(tok, "sk-ant-")
}

func (AnthropicAdapter) Extract(h http.Header) (domain.AuthDirective, error) {
	if key := h.Get("x-api-key"); strings.HasPrefix(key, "sk-ant-") {
		return domain.AuthDirective{Mode: domain.AuthAPIKey, Token: key, Adapter: "anthropic"}, nil
	}
	tok, ok := bearerToken(h)
	if !ok {
		return domain.AuthDirective{}, domain.ErrAuthMissing
	}
	return domain.AuthDirective{
		Mode:         domain.AuthBearer,
		Token:        tok,
		RefreshToken: h.Get("x-refresh-token"),
		Adapter:      "anthropic",
	}, nil
}

// ─── OpenAI (apikey via bearer) ─────────────────────────────────────────────

// OpenAIAdapter detects OpenAI-shaped API keys sent as bearer tokens.
type OpenAIAdapter struct{}

func (OpenAIAdapter) Name() string              { return "openai" }
func (OpenAIAdapter) Kind() domain.ProviderKind { return domain.ProviderOpenAI }
func (OpenAIAdapter) EnvFallback() bool         { return os.Getenv("OPENAI_API_KEY") != "" }

func (OpenAIAdapter) Matches(h http.Header) bool {
	tok, ok := bearerToken(h)
	return ok && strings.HasPrefix(tok, "sk-") && !strings.HasPrefix(tok, "sk-ant-") && !strings.HasPrefix(tok, "sk-or-")
}

func (OpenAIAdapter) Extract(h http.Header) (domain.AuthDirective, error) {
	tok, ok := bearerToken(h)
	if !ok {
		return domain.AuthDirective{}, domain.ErrAuthMissing
	}
	return domain.AuthDirective{Mode: domain.AuthBearer, Token: tok, Adapter: "openai"}, nil
}

// ─── Aggregator (apikey via bearer) ─────────────────────────────────────────

// AggregatorAdapter detects the meta-provider's "sk-or-..." keys.
type AggregatorAdapter struct{}

func (AggregatorAdapter) Name() string              { return "aggregator" }
func (AggregatorAdapter) Kind() domain.ProviderKind { return domain.ProviderAggregator }
func (AggregatorAdapter) EnvFallback() bool         { return os.Getenv("OPENROUTER_API_KEY") != "" }

func (AggregatorAdapter) Matches(h http.Header) bool {
	tok, ok := bearerToken(h)
	return ok && strings.HasPrefix(tok, "sk-or-")
}

func (AggregatorAdapter) Extract(h http.Header) (domain.AuthDirective, error) {
	tok, ok := bearerToken(h)
	if !ok {
		return domain.AuthDirective{}, domain.ErrAuthMissing
	}
	return domain.AuthDirective{Mode: domain.AuthBearer, Token: tok, Adapter: "aggregator"}, nil
}

// ─── Gemini (apikey via query/header, or OAuth PKCE) ────────────────────────

// GeminiAdapter accepts either an API key (x-goog-api-key header, mirrored
// into the upstream query parameter) or an OAuth bearer obtained through the
// PKCE flow below.
type GeminiAdapter struct {
	// OAuth endpoints; zero values use Google's public endpoints.
	Endpoint    oauth2.Endpoint
	ClientID    string
	RedirectURL string
	Scopes      []string
}

// NewGeminiAdapter builds the adapter with Google's endpoints.
func NewGeminiAdapter(clientID, redirectURL string) *GeminiAdapter {
	return &GeminiAdapter{
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Scopes:      []string{"https://www.googleapis.com/auth/generative-language"},
	}
}

func (*GeminiAdapter) Name() string              { return "gemini" }
func (*GeminiAdapter) Kind() domain.ProviderKind { return domain.ProviderGemini }
func (*GeminiAdapter) EnvFallback() bool         { return os.Getenv("GEMINI_API_KEY") != "" }

func (*GeminiAdapter) Matches(h http.Header) bool {
	if h.Get("x-goog-api-key") != "" {
		return true
	}
	tok, ok := bearerToken(h)
	return ok && strings.HasPrefix(tok, "ya29.")
}

func (*GeminiAdapter) Extract(h http.Header) (domain.AuthDirective, error) {
	if key := h.Get("x-goog-api-key"); key != "" {
		return domain.AuthDirective{Mode: domain.AuthAPIKey, Token: key, Adapter: "gemini"}, nil
	}
	tok, ok := bearerToken(h)
	if !ok {
		return domain.AuthDirective{}, domain.ErrAuthMissing
	}
	return domain.AuthDirective{
		Mode:         domain.AuthBearer,
		Token:        tok,
		RefreshToken: h.Get("x-refresh-token"),
		Adapter:      "gemini",
	}, nil
}

func (g *GeminiAdapter) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    g.ClientID,
		Endpoint:    g.Endpoint,
		RedirectURL: g.RedirectURL,
		Scopes:      g.Scopes,
	}
}

// Initiate starts the PKCE flow: returns the authorize URL and the code
// verifier the caller must retain for Exchange.
func (g *GeminiAdapter) Initiate(state string) (string, string) {
	verifier := pkceVerifier()
	url := g.config().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", pkceChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	return url, verifier
}

// Exchange trades the authorization code + verifier for credentials.
func (g *GeminiAdapter) Exchange(ctx context.Context, code, verifier string) (domain.AuthDirective, error) {
	tok, err := g.config().Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return domain.AuthDirective{}, err
	}
	return domain.AuthDirective{
		Mode:         domain.AuthBearer,
		Token:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Adapter:      "gemini",
	}, nil
}

// Refresh obtains a fresh access token from a refresh token.
func (g *GeminiAdapter) Refresh(ctx context.Context, refreshToken string) (domain.AuthDirective, error) {
	src := g.config().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return domain.AuthDirective{}, err
	}
	out := domain.AuthDirective{
		Mode:         domain.AuthBearer,
		Token:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Adapter:      "gemini",
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}

// ─── PKCE Helpers ───────────────────────────────────────────────────────────

func pkceVerifier() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func pkceChallenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// DefaultAdapters returns the standard adapter set in detection order.
// Order matters: the more specific token prefixes match first.
func DefaultAdapters() []Adapter {
	return []Adapter{
		AnthropicAdapter{},
		AggregatorAdapter{},
		NewGeminiAdapter(os.Getenv("GEMINI_OAUTH_CLIENT_ID"), os.Getenv("GEMINI_OAUTH_REDIRECT_URL")),
		OpenAIAdapter{},
	}
}
