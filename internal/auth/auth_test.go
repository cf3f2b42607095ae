package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

// ─── Adapter Matching ───────────────────────────────────────────────────────

func TestAdapters_TokenShapeDetection(t *testing.T) {
	tests := []struct {
		name    string
		h       http.Header
		adapter string
		mode    domain.AuthMode
	}{
		{"anthropic oauth bearer", headers("Authorization", "Bearer sk-ant-oat-abc123"), "anthropic", domain.AuthBearer},
		{"anthropic api key header", headers("x-api-key", "sk-ant-api-abc"), "anthropic", domain.AuthAPIKey},
		{"openai bearer", headers("Authorization", "Bearer sk-proj-abc"), "openai", domain.AuthBearer},
		{"aggregator bearer", headers("Authorization", "Bearer sk-or-v1-abc"), "aggregator", domain.AuthBearer},
		{"gemini api key", headers("x-goog-api-key", "AIzaXYZ"), "gemini", domain.AuthAPIKey},
		{"gemini oauth bearer", headers("Authorization", "Bearer ya29.token"), "gemini", domain.AuthBearer},
	}

	reg := NewRegistry(DefaultAdapters(), nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, err := reg.Resolve(tt.h)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if dir.Adapter != tt.adapter {
				t.Errorf("adapter = %q, want %q", dir.Adapter, tt.adapter)
			}
			if dir.Mode != tt.mode {
				t.Errorf("mode = %q, want %q", dir.Mode, tt.mode)
			}
		})
	}
}

func TestRegistry_ExactlyOneAdapterWins(t *testing.T) {
	// "sk-ant-..." must resolve to anthropic even though openai also accepts
	// bearer tokens starting with "sk-".
	reg := NewRegistry(DefaultAdapters(), nil)
	dir, err := reg.Resolve(headers("Authorization", "Bearer sk-ant-oat-abc"))
	if err != nil {
		t.Fatal(err)
	}
	if dir.Adapter != "anthropic" {
		t.Errorf("adapter = %q, want anthropic (specific prefix wins)", dir.Adapter)
	}
}

func TestRegistry_NoCredentials(t *testing.T) {
	reg := NewRegistry(DefaultAdapters(), nil)
	if _, err := reg.Resolve(headers()); !errors.Is(err, domain.ErrAuthMissing) {
		t.Errorf("err = %v, want ErrAuthMissing", err)
	}
}

func TestRegistry_EnabledFilter(t *testing.T) {
	reg := NewRegistry(DefaultAdapters(), []string{"openai"})
	if _, err := reg.Resolve(headers("Authorization", "Bearer sk-ant-oat-abc")); err == nil {
		t.Error("disabled adapter should not match")
	}
	if _, err := reg.Resolve(headers("Authorization", "Bearer sk-proj-abc")); err != nil {
		t.Errorf("enabled adapter should match: %v", err)
	}
}

// ─── PKCE ───────────────────────────────────────────────────────────────────

func TestGeminiAdapter_InitiatePKCE(t *testing.T) {
	g := NewGeminiAdapter("client-id", "http://localhost/callback")
	url, verifier := g.Initiate("state-1")

	if verifier == "" {
		t.Fatal("verifier must be non-empty")
	}
	if !strings.Contains(url, "code_challenge=") {
		t.Error("authorize URL missing code_challenge")
	}
	if !strings.Contains(url, "code_challenge_method=S256") {
		t.Error("authorize URL missing S256 method")
	}
	if !strings.Contains(url, "state=state-1") {
		t.Error("authorize URL missing state")
	}
	if strings.Contains(url, verifier) {
		t.Error("verifier must not appear in the authorize URL")
	}

	// Two initiations must produce distinct verifiers.
	_, v2 := g.Initiate("state-2")
	if verifier == v2 {
		t.Error("verifiers must be unique per flow")
	}
}

// ─── Refresh Dedup ──────────────────────────────────────────────────────────

// countingFlow counts concurrent refreshes; implements Adapter + OAuthFlow.
type countingFlow struct {
	refreshes atomic.Int64
	block     chan struct{}
}

func (f *countingFlow) Name() string                   { return "counting" }
func (f *countingFlow) Kind() domain.ProviderKind      { return domain.ProviderGemini }
func (f *countingFlow) Matches(http.Header) bool       { return false }
func (f *countingFlow) EnvFallback() bool              { return false }
func (f *countingFlow) Extract(http.Header) (domain.AuthDirective, error) {
	return domain.AuthDirective{}, domain.ErrAuthMissing
}
func (f *countingFlow) Initiate(string) (string, string) { return "", "" }
func (f *countingFlow) Exchange(context.Context, string, string) (domain.AuthDirective, error) {
	return domain.AuthDirective{}, nil
}
func (f *countingFlow) Refresh(ctx context.Context, refreshToken string) (domain.AuthDirective, error) {
	f.refreshes.Add(1)
	<-f.block
	return domain.AuthDirective{Mode: domain.AuthBearer, Token: "fresh-" + refreshToken}, nil
}

func TestRefreshToken_SingleFlightPerUser(t *testing.T) {
	flow := &countingFlow{block: make(chan struct{})}
	reg := NewRegistry([]Adapter{flow}, nil)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]domain.AuthDirective, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dir, err := reg.RefreshToken(context.Background(), "counting", "user-1", "rt")
			if err != nil {
				t.Errorf("RefreshToken: %v", err)
				return
			}
			results[i] = dir
		}(i)
	}

	// Let all callers pile onto the pending refresh, then release it.
	for flow.refreshes.Load() == 0 {
	}
	close(flow.block)
	wg.Wait()

	if got := flow.refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1 (concurrent callers share one flight)", got)
	}
	for i, dir := range results {
		if dir.Token != "fresh-rt" {
			t.Errorf("caller %d token = %q", i, dir.Token)
		}
	}
}

func TestRefreshToken_UnknownAdapter(t *testing.T) {
	reg := NewRegistry(DefaultAdapters(), nil)
	if _, err := reg.RefreshToken(context.Background(), "nope", "u", "rt"); err == nil {
		t.Error("unknown adapter should error")
	}
}
