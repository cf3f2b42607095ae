package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/switchboard-ai/switchboard/internal/artifact"
	"github.com/switchboard-ai/switchboard/internal/auth"
	"github.com/switchboard-ai/switchboard/internal/catalog"
	"github.com/switchboard-ai/switchboard/internal/config"
	"github.com/switchboard-ai/switchboard/internal/domain"
	"github.com/switchboard-ai/switchboard/internal/features"
	"github.com/switchboard-ai/switchboard/internal/observability"
	"github.com/switchboard-ai/switchboard/internal/providers"
	"github.com/switchboard-ai/switchboard/internal/router"
)

// ─── Fixture ────────────────────────────────────────────────────────────────

// fakeOK answers every call with a canned success.
type fakeOK struct{ kind domain.ProviderKind }

func (f fakeOK) Kind() domain.ProviderKind { return f.kind }

func (f fakeOK) Call(ctx context.Context, req providers.CallRequest) (providers.Response, error) {
	return providers.Response{
		Content: "ok", Model: req.Model, Provider: f.kind,
		Usage: providers.Usage{PromptTokens: 5, CompletionTokens: 2},
	}, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.DefaultConfig()

	art := artifact.Emergency(384)
	artifacts := artifact.NewStore(art, nil)

	cat := catalog.NewClient(catalog.DefaultConfig(""), nil)
	cat.Seed([]domain.ModelCard{
		{Slug: "deepseek/deepseek-r1", Provider: domain.ProviderAggregator, Author: "deepseek", CtxInMax: 64_000},
		{Slug: "meta-llama/llama-3.3-70b-instruct", Provider: domain.ProviderAggregator, Author: "meta-llama", CtxInMax: 128_000},
		{Slug: "gpt-4o-mini", Provider: domain.ProviderOpenAI, CtxInMax: 128_000},
		{Slug: "gpt-4o", Provider: domain.ProviderOpenAI, CtxInMax: 128_000},
		{Slug: "gemini-2.5-flash", Provider: domain.ProviderGemini, CtxInMax: 1_048_576},
		{Slug: "gemini-2.5-pro", Provider: domain.ProviderGemini, CtxInMax: 1_048_576},
		{Slug: "claude-sonnet-4-20250514", Provider: domain.ProviderAnthropic, CtxInMax: 200_000},
		{Slug: "o3", Provider: domain.ProviderOpenAI, CtxInMax: 200_000},
	})

	extractorCfg := features.DefaultConfig()
	extractorCfg.Budget = 200 * time.Millisecond
	index := features.NewIndex(art.Centroids)
	extractor := features.NewExtractor(extractorCfg, nil, nil, index, nil)

	callers := map[domain.ProviderKind]providers.Caller{
		domain.ProviderAnthropic:  fakeOK{domain.ProviderAnthropic},
		domain.ProviderOpenAI:     fakeOK{domain.ProviderOpenAI},
		domain.ProviderGemini:     fakeOK{domain.ProviderGemini},
		domain.ProviderAggregator: fakeOK{domain.ProviderAggregator},
	}

	rt := router.New(cfg, router.Deps{
		Artifacts: artifacts,
		Catalog:   cat,
		Auth:      auth.NewRegistry(auth.DefaultAdapters(), nil),
		Callers:   callers,
		Recorder:  observability.NewRecorder(observability.DefaultConfig(), nil),
		Extractor: extractor,
	})

	slo := observability.SLOConfig{P95MS: 2500, MaxMisfireRate: 0.05, MinUptimePct: 99.5}
	return NewServer(rt, cat, slo, nil)
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestChatCompletions_RoutesRequest(t *testing.T) {
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	body := `{"model": "auto", "messages": [{"role": "user", "content": "hello there"}]}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sk-or-v1-user")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["id"] == "" || out["model"] == "" {
		t.Errorf("response = %v", out)
	}
}

func TestChatCompletions_MissingAuthIs401(t *testing.T) {
	for _, v := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY"} {
		t.Setenv(v, "")
	}
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	body := `{"messages": [{"role": "user", "content": "hi"}]}`
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestChatCompletions_EmptyMessagesIs400(t *testing.T) {
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(`{"messages": []}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatsAndSLOEndpoints(t *testing.T) {
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	for _, path := range []string{"/api/status", "/api/router/stats", "/api/router/decisions", "/api/router/slo"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s status = %d", path, resp.StatusCode)
		}
	}
}
