package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Aggregator-kind Adapter ────────────────────────────────────────────────

// Aggregator calls the meta-provider's OpenAI-shaped chat-completions API.
// Provider preferences (sort order, max price, allow-fallbacks) forward in
// the request body; the configured author exclusions were already applied at
// candidate-construction time and travel here only as upstream ignore hints.
type Aggregator struct {
	BaseURL string
	client  *http.Client
}

// NewAggregator creates the adapter.
func NewAggregator(baseURL string) *Aggregator {
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api"
	}
	return &Aggregator{BaseURL: baseURL, client: newHTTPClient()}
}

func (a *Aggregator) Kind() domain.ProviderKind { return domain.ProviderAggregator }

type aggregatorProviderPrefs struct {
	Sort           string   `json:"sort,omitempty"`
	MaxPrice       *float64 `json:"max_price,omitempty"`
	AllowFallbacks bool     `json:"allow_fallbacks"`
	Ignore         []string `json:"ignore,omitempty"`
}

type aggregatorRequest struct {
	Model       string                   `json:"model"`
	Messages    []domain.Message         `json:"messages"`
	Temperature float32                  `json:"temperature,omitempty"`
	MaxTokens   int                      `json:"max_tokens,omitempty"`
	Reasoning   *aggregatorReasoning     `json:"reasoning,omitempty"`
	Provider    *aggregatorProviderPrefs `json:"provider,omitempty"`
}

type aggregatorReasoning struct {
	Effort    string `json:"effort,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type aggregatorResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Call executes one chat-completion request against the aggregator.
func (a *Aggregator) Call(ctx context.Context, req CallRequest) (Response, error) {
	body := aggregatorRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	switch req.Thinking.Type {
	case domain.ThinkingEffort:
		body.Reasoning = &aggregatorReasoning{Effort: req.Thinking.Effort}
	case domain.ThinkingBudget:
		body.Reasoning = &aggregatorReasoning{MaxTokens: req.Thinking.Budget}
	}
	prefs := &aggregatorProviderPrefs{
		Sort:           req.Prefs.Sort,
		AllowFallbacks: req.Prefs.AllowFallbacks,
		Ignore:         req.Prefs.ExcludeAuthors,
	}
	if req.Prefs.MaxPrice > 0 {
		p := req.Prefs.MaxPrice
		prefs.MaxPrice = &p
	}
	body.Provider = prefs

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Auth.Token)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, transportError(domain.ProviderAggregator, req.Model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Response{}, httpError(domain.ProviderAggregator, req.Model, resp)
	}

	var out aggregatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, &domain.ProviderError{
			Provider: domain.ProviderAggregator, Model: req.Model,
			Kind: domain.ProviderErrTransient, Err: err,
		}
	}

	var content string
	if len(out.Choices) > 0 {
		content = out.Choices[0].Message.Content
	}
	model := out.Model
	if model == "" {
		model = req.Model
	}
	return Response{
		Content:  content,
		Model:    model,
		Provider: domain.ProviderAggregator,
		Usage: Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
		},
	}, nil
}
