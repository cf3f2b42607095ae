package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Anthropic-kind Adapter ─────────────────────────────────────────────────

// Anthropic calls the Anthropic-compatible messages API. OAuth bearers pass
// through untouched; API keys go in x-api-key. Rate limits surface as HTTP
// 429 with a Retry-After hint, which the engine turns into the immediate
// non-Anthropic reroute.
type Anthropic struct {
	BaseURL string
	client  *http.Client
}

// NewAnthropic creates the adapter.
func NewAnthropic(baseURL string) *Anthropic {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &Anthropic{BaseURL: baseURL, client: newHTTPClient()}
}

func (a *Anthropic) Kind() domain.ProviderKind { return domain.ProviderAnthropic }

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []domain.Message   `json:"messages"`
	System    string             `json:"system,omitempty"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model string `json:"model"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Call executes one messages request.
func (a *Anthropic) Call(ctx context.Context, req CallRequest) (Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	// System messages move to the dedicated field.
	for _, m := range req.Messages {
		if m.Role == "system" && body.System == "" {
			body.System = m.Content
			continue
		}
		body.Messages = append(body.Messages, m)
	}
	if req.Thinking.Type == domain.ThinkingBudget && req.Thinking.Budget > 0 {
		body.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: req.Thinking.Budget}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	switch req.Auth.Mode {
	case domain.AuthBearer:
		httpReq.Header.Set("Authorization", "Bearer "+req.Auth.Token)
	default:
		httpReq.Header.Set("x-api-key", req.Auth.Token)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Response{}, transportError(domain.ProviderAnthropic, req.Model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Response{}, httpError(domain.ProviderAnthropic, req.Model, resp)
	}

	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, &domain.ProviderError{
			Provider: domain.ProviderAnthropic, Model: req.Model,
			Kind: domain.ProviderErrTransient, Err: err,
		}
	}

	var text string
	for _, block := range out.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return Response{
		Content:  text,
		Model:    out.Model,
		Provider: domain.ProviderAnthropic,
		Usage: Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
		},
	}, nil
}
