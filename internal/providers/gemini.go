package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── Gemini-kind Adapter ────────────────────────────────────────────────────

// Gemini calls the generateContent API. Auth is either an API key passed as
// a query parameter or an OAuth bearer from the PKCE flow. The integer
// thinking budget goes into generationConfig; contexts up to ~1M tokens are
// supported by the large-context families.
type Gemini struct {
	BaseURL string
	client  *http.Client
}

// NewGemini creates the adapter.
func NewGemini(baseURL string) *Gemini {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	return &Gemini{BaseURL: baseURL, client: newHTTPClient()}
}

func (g *Gemini) Kind() domain.ProviderKind { return domain.ProviderGemini }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiGenerationConfig struct {
	Temperature     float32               `json:"temperature,omitempty"`
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	ModelVersion  string `json:"modelVersion"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Call executes one generateContent request.
func (g *Gemini) Call(ctx context.Context, req CallRequest) (Response, error) {
	body := geminiRequest{
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if body.SystemInstruction == nil {
				body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			}
		case "assistant":
			body.Contents = append(body.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	if req.Thinking.Type == domain.ThinkingBudget && req.Thinking.Budget > 0 {
		body.GenerationConfig.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: req.Thinking.Budget}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, err
	}

	endpoint := g.BaseURL + "/v1beta/models/" + url.PathEscape(req.Model) + ":generateContent"
	if req.Auth.Mode == domain.AuthAPIKey {
		endpoint += "?key=" + url.QueryEscape(req.Auth.Token)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Auth.Mode == domain.AuthBearer {
		httpReq.Header.Set("Authorization", "Bearer "+req.Auth.Token)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, transportError(domain.ProviderGemini, req.Model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Response{}, httpError(domain.ProviderGemini, req.Model, resp)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, &domain.ProviderError{
			Provider: domain.ProviderGemini, Model: req.Model,
			Kind: domain.ProviderErrTransient, Err: err,
		}
	}

	var text string
	if len(out.Candidates) > 0 {
		for _, part := range out.Candidates[0].Content.Parts {
			text += part.Text
		}
	}
	model := out.ModelVersion
	if model == "" {
		model = req.Model
	}
	return Response{
		Content:  text,
		Model:    model,
		Provider: domain.ProviderGemini,
		Usage: Usage{
			PromptTokens:     out.UsageMetadata.PromptTokenCount,
			CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}
