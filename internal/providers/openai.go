package providers

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/switchboard-ai/switchboard/internal/domain"
)

// ─── OpenAI-kind Adapter ────────────────────────────────────────────────────

// OpenAI calls an OpenAI-compatible chat-completions API through the
// go-openai client. The reasoning-effort enum {low, medium, high} maps
// straight onto the effort-style thinking parameter.
type OpenAI struct {
	BaseURL string
}

// NewOpenAI creates the adapter. baseURL "" targets api.openai.com.
func NewOpenAI(baseURL string) *OpenAI {
	return &OpenAI{BaseURL: baseURL}
}

func (o *OpenAI) Kind() domain.ProviderKind { return domain.ProviderOpenAI }

// Call executes one chat-completion request. The client is rebuilt per call
// because the token comes from the request's auth directive, not from
// process configuration.
func (o *OpenAI) Call(ctx context.Context, req CallRequest) (Response, error) {
	cfg := openai.DefaultConfig(req.Auth.Token)
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
	}
	client := openai.NewClientWithConfig(cfg)

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	ccr := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.Thinking.Type == domain.ThinkingEffort && req.Thinking.Effort != "" {
		ccr.ReasoningEffort = req.Thinking.Effort
	}

	resp, err := client.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return Response{}, classifyOpenAIError(req.Model, err)
	}

	var content string
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return Response{
		Content:  content,
		Model:    resp.Model,
		Provider: domain.ProviderOpenAI,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

// classifyOpenAIError maps go-openai errors onto the typed taxonomy.
func classifyOpenAIError(model string, err error) *domain.ProviderError {
	if apiErr, ok := err.(*openai.APIError); ok {
		return &domain.ProviderError{
			Provider: domain.ProviderOpenAI,
			Model:    model,
			Kind:     domain.ClassifyStatus(apiErr.HTTPStatusCode),
			Status:   apiErr.HTTPStatusCode,
			Body:     apiErr.Message,
			Err:      err,
		}
	}
	if reqErr, ok := err.(*openai.RequestError); ok {
		return &domain.ProviderError{
			Provider: domain.ProviderOpenAI,
			Model:    model,
			Kind:     domain.ClassifyStatus(reqErr.HTTPStatusCode),
			Status:   reqErr.HTTPStatusCode,
			Err:      err,
		}
	}
	return transportError(domain.ProviderOpenAI, model, err)
}
