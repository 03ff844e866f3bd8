package backend

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

// CompatProvider serves Azure OpenAI deployments and self-hosted servers
// that speak the OpenAI chat completions protocol.
type CompatProvider struct {
	name   string
	client *goopenai.Client
}

// NewAzureProvider targets an Azure OpenAI resource. Model names are used
// as deployment names.
func NewAzureProvider(apiKey, endpoint string) *CompatProvider {
	cfg := goopenai.DefaultAzureConfig(apiKey, endpoint)
	return &CompatProvider{name: "azure", client: goopenai.NewClientWithConfig(cfg)}
}

// NewCompatProvider targets any OpenAI-compatible base URL.
func NewCompatProvider(apiKey, baseURL string) *CompatProvider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &CompatProvider{name: "openai-compatible", client: goopenai.NewClientWithConfig(cfg)}
}

func (p *CompatProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, p.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *CompatProvider) mapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{
			Provider:   p.name,
			StatusCode: apiErr.HTTPStatusCode,
			Type:       apiErr.Type,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{
			Provider:   p.name,
			StatusCode: reqErr.HTTPStatusCode,
			Message:    reqErr.Error(),
			Err:        err,
		}
	}
	return fmt.Errorf("%s: %w", p.name, err)
}
