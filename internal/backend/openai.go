package backend

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	oaioption "github.com/openai/openai-go/option"
)

// OpenAIProvider calls the OpenAI chat completions API through the
// official SDK.
type OpenAIProvider struct {
	client oai.Client
}

func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []oaioption.RequestOption{
		oaioption.WithAPIKey(apiKey),
		oaioption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, oaioption.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: oai.NewClient(opts...)}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, oai.SystemMessage(m.Content))
		case RoleAssistant:
			msgs = append(msgs, oai.ChatCompletionMessageParamOfAssistant(m.Content))
		default:
			msgs = append(msgs, oai.UserMessage(m.Content))
		}
	}

	params := oai.ChatCompletionNewParams{
		Model:    oai.ChatModel(req.Model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{
				Provider:   "openai",
				StatusCode: apiErr.StatusCode,
				Type:       apiErr.Type,
				Message:    apiErr.Message,
				Err:        err,
			}
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return &Response{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}
