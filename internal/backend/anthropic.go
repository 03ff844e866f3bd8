package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicDefaultMaxTokens is used when the request leaves MaxTokens
// unset; the Messages API requires one.
const anthropicDefaultMaxTokens = 4096

// AnthropicProvider calls the Anthropic Messages API. System messages are
// lifted into the request's system blocks.
type AnthropicProvider struct {
	client anthropic.Client
}

func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []aoption.RequestOption{
		aoption.WithAPIKey(apiKey),
		aoption.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, aoption.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	msg, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages:  msgs,
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{
				Provider:   "anthropic",
				StatusCode: apiErr.StatusCode,
				Message:    apiErr.Error(),
				Err:        err,
			}
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, ErrEmptyResponse
	}

	in := int(msg.Usage.InputTokens)
	out := int(msg.Usage.OutputTokens)
	return &Response{
		Text:  sb.String(),
		Model: string(msg.Model),
		Usage: Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}
