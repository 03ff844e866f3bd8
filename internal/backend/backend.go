// Package backend talks to the remote completion services that produce
// summaries. Vendor adapters implement Provider; Client wraps a Provider
// with the retry policy, circuit breaker, rate limit and concurrency bound
// shared by every caller.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a chat prompt.
type Message struct {
	Role    Role   `cbor:"role" json:"role"`
	Content string `cbor:"content" json:"content"`
}

// Request is a single completion call.
type Request struct {
	Model     string
	Messages  []Message
	MaxTokens int // 0 lets the provider pick its default.
}

// Usage counts tokens consumed by one or more calls. Callers sum it with
// Add instead of keeping shared counters.
type Usage struct {
	PromptTokens     int `cbor:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens int `cbor:"completion_tokens" json:"completion_tokens"`
	TotalTokens      int `cbor:"total_tokens" json:"total_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Response is the result of a completion call.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Provider is a vendor completion API.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Completer is what the summarizer depends on. *Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, req Request) (*Response, error)

func (f ProviderFunc) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

var (
	ErrEmptyResponse     = errors.New("backend returned empty response")
	ErrAttemptsExhausted = errors.New("backend attempts exhausted")
	ErrCircuitOpen       = errors.New("backend unavailable: circuit breaker open")
	ErrUnknownProvider   = errors.New("unknown backend provider")
)

// ProviderError is a vendor API failure normalized to an HTTP status.
type ProviderError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: HTTP %d: %s: %s", e.Provider, e.StatusCode, e.Type, truncate(e.Message, 200))
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, truncate(e.Message, 200))
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transient backend failure worth
// another attempt: rate limits, overload, server errors, request
// timeouts and dropped connections. Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}

	var perr *ProviderError
	if errors.As(err, &perr) {
		switch {
		case perr.StatusCode == http.StatusTooManyRequests,
			perr.StatusCode == http.StatusRequestTimeout,
			perr.StatusCode == http.StatusConflict,
			perr.StatusCode >= 500:
			return true
		}
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
