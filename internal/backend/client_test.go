package backend

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientRetriesThroughProvider(t *testing.T) {
	var calls atomic.Int32
	p := ProviderFunc(func(ctx context.Context, req Request) (*Response, error) {
		if calls.Add(1) < 3 {
			return nil, &ProviderError{Provider: "fake", StatusCode: http.StatusServiceUnavailable}
		}
		return &Response{Text: "ok", Model: req.Model, Usage: Usage{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4}}, nil
	})

	c := NewClient(p, ClientConfig{Name: "fake", Retry: testPolicy(&fakeClock{})}, discardLogger())
	resp, err := c.Complete(context.Background(), Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), calls.Load())

	snap := c.Stats().Snapshot()["m"]
	assert.Equal(t, 3, snap.Calls)
	assert.Equal(t, 2, snap.Errors)
	assert.Equal(t, 4, snap.Tokens)
}

func TestClientTreatsEmptyTextAsFailure(t *testing.T) {
	var calls atomic.Int32
	p := ProviderFunc(func(context.Context, Request) (*Response, error) {
		calls.Add(1)
		return &Response{}, nil
	})

	c := NewClient(p, ClientConfig{Retry: testPolicy(&fakeClock{})}, discardLogger())
	_, err := c.Complete(context.Background(), Request{Model: "m"})

	require.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, int32(MaxAttempts), calls.Load())
}

func TestClientBoundsConcurrentCalls(t *testing.T) {
	const limit = 2
	var inFlight, peak atomic.Int32
	p := ProviderFunc(func(context.Context, Request) (*Response, error) {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &Response{Text: "ok"}, nil
	})

	c := NewClient(p, ClientConfig{MaxConcurrentCalls: limit}, discardLogger())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Complete(context.Background(), Request{Model: "m"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestNewProvider(t *testing.T) {
	for _, name := range []string{"openai", "anthropic", "openai-compatible"} {
		p, err := NewProvider(ProviderConfig{Name: name, APIKey: "k"})
		require.NoError(t, err, name)
		assert.NotNil(t, p, name)
	}

	_, err := NewProvider(ProviderConfig{Name: "azure", APIKey: "k"})
	assert.Error(t, err)

	_, err = NewProvider(ProviderConfig{Name: "nope"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
