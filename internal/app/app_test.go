package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docsum/internal/backend"
	"github.com/dgallion1/docsum/internal/config"
	"github.com/dgallion1/docsum/internal/tokens"
)

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) Complete(_ context.Context, req backend.Request) (*backend.Response, error) {
	p.calls.Add(1)
	content := req.Messages[len(req.Messages)-1].Content
	if i := strings.Index(content, "Text:\n"); i >= 0 {
		words := strings.Fields(content[i+len("Text:\n"):])
		return &backend.Response{Text: strings.Join(words[:3], " "), Usage: backend.Usage{TotalTokens: 1}}, nil
	}
	return &backend.Response{Text: "final summary", Usage: backend.Usage{TotalTokens: 1}}, nil
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Defaults()
	cfg.Tokenizer = "estimate"
	cfg.SummaryContextSize = 300
	cfg.TargetSummarySize = 20
	cfg.ChunkTokens = 100
	cfg.CachePath = filepath.Join(t.TempDir(), "cache.log")
	return cfg
}

func document() string {
	var sb strings.Builder
	for i := range 60 {
		fmt.Fprintf(&sb, "Sentence number %d has a few words. ", i)
	}
	return sb.String()
}

func TestApp_ProcessUsesPersistentCache(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	p := &countingProvider{}
	a, err := NewWithProvider(ctx, cfg, p, log)
	require.NoError(t, err)

	first, err := a.Orchestrator.Process(ctx, document())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	calls := p.calls.Load()
	require.Greater(t, calls, int32(1))
	assert.Equal(t, "final summary", first.Text)
	assert.False(t, first.Cached)

	b, err := NewWithProvider(ctx, cfg, p, log)
	require.NoError(t, err)
	defer b.Close()

	second, err := b.Orchestrator.Process(ctx, document())
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, calls, p.calls.Load(), "second run should be served from the cache")
	assert.True(t, second.Cached)
	assert.Zero(t, second.Usage.TotalTokens)
}

func TestApp_InvalidBudget(t *testing.T) {
	cfg := testConfig(t)
	cfg.SummaryContextSize = 25
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := NewWithProvider(context.Background(), cfg, &countingProvider{}, log)
	require.Error(t, err)
}

func TestApp_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Provider = "mystery"
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := New(context.Background(), cfg, log)
	require.ErrorIs(t, err, backend.ErrUnknownProvider)
}

func TestCounterFor_FallsBackToEstimate(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := counterFor("bogus", "gpt-4", log)
	assert.Equal(t, tokens.Estimator{}, c)
}
