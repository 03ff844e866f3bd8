// Package app wires configuration into a running summarization pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docsum/internal/backend"
	"github.com/dgallion1/docsum/internal/cache"
	"github.com/dgallion1/docsum/internal/config"
	"github.com/dgallion1/docsum/internal/pipeline"
	"github.com/dgallion1/docsum/internal/source"
	"github.com/dgallion1/docsum/internal/summarize"
	"github.com/dgallion1/docsum/internal/tokens"
)

// App holds the long-lived pieces shared by the server and the CLI.
type App struct {
	Client       *backend.Client
	Orchestrator *pipeline.Orchestrator
	Fetcher      *source.Fetcher
	Loader       source.Loader

	store cache.Store
}

// New builds the backend client, cache and orchestrator from cfg.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	provider, err := backend.NewProvider(backend.ProviderConfig{
		Name:    cfg.Provider,
		APIKey:  cfg.APIKey(),
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return NewWithProvider(ctx, cfg, provider, log)
}

// NewWithProvider is New with the provider supplied by the caller.
func NewWithProvider(ctx context.Context, cfg config.Config, provider backend.Provider, log *slog.Logger) (*App, error) {
	retry := backend.DefaultRetryPolicy(log)
	retry.MaxAttempts = cfg.MaxAttempts
	client := backend.NewClient(provider, backend.ClientConfig{
		Name:               cfg.Provider,
		MaxConcurrentCalls: cfg.MaxConcurrent,
		RequestsPerSecond:  cfg.RequestsPerSec,
		BreakerTimeout:     cfg.BreakerTimeout,
		Retry:              retry,
	}, log)

	summaryCounter := counterFor(cfg.Tokenizer, cfg.SummaryModel, log)
	synthesisCounter := counterFor(cfg.Tokenizer, cfg.SynthesisModel, log)

	params, err := summarize.NewParams(summaryCounter, cfg.TargetSummarySize, cfg.SummaryContextSize)
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(ctx, cfg.CachePath, cfg.CacheDSN, log)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	memo := cache.NewMemo(store, log)

	loader := source.Loader{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext}
	fetcher := source.NewFetcher(cfg.FetchTimeout, cfg.MaxFetchBytes, log)

	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Summarizer: summarize.NewSummarizer(client, summaryCounter, memo, summarize.Options{
			Model:    cfg.SummaryModel,
			FanOut:   cfg.FanOut,
			MaxDepth: cfg.MaxDepth,
		}, log),
		Synthesizer: summarize.NewSynthesizer(client, synthesisCounter, memo, cfg.SynthesisModel, cfg.SynthesisContextSize, log),
		Counter:     summaryCounter,
		Params:      params,
		Loader:      loader,
		Fetcher:     fetcher,
	}, pipeline.Settings{
		ChunkTokens:  cfg.ChunkTokens,
		Marker:       cfg.DivisionMarker,
		FanOut:       cfg.FanOut,
		WorkerCount:  cfg.WorkerCount,
		MaxQueueSize: cfg.MaxQueueSize,
		JobTTL:       cfg.JobTTL,
	}, log)

	log.Info("pipeline ready",
		"provider", cfg.Provider,
		"summary_model", cfg.SummaryModel,
		"synthesis_model", cfg.SynthesisModel,
		"target_summary_size", params.TargetSummarySize,
		"summary_input_size", params.SummaryInputSize,
	)

	return &App{
		Client:       client,
		Orchestrator: orch,
		Fetcher:      fetcher,
		Loader:       loader,
		store:        store,
	}, nil
}

// counterFor falls back to the word estimator for models tiktoken does
// not know.
func counterFor(kind, model string, log *slog.Logger) tokens.Counter {
	c, err := tokens.New(kind, model)
	if err == nil {
		return c
	}
	if errors.Is(err, tokens.ErrUnknownModel) {
		log.Warn("no tokenizer for model, estimating tokens from words", "model", model)
	} else {
		log.Warn("tokenizer unavailable, estimating tokens from words", "model", model, "error", err)
	}
	return tokens.Estimator{}
}

// Close releases the cache store.
func (a *App) Close() error {
	return a.store.Close()
}
