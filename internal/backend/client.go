package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/dgallion1/docsum/internal/metrics"
)

var tracer = otel.Tracer("github.com/dgallion1/docsum/internal/backend")

// ClientConfig controls the resilience wrappers around a Provider.
type ClientConfig struct {
	Name               string  // provider name for logs and metrics
	MaxConcurrentCalls int     // in-flight attempts across all callers
	RequestsPerSecond  float64 // 0 disables rate limiting
	Burst              int
	BreakerTimeout     time.Duration
	Retry              RetryPolicy
}

// Client is the summarization backend client. Each Complete is one
// logical call: retried per the policy, gated by the circuit breaker,
// rate limit and concurrency bound.
type Client struct {
	provider Provider
	name     string
	retry    RetryPolicy
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	stats    *Stats
	log      *slog.Logger
}

func NewClient(p Provider, cfg ClientConfig, log *slog.Logger) *Client {
	if cfg.Name == "" {
		cfg.Name = "backend"
	}
	if cfg.MaxConcurrentCalls <= 0 {
		cfg.MaxConcurrentCalls = 8
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}
	if cfg.Retry.Log == nil {
		cfg.Retry.Log = log
	}

	c := &Client{
		provider: p,
		name:     cfg.Name,
		retry:    cfg.Retry,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls)),
		stats:    NewStats(time.Hour),
		log:      log.With("provider", cfg.Name),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// Caller mistakes say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Stats exposes rolling per-model latency numbers.
func (c *Client) Stats() *Stats { return c.stats }

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Complete issues one logical backend call.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "backend.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("backend.provider", c.name),
		attribute.String("backend.model", req.Model),
		attribute.Int("backend.messages", len(req.Messages)),
	)

	var resp *Response
	err := c.retry.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			metrics.BackendRetriesTotal.WithLabelValues(c.name).Inc()
		}
		r, err := c.attempt(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("backend.total_tokens", resp.Usage.TotalTokens))
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	out, err := c.breaker.Execute(func() (any, error) {
		return c.provider.Complete(ctx, req)
	})
	duration := time.Since(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s", ErrCircuitOpen, c.breaker.State())
	}
	metrics.RecordBackendCall(c.name, req.Model, err, duration)
	if err != nil {
		c.stats.Record(req.Model, duration, 0, err)
		return nil, err
	}

	resp := out.(*Response)
	if resp == nil || resp.Text == "" {
		c.stats.Record(req.Model, duration, 0, ErrEmptyResponse)
		return nil, ErrEmptyResponse
	}
	c.stats.Record(req.Model, duration, resp.Usage.TotalTokens, nil)
	metrics.RecordTokens(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	c.log.Debug("backend call completed",
		"model", req.Model,
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp, nil
}
