package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dgallion1/docsum/internal/backend"
	"github.com/dgallion1/docsum/internal/cache"
	"github.com/dgallion1/docsum/internal/tokens"
)

const (
	DefaultSynthesisContext = 8192

	opSynthesize = "synthesize/v1"
)

var (
	ErrNoSummaries    = errors.New("no summaries to synthesize")
	ErrPromptTooLarge = errors.New("synthesis prompt exceeds context limit")
)

// Synthesizer merges intermediate summaries with a single call to the
// higher-tier model.
type Synthesizer struct {
	backend     backend.Completer
	counter     tokens.Counter
	memo        *cache.Memo
	model       string
	contextSize int
	log         *slog.Logger
}

func NewSynthesizer(b backend.Completer, counter tokens.Counter, memo *cache.Memo, model string, contextSize int, log *slog.Logger) *Synthesizer {
	if contextSize <= 0 {
		contextSize = DefaultSynthesisContext
	}
	return &Synthesizer{
		backend:     b,
		counter:     counter,
		memo:        memo,
		model:       model,
		contextSize: contextSize,
		log:         log.With("model", model),
	}
}

// Synthesize merges summaries, in order, into one. A prompt larger than
// the context limit fails before any backend call and is never retried.
func (s *Synthesizer) Synthesize(ctx context.Context, summaries []string) (Result, error) {
	if len(summaries) == 0 {
		return Result{}, ErrNoSummaries
	}

	msgs := SynthesisMessages(summaries)
	n := s.counter.CountMessages(msgs)
	if n > s.contextSize {
		return Result{}, fmt.Errorf("%w: %d tokens for %d summaries, limit %d",
			ErrPromptTooLarge, n, len(summaries), s.contextSize)
	}

	ctx, span := tracer.Start(ctx, "synthesize")
	defer span.End()
	span.SetAttributes(attribute.Int("synthesize.summaries", len(summaries)), attribute.Int("synthesize.prompt_tokens", n))

	s.log.Info("synthesizing summaries", "summaries", len(summaries), "prompt_tokens", n)

	args := []any{summaries, s.model}
	res, cached, err := cache.Do(ctx, s.memo, opSynthesize, args, func(ctx context.Context) (Result, error) {
		resp, err := s.backend.Complete(ctx, backend.Request{Model: s.model, Messages: msgs})
		if err != nil {
			return Result{}, fmt.Errorf("synthesize %d summaries: %w", len(summaries), err)
		}
		return Result{Text: resp.Text, Origin: OriginGenerated, Usage: resp.Usage}, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if cached {
		res.Cached = true
		res.Usage = backend.Usage{}
	}
	return res, nil
}
