package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docsum/internal/backend"
	"github.com/dgallion1/docsum/internal/cache"
	"github.com/dgallion1/docsum/internal/chunker"
	"github.com/dgallion1/docsum/internal/metrics"
	"github.com/dgallion1/docsum/internal/tokens"
)

var tracer = otel.Tracer("github.com/dgallion1/docsum/internal/summarize")

const (
	DefaultMaxDepth = 8
	DefaultFanOut   = 4

	opSummarize = "summarize/v1"
)

var (
	ErrNoProgress    = errors.New("summaries are not shorter than their input")
	ErrDepthExceeded = errors.New("summarization recursion too deep")
)

// Origin says where a result's text came from.
type Origin int

const (
	// OriginPassthrough marks text that was already short enough and is
	// returned unchanged.
	OriginPassthrough Origin = iota
	// OriginGenerated marks text produced by the backend.
	OriginGenerated
)

func (o Origin) String() string {
	if o == OriginGenerated {
		return "generated"
	}
	return "passthrough"
}

// Result is the output of Summarize or Synthesize. Usage counts only
// the backend calls made for this result; cached parts cost nothing.
type Result struct {
	Text   string        `cbor:"1,keyasint"`
	Origin Origin        `cbor:"2,keyasint"`
	Usage  backend.Usage `cbor:"3,keyasint"`
	Cached bool          `cbor:"-"`
}

// Options tunes a Summarizer. Zero values take the defaults.
type Options struct {
	Model    string
	FanOut   int
	MaxDepth int
}

// Summarizer condenses text to a target token size, splitting and
// recursing when the text does not fit a single backend call.
type Summarizer struct {
	backend  backend.Completer
	counter  tokens.Counter
	memo     *cache.Memo
	model    string
	fanOut   int
	maxDepth int
	log      *slog.Logger
}

func NewSummarizer(b backend.Completer, counter tokens.Counter, memo *cache.Memo, opts Options, log *slog.Logger) *Summarizer {
	if opts.FanOut <= 0 {
		opts.FanOut = DefaultFanOut
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	return &Summarizer{
		backend:  b,
		counter:  counter,
		memo:     memo,
		model:    opts.Model,
		fanOut:   opts.FanOut,
		maxDepth: opts.MaxDepth,
		log:      log.With("model", opts.Model),
	}
}

// Summarize returns text unchanged when it already fits the target, one
// backend summary when it fits the input budget, and otherwise the
// summary of the concatenated summaries of its sections. Identical calls
// are served from the memo.
func (s *Summarizer) Summarize(ctx context.Context, text string, p Params, marker string) (Result, error) {
	return s.summarize(ctx, text, p, marker, 0)
}

func (s *Summarizer) summarize(ctx context.Context, text string, p Params, marker string, depth int) (Result, error) {
	if depth > s.maxDepth {
		return Result{}, fmt.Errorf("%w: depth %d", ErrDepthExceeded, depth)
	}

	n := s.counter.Count(text)
	if n <= p.TargetSummarySize {
		metrics.SummarizeCallsTotal.WithLabelValues("passthrough").Inc()
		return Result{Text: text, Origin: OriginPassthrough}, nil
	}

	ctx, span := tracer.Start(ctx, "summarize")
	defer span.End()
	span.SetAttributes(attribute.Int("summarize.tokens", n), attribute.Int("summarize.depth", depth))

	s.log.Debug("summarizing", "tokens", n, "depth", depth, "preview", preview(text, 60))

	args := []any{text, p, marker, s.model}
	res, cached, err := cache.Do(ctx, s.memo, opSummarize, args, func(ctx context.Context) (Result, error) {
		if n <= p.SummaryInputSize {
			return s.generate(ctx, text, p, n)
		}
		return s.recurse(ctx, text, p, marker, n, depth)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if cached {
		res.Cached = true
		res.Usage = backend.Usage{}
		span.SetAttributes(attribute.Bool("summarize.cached", true))
	}
	return res, nil
}

func (s *Summarizer) generate(ctx context.Context, text string, p Params, n int) (Result, error) {
	metrics.SummarizeCallsTotal.WithLabelValues("direct").Inc()

	resp, err := s.backend.Complete(ctx, backend.Request{
		Model:     s.model,
		Messages:  SummaryMessages(text, p.TargetSummarySize),
		MaxTokens: p.TargetSummarySize,
	})
	if err != nil {
		return Result{}, fmt.Errorf("summarize %d-token text: %w", n, err)
	}

	s.log.Debug("summarized",
		"input_tokens", n,
		"summary_tokens", s.counter.Count(resp.Text),
		"preview", preview(resp.Text, 250),
	)
	return Result{Text: resp.Text, Origin: OriginGenerated, Usage: resp.Usage}, nil
}

// recurse summarizes every section in parallel, joins the summaries in
// section order and summarizes the result.
func (s *Summarizer) recurse(ctx context.Context, text string, p Params, marker string, n, depth int) (Result, error) {
	metrics.SummarizeCallsTotal.WithLabelValues("recursive").Inc()

	sections := chunker.Split(s.counter, text, p.SummaryInputSize, marker)
	s.log.Info("splitting oversized text", "tokens", n, "sections", len(sections), "depth", depth)

	// A single word over budget cannot be split further. Recursing on it
	// would re-enter the memo under the key still being computed.
	if len(sections) == 1 && sections[0].Text == strings.TrimSpace(text) {
		s.log.Warn("text cannot be split below the input budget, sending it whole",
			"tokens", n, "input_budget", p.SummaryInputSize)
		return s.generate(ctx, text, p, n)
	}

	results := make([]Result, len(sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i, sec := range sections {
		g.Go(func() error {
			r, err := s.summarize(gctx, sec.Text, p, marker, depth+1)
			if err != nil {
				return fmt.Errorf("section %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var usage backend.Usage
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Text
		usage = usage.Add(r.Usage)
	}
	joined := strings.Join(parts, "\n\n")

	if m := s.counter.Count(joined); m >= n {
		return Result{}, fmt.Errorf("%w: %d sections of %d tokens gave %d tokens", ErrNoProgress, len(sections), n, m)
	}

	r, err := s.summarize(ctx, joined, p, marker, depth+1)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: r.Text, Origin: OriginGenerated, Usage: usage.Add(r.Usage)}, nil
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
