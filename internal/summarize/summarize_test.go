package summarize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docsum/internal/backend"
	"github.com/dgallion1/docsum/internal/cache"
	"github.com/dgallion1/docsum/internal/tokens"
)

var words = tokens.Estimator{Ratio: 1}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend records requests and answers with reply(text), where text
// is the document part of a summarization prompt.
type fakeBackend struct {
	mu       sync.Mutex
	requests []backend.Request
	reply    func(text string) (string, error)
}

func (f *fakeBackend) Complete(_ context.Context, req backend.Request) (*backend.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	content := req.Messages[len(req.Messages)-1].Content
	text := content
	if i := strings.Index(content, "Text:\n"); i >= 0 {
		text = content[i+len("Text:\n"):]
	}
	out, err := f.reply(text)
	if err != nil {
		return nil, err
	}
	return &backend.Response{Text: out, Model: req.Model, Usage: backend.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}}, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func firstWord(text string) (string, error) {
	return strings.Fields(text)[0], nil
}

// numberedText builds sections of size words each starting with w<i>
// and no division marker.
func numberedText(sections, size int) string {
	var parts []string
	for i := 0; i < sections; i++ {
		parts = append(parts, fmt.Sprintf("w%d", i))
		for j := 1; j < size; j++ {
			parts = append(parts, "filler")
		}
	}
	return strings.Join(parts, " ")
}

func newSummarizer(b backend.Completer, memo *cache.Memo, opts Options) *Summarizer {
	opts.Model = "test-model"
	return NewSummarizer(b, words, memo, opts, discardLogger())
}

var smallParams = Params{TargetSummarySize: 10, SummaryInputSize: 50}

func TestSummarize_ShortTextIsReturnedUnchanged(t *testing.T) {
	fb := &fakeBackend{reply: firstWord}
	s := newSummarizer(fb, nil, Options{})

	text := "a short text of seven words here"
	res, err := s.Summarize(context.Background(), text, smallParams, ".")
	require.NoError(t, err)

	assert.Equal(t, text, res.Text)
	assert.Equal(t, OriginPassthrough, res.Origin)
	assert.Equal(t, 0, fb.calls())
}

func TestSummarize_SingleCallWhenInputFits(t *testing.T) {
	fb := &fakeBackend{reply: firstWord}
	s := newSummarizer(fb, nil, Options{})

	res, err := s.Summarize(context.Background(), numberedText(1, 30), smallParams, ".")
	require.NoError(t, err)

	assert.Equal(t, "w0", res.Text)
	assert.Equal(t, OriginGenerated, res.Origin)
	assert.Equal(t, 12, res.Usage.TotalTokens)
	require.Equal(t, 1, fb.calls())
	assert.Equal(t, "test-model", fb.requests[0].Model)
	assert.Equal(t, 10, fb.requests[0].MaxTokens)
}

func TestSummarize_RecursesAndKeepsSectionOrder(t *testing.T) {
	fb := &fakeBackend{reply: firstWord}
	s := newSummarizer(fb, nil, Options{FanOut: 3})

	res, err := s.Summarize(context.Background(), numberedText(4, 50), smallParams, ".")
	require.NoError(t, err)

	assert.Equal(t, "w0\n\nw1\n\nw2\n\nw3", res.Text)
	assert.Equal(t, OriginGenerated, res.Origin)
	assert.Equal(t, 4, fb.calls())
	assert.Equal(t, 4*12, res.Usage.TotalTokens)
}

func TestSummarize_RepeatedCallHitsCache(t *testing.T) {
	fb := &fakeBackend{reply: firstWord}
	memo := cache.NewMemo(cache.NewMemoryStore(), discardLogger())
	s := newSummarizer(fb, memo, Options{})
	text := numberedText(4, 50)

	first, err := s.Summarize(context.Background(), text, smallParams, ".")
	require.NoError(t, err)
	callsAfterFirst := fb.calls()

	second, err := s.Summarize(context.Background(), text, smallParams, ".")
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	assert.True(t, second.Cached)
	assert.Zero(t, second.Usage.TotalTokens)
	assert.Equal(t, callsAfterFirst, fb.calls())

	// A different budget is a different computation.
	_, err = s.Summarize(context.Background(), text, Params{TargetSummarySize: 5, SummaryInputSize: 50}, ".")
	require.NoError(t, err)
	assert.Greater(t, fb.calls(), callsAfterFirst)
}

func TestSummarize_SectionSummariesAreCachedIndividually(t *testing.T) {
	fb := &fakeBackend{reply: firstWord}
	memo := cache.NewMemo(cache.NewMemoryStore(), discardLogger())
	s := newSummarizer(fb, memo, Options{})

	_, err := s.Summarize(context.Background(), numberedText(1, 50), smallParams, ".")
	require.NoError(t, err)
	require.Equal(t, 1, fb.calls())

	// The first section of this text is the text summarized above.
	text := numberedText(1, 50) + " v0 " + strings.TrimSpace(strings.Repeat("filler ", 49))
	res, err := s.Summarize(context.Background(), text, smallParams, ".")
	require.NoError(t, err)
	assert.Equal(t, "w0\n\nv0", res.Text)
	assert.Equal(t, 2, fb.calls())
}

func TestSummarize_UnsplittableWordWithMemo(t *testing.T) {
	fb := &fakeBackend{reply: func(text string) (string, error) { return text[:3], nil }}
	memo := cache.NewMemo(cache.NewMemoryStore(), discardLogger())
	s := NewSummarizer(fb, tokens.Estimator{Ratio: 10}, memo, Options{Model: "test-model"}, discardLogger())

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.Summarize(context.Background(), strings.Repeat("x", 100), Params{TargetSummarySize: 2, SummaryInputSize: 5}, ".")
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, "xxx", out.res.Text)
		assert.Equal(t, 1, fb.calls())
	case <-time.After(3 * time.Second):
		t.Fatalf("Summarize did not return for a single over-budget word (calls=%d)", fb.calls())
	}
}

func TestSummarize_UnsplittableWordWithoutMemo(t *testing.T) {
	fb := &fakeBackend{reply: func(text string) (string, error) { return text[:3], nil }}
	s := NewSummarizer(fb, tokens.Estimator{Ratio: 10}, nil, Options{Model: "test-model"}, discardLogger())

	res, err := s.Summarize(context.Background(), strings.Repeat("x", 100), Params{TargetSummarySize: 2, SummaryInputSize: 5}, ".")
	require.NoError(t, err)
	assert.Equal(t, "xxx", res.Text)
	assert.Equal(t, 1, fb.calls())
}

func TestSummarize_FailsWithoutProgress(t *testing.T) {
	echo := func(text string) (string, error) { return text, nil }
	fb := &fakeBackend{reply: echo}
	s := newSummarizer(fb, nil, Options{})

	_, err := s.Summarize(context.Background(), numberedText(4, 50), smallParams, ".")
	require.ErrorIs(t, err, ErrNoProgress)
}

func TestSummarize_DepthIsBounded(t *testing.T) {
	twenty := func(string) (string, error) { return strings.TrimSpace(strings.Repeat("x ", 20)), nil }
	fb := &fakeBackend{reply: twenty}

	shallow := newSummarizer(fb, nil, Options{MaxDepth: 1})
	_, err := shallow.Summarize(context.Background(), numberedText(4, 50), smallParams, ".")
	require.ErrorIs(t, err, ErrDepthExceeded)

	deep := newSummarizer(fb, nil, Options{})
	res, err := deep.Summarize(context.Background(), numberedText(4, 50), smallParams, ".")
	require.NoError(t, err)
	assert.Equal(t, 20, words.Count(res.Text))
}

func TestSummarize_SectionErrorFailsTheLevel(t *testing.T) {
	boom := errors.New("backend down")
	fb := &fakeBackend{reply: func(text string) (string, error) {
		if strings.HasPrefix(text, "w2") {
			return "", boom
		}
		return firstWord(text)
	}}
	s := newSummarizer(fb, nil, Options{})

	_, err := s.Summarize(context.Background(), numberedText(4, 50), smallParams, ".")
	require.ErrorIs(t, err, boom)
}

func TestNewParams(t *testing.T) {
	overhead := words.CountMessages(SummaryMessages("", 500))

	p, err := NewParams(words, 500, 4097)
	require.NoError(t, err)
	assert.Equal(t, 500, p.TargetSummarySize)
	assert.Equal(t, 4097-overhead-500, p.SummaryInputSize)

	_, err = NewParams(words, 500, 500+overhead)
	require.ErrorIs(t, err, ErrInvalidParams)

	_, err = NewParams(words, 0, 4097)
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestSynthesize(t *testing.T) {
	fb := &fakeBackend{reply: func(string) (string, error) { return "final", nil }}
	memo := cache.NewMemo(cache.NewMemoryStore(), discardLogger())
	syn := NewSynthesizer(fb, words, memo, "big-model", 0, discardLogger())

	res, err := syn.Synthesize(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, "final", res.Text)
	assert.Equal(t, OriginGenerated, res.Origin)

	require.Equal(t, 1, fb.calls())
	req := fb.requests[0]
	assert.Equal(t, "big-model", req.Model)
	prompt := req.Messages[0].Content
	assert.Contains(t, prompt, "generated 2 summaries")
	assert.Contains(t, prompt, "Summary 1: alpha")
	assert.Contains(t, prompt, "Summary 2: beta")
	assert.Less(t, strings.Index(prompt, "Summary 1"), strings.Index(prompt, "Summary 2"))

	again, err := syn.Synthesize(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, 1, fb.calls())
}

func TestSynthesize_RejectsOversizedPromptWithoutCalling(t *testing.T) {
	fb := &fakeBackend{reply: func(string) (string, error) { return "final", nil }}
	syn := NewSynthesizer(fb, words, nil, "big-model", 100, discardLogger())

	big := strings.Repeat("word ", 80)
	_, err := syn.Synthesize(context.Background(), []string{big, big})
	require.ErrorIs(t, err, ErrPromptTooLarge)
	assert.Equal(t, 0, fb.calls())
}

func TestSynthesize_NoSummaries(t *testing.T) {
	fb := &fakeBackend{reply: firstWord}
	syn := NewSynthesizer(fb, words, nil, "big-model", 0, discardLogger())

	_, err := syn.Synthesize(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoSummaries)
	assert.Equal(t, 0, fb.calls())
}
