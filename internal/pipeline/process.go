package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docsum/internal/backend"
	"github.com/dgallion1/docsum/internal/chunker"
	"github.com/dgallion1/docsum/internal/metrics"
)

var (
	ErrEmptyDocument     = errors.New("document has no text")
	ErrAllSectionsFailed = errors.New("every section failed to summarize")
)

// Summary is the outcome of processing one document. Dropped lists the
// sections whose summaries failed and were left out of the synthesis.
type Summary struct {
	Text     string        `json:"text"`
	Sections int           `json:"sections"`
	Dropped  []int         `json:"dropped"`
	Partial  bool          `json:"partial"`
	Usage    backend.Usage `json:"usage"`
	Cached   bool          `json:"cached"`
}

// progress receives per-document updates. *Job implements it.
type progress interface {
	SetStatus(status JobStatus, phase string)
	SetSectionsTotal(n int)
	SectionDone(index int, err error)
}

type noProgress struct{}

func (noProgress) SetStatus(JobStatus, string) {}
func (noProgress) SetSectionsTotal(int)        {}
func (noProgress) SectionDone(int, error)      {}

// Process summarizes a document: split into large sections, summarize
// them in parallel, then synthesize the section summaries in order.
//
// A section that fails is logged and dropped; the rest still reach the
// synthesis and the Summary is marked partial. Only when every section
// fails does Process return ErrAllSectionsFailed.
func (o *Orchestrator) Process(ctx context.Context, text string) (Summary, error) {
	return o.process(ctx, text, noProgress{})
}

func (o *Orchestrator) process(ctx context.Context, text string, prog progress) (Summary, error) {
	if strings.TrimSpace(text) == "" {
		return Summary{}, ErrEmptyDocument
	}

	sections := chunker.Split(o.counter, text, o.settings.ChunkTokens, o.settings.Marker)
	prog.SetSectionsTotal(len(sections))
	o.log.Info("split document", "sections", len(sections), "chunk_tokens", o.settings.ChunkTokens)

	texts := make([]string, len(sections))
	usages := make([]backend.Usage, len(sections))
	errs := make([]error, len(sections))
	cached := make([]bool, len(sections))

	// Plain group: one failing section must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(o.settings.FanOut)
	for i, sec := range sections {
		g.Go(func() error {
			res, err := o.summarizer.Summarize(ctx, sec.Text, o.params, o.settings.Marker)
			if err != nil {
				errs[i] = err
			} else {
				texts[i] = res.Text
				usages[i] = res.Usage
				cached[i] = res.Cached
			}
			prog.SectionDone(i, err)
			return nil
		})
	}
	_ = g.Wait()

	var (
		summaries []string
		dropped   []int
		usage     backend.Usage
		allCached = true
	)
	for i := range sections {
		if errs[i] != nil {
			o.log.Error("section summary failed, dropping it", "section", i, "error", errs[i])
			metrics.SectionsDroppedTotal.Inc()
			dropped = append(dropped, i)
			continue
		}
		summaries = append(summaries, texts[i])
		usage = usage.Add(usages[i])
		allCached = allCached && cached[i]
	}

	if len(summaries) == 0 {
		return Summary{Sections: len(sections), Dropped: dropped},
			fmt.Errorf("%w: %w", ErrAllSectionsFailed, errors.Join(errs...))
	}

	prog.SetStatus(StatusSynthesizing, "synthesizing")
	res, err := o.synthesizer.Synthesize(ctx, summaries)
	if err != nil {
		return Summary{Sections: len(sections), Dropped: dropped}, fmt.Errorf("synthesize: %w", err)
	}

	sum := Summary{
		Text:     res.Text,
		Sections: len(sections),
		Dropped:  dropped,
		Partial:  len(dropped) > 0,
		Usage:    usage.Add(res.Usage),
		Cached:   allCached && res.Cached,
	}
	o.log.Info("document summarized",
		"sections", sum.Sections,
		"dropped", len(dropped),
		"total_tokens", sum.Usage.TotalTokens,
	)
	return sum, nil
}
