package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docsum/internal/metrics"
	"github.com/dgallion1/docsum/internal/source"
)

// Worker processes a single summarization job.
type Worker struct {
	orch *Orchestrator
	log  *slog.Logger
}

func NewWorker(orch *Orchestrator, log *slog.Logger) *Worker {
	return &Worker{orch: orch, log: log}
}

// Process loads the job's document, summarizes it and records the result.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "source", job.Source)

	job.SetStatus(StatusLoading, "loading")
	doc, err := w.load(ctx, job.Input())
	if err != nil {
		log.Error("load failed", "error", err)
		job.AddError(fmt.Sprintf("load: %s", err))
		job.SetStatus(StatusFailed, "loading")
		metrics.DocumentsTotal.WithLabelValues(string(StatusFailed)).Inc()
		return
	}
	job.SetTitle(doc.Title)
	log.Info("document loaded", "title", doc.Title, "pages", doc.Pages, "bytes", len(doc.Text))

	job.SetStatus(StatusSummarizing, "summarizing")
	sum, err := w.orch.process(ctx, doc.Text, job)
	if err != nil {
		log.Error("summarization failed", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "summarizing")
		metrics.DocumentsTotal.WithLabelValues(string(StatusFailed)).Inc()
		return
	}

	job.SetSummary(sum)
	status := StatusCompleted
	if sum.Partial {
		status = StatusPartial
		log.Warn("summary is partial", "dropped_sections", sum.Dropped)
	}
	job.SetStatus(status, "done")
	metrics.DocumentsTotal.WithLabelValues(string(status)).Inc()
	log.Info("job finished", "status", status, "total_tokens", sum.Usage.TotalTokens)
}

func (w *Worker) load(ctx context.Context, in Input) (source.Document, error) {
	switch {
	case in.URL != "":
		if w.orch.fetcher == nil {
			return source.Document{}, errors.New("url fetching is disabled")
		}
		return w.orch.fetcher.Fetch(ctx, in.URL)
	case len(in.Data) > 0:
		return w.orch.loader.Load(in.Filename, bytes.NewReader(in.Data))
	case in.Text != "":
		return source.Document{Title: in.Filename, Text: in.Text}, nil
	default:
		return source.Document{}, source.ErrNoInput
	}
}
