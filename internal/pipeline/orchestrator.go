// Package pipeline turns documents into summaries: synchronously through
// Process, or asynchronously as queued jobs run by a worker pool.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgallion1/docsum/internal/source"
	"github.com/dgallion1/docsum/internal/summarize"
	"github.com/dgallion1/docsum/internal/tokens"
)

// Settings controls splitting, fan-out and the job queue.
type Settings struct {
	ChunkTokens  int    // budget of the top-level sections
	Marker       string // preferred section boundary
	FanOut       int    // sections summarized at once
	WorkerCount  int
	MaxQueueSize int
	JobTTL       time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.ChunkTokens <= 0 {
		s.ChunkTokens = 3000
	}
	if s.FanOut <= 0 {
		s.FanOut = summarize.DefaultFanOut
	}
	if s.WorkerCount <= 0 {
		s.WorkerCount = 2
	}
	if s.MaxQueueSize <= 0 {
		s.MaxQueueSize = 100
	}
	if s.JobTTL <= 0 {
		s.JobTTL = time.Hour
	}
	return s
}

// Orchestrator manages the summarization pipeline.
type Orchestrator struct {
	summarizer  *summarize.Summarizer
	synthesizer *summarize.Synthesizer
	counter     tokens.Counter
	params      summarize.Params
	settings    Settings

	loader  source.Loader
	fetcher *source.Fetcher

	jobs  *JobStore
	queue chan *Job
	log   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the collaborators an Orchestrator drives.
type Deps struct {
	Summarizer  *summarize.Summarizer
	Synthesizer *summarize.Synthesizer
	Counter     tokens.Counter
	Params      summarize.Params
	Loader      source.Loader
	Fetcher     *source.Fetcher
}

func NewOrchestrator(deps Deps, settings Settings, log *slog.Logger) *Orchestrator {
	settings = settings.withDefaults()
	return &Orchestrator{
		summarizer:  deps.Summarizer,
		synthesizer: deps.Synthesizer,
		counter:     deps.Counter,
		params:      deps.Params,
		settings:    settings,
		loader:      deps.Loader,
		fetcher:     deps.Fetcher,
		jobs:        NewJobStore(settings.JobTTL),
		queue:       make(chan *Job, settings.MaxQueueSize),
		log:         log,
	}
}

// Start launches worker goroutines.
func (o *Orchestrator) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	for range o.settings.WorkerCount {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w := NewWorker(o, o.log)
			for {
				select {
				case <-workerCtx.Done():
					return
				case job, ok := <-o.queue:
					if !ok {
						return
					}
					w.Process(workerCtx, job)
				}
			}
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				o.jobs.Cleanup()
			}
		}
	}()
}

// Stop gracefully shuts down the pipeline.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	close(o.queue)
	o.wg.Wait()
}

// Submit queues a job for processing.
func (o *Orchestrator) Submit(job *Job) error {
	o.jobs.Put(job)
	select {
	case o.queue <- job:
		return nil
	default:
		job.SetStatus(StatusFailed, "queue_full")
		return fmt.Errorf("job queue is full (%d)", o.settings.MaxQueueSize)
	}
}

// GetJob returns a job by ID.
func (o *Orchestrator) GetJob(id string) *Job {
	return o.jobs.Get(id)
}

// QueueDepth returns current queue depth.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Params returns the summarization budget in use.
func (o *Orchestrator) Params() summarize.Params {
	return o.params
}
