package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the state of a summarization job.
type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusLoading      JobStatus = "loading"
	StatusSummarizing  JobStatus = "summarizing"
	StatusSynthesizing JobStatus = "synthesizing"
	StatusCompleted    JobStatus = "completed"
	StatusPartial      JobStatus = "partial"
	StatusFailed       JobStatus = "failed"
)

// Input names the document a job summarizes. Exactly one of Data, URL or
// Text is expected; Filename selects the loader for Data.
type Input struct {
	Filename string
	Data     []byte
	URL      string
	Text     string
}

// Job tracks the state of a single document summarization.
type Job struct {
	mu sync.Mutex

	ID     string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`
	Source string    `json:"source"`
	Title  string    `json:"title"`

	Progress Progress `json:"progress"`
	Summary  *Summary `json:"summary,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	input  Input
	errors []string
}

// Progress tracks section-level progress.
type Progress struct {
	SectionsTotal   int      `json:"sections_total"`
	SectionsDone    int      `json:"sections_done"`
	SectionsDropped int      `json:"sections_dropped"`
	Errors          []string `json:"errors"`
}

// NewJob creates a queued job with a time-ordered ID.
func NewJob(in Input) (*Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	src := in.Filename
	switch {
	case in.URL != "":
		src = in.URL
	case src == "" && in.Text != "":
		src = "inline"
	}
	now := time.Now()
	return &Job{
		ID:        id.String(),
		Status:    StatusQueued,
		Phase:     "queued",
		Source:    src,
		CreatedAt: now,
		UpdatedAt: now,
		input:     in,
	}, nil
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes jobs idle for longer than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		if now.Sub(job.updatedAt()) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

func (j *Job) updatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.UpdatedAt
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

func (j *Job) SetTitle(title string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Title = title
}

func (j *Job) SetSectionsTotal(n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.SectionsTotal = n
	j.UpdatedAt = time.Now()
}

// SectionDone counts a finished section; a non-nil err marks it dropped.
func (j *Job) SectionDone(index int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.SectionsDone++
	if err != nil {
		j.Progress.SectionsDropped++
		j.errors = append(j.errors, fmt.Sprintf("section %d: %s", index, err))
		j.Progress.Errors = j.errors
	}
	j.UpdatedAt = time.Now()
}

// SetSummary stores the result.
func (j *Job) SetSummary(s Summary) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Summary = &s
	j.UpdatedAt = time.Now()
}

// Input returns what the job was submitted with.
func (j *Job) Input() Input {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.input
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID        string    `json:"job_id"`
	Status    JobStatus `json:"status"`
	Phase     string    `json:"phase"`
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Progress  Progress  `json:"progress"`
	Summary   *Summary  `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)

	var sum *Summary
	if j.Summary != nil {
		cp := *j.Summary
		cp.Dropped = append([]int(nil), j.Summary.Dropped...)
		sum = &cp
	}
	return JobSnapshot{
		ID:     j.ID,
		Status: j.Status,
		Phase:  j.Phase,
		Source: j.Source,
		Title:  j.Title,
		Progress: Progress{
			SectionsTotal:   j.Progress.SectionsTotal,
			SectionsDone:    j.Progress.SectionsDone,
			SectionsDropped: j.Progress.SectionsDropped,
			Errors:          errs,
		},
		Summary:   sum,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}
