package backend

import (
	"sort"
	"sync"
	"time"
)

type sample struct {
	at         time.Time
	durationMs int64
	tokens     int
	failed     bool
}

// StatsSnapshot aggregates the calls seen inside the rolling window.
type StatsSnapshot struct {
	Calls  int     `json:"calls"`
	Errors int     `json:"errors"`
	Tokens int     `json:"tokens"`
	MinMs  int64   `json:"min_ms"`
	MaxMs  int64   `json:"max_ms"`
	AvgMs  float64 `json:"avg_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

// Stats keeps per-model latency and token samples for a rolling window.
type Stats struct {
	mu      sync.Mutex
	byModel map[string][]sample
	maxAge  time.Duration
	now     func() time.Time
}

func NewStats(maxAge time.Duration) *Stats {
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &Stats{
		byModel: make(map[string][]sample),
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Record adds one completed attempt. A nil error counts as success.
func (s *Stats) Record(model string, d time.Duration, tokens int, err error) {
	ms := d.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	samples := prune(s.byModel[model], now.Add(-s.maxAge))
	s.byModel[model] = append(samples, sample{
		at:         now,
		durationMs: ms,
		tokens:     tokens,
		failed:     err != nil,
	})
}

// Snapshot returns the aggregate for every model with samples in the window.
func (s *Stats) Snapshot() map[string]StatsSnapshot {
	cutoff := s.now().Add(-s.maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]StatsSnapshot, len(s.byModel))
	for model, samples := range s.byModel {
		samples = prune(samples, cutoff)
		s.byModel[model] = samples
		if len(samples) == 0 {
			delete(s.byModel, model)
			continue
		}
		out[model] = aggregate(samples)
	}
	return out
}

func aggregate(samples []sample) StatsSnapshot {
	snap := StatsSnapshot{Calls: len(samples)}
	values := make([]int64, 0, len(samples))
	var sum int64
	for _, sm := range samples {
		values = append(values, sm.durationMs)
		sum += sm.durationMs
		snap.Tokens += sm.tokens
		if sm.failed {
			snap.Errors++
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	snap.MinMs = values[0]
	snap.MaxMs = values[len(values)-1]
	snap.AvgMs = float64(sum) / float64(len(values))
	snap.P50Ms = percentile(values, 50)
	snap.P95Ms = percentile(values, 95)
	snap.P99Ms = percentile(values, 99)
	return snap
}

// prune drops samples older than cutoff, reusing the backing array.
func prune(samples []sample, cutoff time.Time) []sample {
	kept := samples[:0]
	for _, sm := range samples {
		if !sm.at.Before(cutoff) {
			kept = append(kept, sm)
		}
	}
	return kept
}

func percentile(sorted []int64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if pct <= 0 {
		return float64(sorted[0])
	}
	if pct >= 100 {
		return float64(sorted[len(sorted)-1])
	}

	index := float64(len(sorted)-1) * pct / 100.0
	lower := int(index)
	if lower+1 >= len(sorted) {
		return float64(sorted[lower])
	}
	weight := index - float64(lower)
	lo := float64(sorted[lower])
	hi := float64(sorted[lower+1])
	return lo + (hi-lo)*weight
}
