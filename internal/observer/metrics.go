package observer

import (
	"sync"
	"time"

	"github.com/hochfrequenz/cc-boss/internal/domain"
)

// Metrics holds aggregated session counters for finished attempts
type Metrics struct {
	TotalAttempts int           `json:"total_attempts"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	TimedOut      int           `json:"timed_out"`
	TotalCostUSD  float64       `json:"total_cost_usd"`
	TokensIn      int           `json:"tokens_in"`
	TokensOut     int           `json:"tokens_out"`
	AvgDuration   time.Duration `json:"avg_duration_ns"`
}

type attempt struct {
	taskID     string
	outcome    domain.Outcome
	finishedAt time.Time
}

// Tracker collects per-attempt outcomes for the running session. It only
// sees attempts from this process; historical totals live in the task store.
type Tracker struct {
	mu       sync.RWMutex
	attempts []attempt
}

// NewTracker creates an empty Tracker
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordAttempt records one finished runner attempt
func (t *Tracker) RecordAttempt(taskID string, out domain.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = append(t.attempts, attempt{
		taskID:     taskID,
		outcome:    out,
		finishedAt: time.Now(),
	})
}

// Snapshot returns aggregated metrics
func (t *Tracker) Snapshot() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var m Metrics
	var totalDuration time.Duration

	for _, a := range t.attempts {
		m.TotalAttempts++
		switch {
		case a.outcome.Success:
			m.Succeeded++
		case a.outcome.TimedOut:
			m.TimedOut++
		default:
			m.Failed++
		}
		m.TotalCostUSD += a.outcome.CostUSD
		m.TokensIn += a.outcome.TokensIn
		m.TokensOut += a.outcome.TokensOut
		totalDuration += a.outcome.Duration
	}

	if m.TotalAttempts > 0 {
		m.AvgDuration = totalDuration / time.Duration(m.TotalAttempts)
	}
	return m
}

// RecentTasks returns ids of tasks with attempts finished in the window
func (t *Tracker) RecentTasks(since time.Duration) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-since)
	var ids []string
	for _, a := range t.attempts {
		if a.finishedAt.After(cutoff) {
			ids = append(ids, a.taskID)
		}
	}
	return ids
}
