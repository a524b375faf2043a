package domain

import "time"

// Task represents one natural-language unit of work for a coding agent
type Task struct {
	ID            string
	Prompt        string
	Priority      int // higher = claimed sooner
	Status        TaskStatus
	WorkerID      *int   // set while a worker owns the task
	ParentID      string // originating task, set on auto-generated fix tasks
	Plan          string
	ResultSummary string
	Error         string
	Attempts      int // number of times the task has been requeued after a failed attempt
	CostUSD       float64
	TokensIn      int
	TokensOut     int
	DurationS     float64
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
}

// IsFix reports whether the task was auto-generated by the error watcher
func (t *Task) IsFix() bool {
	return t.ParentID != ""
}

// Title returns a short single-line label derived from the prompt
func (t *Task) Title() string {
	title := t.Prompt
	for i, r := range title {
		if r == '\n' {
			title = title[:i]
			break
		}
	}
	if len(title) > 60 {
		title = title[:60] + "..."
	}
	return title
}
