package domain

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	StatusPending  TaskStatus = "pending"
	StatusPlanning TaskStatus = "planning"
	StatusPlanned  TaskStatus = "planned"
	StatusApproved TaskStatus = "approved"
	StatusRunning  TaskStatus = "running"
	StatusDone     TaskStatus = "done"
	StatusFailed   TaskStatus = "failed"
	StatusNeedsFix TaskStatus = "needs_fix"
)

// Claimable reports whether a task in this status is eligible for a worker claim.
// Planned tasks are parked until approved.
func (s TaskStatus) Claimable() bool {
	switch s {
	case StatusPending, StatusApproved, StatusNeedsFix:
		return true
	}
	return false
}

// Terminal reports whether the status is final and immutable
func (s TaskStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// WorkerState represents the lifecycle state of a worker loop
type WorkerState string

const (
	WorkerIdle     WorkerState = "idle"
	WorkerRunning  WorkerState = "running"
	WorkerBlocked  WorkerState = "blocked"
	WorkerStopping WorkerState = "stopping"
)

// WorkerStatus is a point-in-time snapshot of one worker loop
type WorkerStatus struct {
	WorkerID      int         `json:"worker_id"`
	CurrentTaskID string      `json:"current_task_id,omitempty"`
	State         WorkerState `json:"state"`
	Worktree      string      `json:"worktree,omitempty"`
}
