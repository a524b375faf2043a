package taskstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hochfrequenz/cc-boss/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrEmptyPrompt is returned when a task is enqueued without a prompt
	ErrEmptyPrompt = errors.New("prompt must not be empty")
	// ErrNotFound is returned when a task id does not exist
	ErrNotFound = errors.New("task not found")
	// ErrNotClaimable is returned when a status transition races with another owner
	ErrNotClaimable = errors.New("task not claimable")
)

// ChangeFunc is called after a task's status changes
type ChangeFunc func(taskID string, status domain.TaskStatus)

// Store provides SQLite-backed task persistence. It is the single source of
// truth for task state; all cross-worker coordination goes through it.
type Store struct {
	db       *sql.DB
	onChange ChangeFunc

	// Serializes claim transactions so no two workers can select the same row
	claimMu sync.Mutex
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages sharing the database
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetOnChange registers a callback invoked after every status transition
func (s *Store) SetOnChange(fn ChangeFunc) {
	s.onChange = fn
}

func (s *Store) notify(taskID string, status domain.TaskStatus) {
	if s.onChange != nil {
		s.onChange(taskID, status)
	}
}

// Enqueue creates a new pending task
func (s *Store) Enqueue(prompt string, priority int) (*domain.Task, error) {
	return s.enqueue(prompt, priority, "")
}

// EnqueueFix creates a pending fix task referencing the originating task
func (s *Store) EnqueueFix(prompt string, priority int, parentID string) (*domain.Task, error) {
	return s.enqueue(prompt, priority, parentID)
}

func (s *Store) enqueue(prompt string, priority int, parentID string) (*domain.Task, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	now := time.Now()
	id := uuid.NewString()

	var parent any
	if parentID != "" {
		parent = parentID
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (id, prompt, status, priority, parent_id, created_at, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, prompt, string(domain.StatusPending), priority, parent, now, now)
	if err != nil {
		return nil, err
	}

	s.notify(id, domain.StatusPending)
	return s.Get(id)
}

const claimableStatuses = `'pending', 'approved', 'needs_fix'`

// Claim atomically selects the highest-priority, oldest eligible task,
// transitions it to running and binds it to the worker. Returns (nil, nil)
// when no eligible task exists.
func (s *Store) Claim(workerID int) (*domain.Task, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRow(`
		SELECT id FROM tasks
		WHERE status IN (` + claimableStatuses + `)
		ORDER BY priority DESC, enqueued_at ASC, rowid ASC
		LIMIT 1
	`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := tx.Exec(`
		UPDATE tasks SET status = ?, worker_id = ?, started_at = ?
		WHERE id = ? AND status IN (`+claimableStatuses+`)
	`, string(domain.StatusRunning), workerID, time.Now(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.notify(id, domain.StatusRunning)
	return s.Get(id)
}

// ClaimByID claims one specific task, used when a worker resumes a task it
// planned and saw approved. Fails with ErrNotClaimable if another worker won.
func (s *Store) ClaimByID(id string, workerID int) (*domain.Task, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, worker_id = ?, started_at = ?
		WHERE id = ? AND status IN (`+claimableStatuses+`)
	`, string(domain.StatusRunning), workerID, time.Now(), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotClaimable
	}

	s.notify(id, domain.StatusRunning)
	return s.Get(id)
}

// Complete transitions a running task to done or failed based on the outcome.
// Terminal states are immutable: completing a task that is not running is an error.
func (s *Store) Complete(id string, out domain.Outcome) error {
	status := domain.StatusDone
	if !out.Success {
		status = domain.StatusFailed
	}

	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, result_summary = ?, error = ?,
			cost_usd = ?, tokens_in = ?, tokens_out = ?, duration_s = ?,
			finished_at = ?
		WHERE id = ? AND status = ?
	`, string(status), truncate(out.Summary, 2000), truncate(out.ErrorSummary, 2000),
		out.CostUSD, out.TokensIn, out.TokensOut, out.Duration.Seconds(),
		time.Now(), id, string(domain.StatusRunning))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("completing %s: %w", id, ErrNotClaimable)
	}

	s.notify(id, status)
	return nil
}

// Requeue returns a running or planning task to the queue as needs_fix for
// another attempt. It moves to the back of its priority tier and the attempt
// count is incremented.
func (s *Store) Requeue(id string) (*domain.Task, error) {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, worker_id = NULL, started_at = NULL,
			attempts = attempts + 1, enqueued_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, string(domain.StatusNeedsFix), time.Now(), id,
		string(domain.StatusRunning), string(domain.StatusPlanning))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("requeuing %s: %w", id, ErrNotClaimable)
	}

	s.notify(id, domain.StatusNeedsFix)
	return s.Get(id)
}

// MarkPlanning moves an unclaimed task into planning. Tasks a worker has
// already claimed are refused: the worker runs its own plan attempt, and
// letting an outside request through here would race it.
func (s *Store) MarkPlanning(id string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ? WHERE id = ? AND status = ?
	`, string(domain.StatusPlanning), id, string(domain.StatusPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("planning %s: %w", id, ErrNotClaimable)
	}

	s.notify(id, domain.StatusPlanning)
	return nil
}

// MarkPlanningOwned moves a claimed task into planning on behalf of the
// worker that holds it
func (s *Store) MarkPlanningOwned(id string, workerID int) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ? WHERE id = ? AND status = ? AND worker_id = ?
	`, string(domain.StatusPlanning), id, string(domain.StatusRunning), workerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("planning %s: %w", id, ErrNotClaimable)
	}

	s.notify(id, domain.StatusPlanning)
	return nil
}

// SetPlan persists the plan text and parks the task as planned.
// A planned task is excluded from claims until approved.
func (s *Store) SetPlan(id, plan string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET plan = ?, status = ?, worker_id = NULL, started_at = NULL
		WHERE id = ? AND status IN (?, ?, ?)
	`, plan, string(domain.StatusPlanned), id,
		string(domain.StatusPending), string(domain.StatusPlanning), string(domain.StatusPlanned))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("setting plan on %s: %w", id, ErrNotClaimable)
	}

	s.notify(id, domain.StatusPlanned)
	return nil
}

// Approve makes a planned task eligible for execution
func (s *Store) Approve(id string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, enqueued_at = ? WHERE id = ? AND status = ?
	`, string(domain.StatusApproved), time.Now(), id, string(domain.StatusPlanned))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("approving %s: %w", id, ErrNotClaimable)
	}

	s.notify(id, domain.StatusApproved)
	return nil
}

// Reject marks a planned task as failed with a rejection note
func (s *Store) Reject(id string) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET status = ?, error = ?, finished_at = ? WHERE id = ? AND status = ?
	`, string(domain.StatusFailed), "plan rejected", time.Now(), id, string(domain.StatusPlanned))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("rejecting %s: %w", id, ErrNotClaimable)
	}

	s.notify(id, domain.StatusFailed)
	return nil
}

// RecoverInterrupted requeues tasks left running by a previous process as
// needs_fix. Called once at startup so no task is ever stuck in running with
// no owner.
func (s *Store) RecoverInterrupted() (int, error) {
	rows, err := s.db.Query(`SELECT id FROM tasks WHERE status = ?`, string(domain.StatusRunning))
	if err != nil {
		return 0, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		_, err := s.db.Exec(`
			UPDATE tasks SET status = ?, worker_id = NULL, started_at = NULL,
				attempts = attempts + 1, enqueued_at = ?, error = ?
			WHERE id = ? AND status = ?
		`, string(domain.StatusNeedsFix), time.Now(), "interrupted by restart",
			id, string(domain.StatusRunning))
		if err != nil {
			return 0, err
		}
		s.notify(id, domain.StatusNeedsFix)
	}

	return len(ids), nil
}

// Get retrieves a task by ID
func (s *Store) Get(id string) (*domain.Task, error) {
	row := s.db.QueryRow(taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return task, err
}

// ListOptions specifies filters for listing tasks
type ListOptions struct {
	Status   domain.TaskStatus
	ParentID string
	Limit    int
}

// List returns tasks matching the given options, newest first
func (s *Store) List(opts ListOptions) ([]*domain.Task, error) {
	query := taskColumns + ` FROM tasks WHERE 1=1`
	var args []any

	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, string(opts.Status))
	}
	if opts.ParentID != "" {
		query += " AND parent_id = ?"
		args = append(args, opts.ParentID)
	}

	query += " ORDER BY created_at DESC, rowid DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// CountByStatus returns task counts grouped by status
func (s *Store) CountByStatus() (map[domain.TaskStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.TaskStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// HasOpenFixTask reports whether a non-terminal fix task already exists for
// the given parent. Used by the error watcher to de-duplicate.
func (s *Store) HasOpenFixTask(parentID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM tasks
		WHERE parent_id = ? AND status NOT IN (?, ?)
	`, parentID, string(domain.StatusDone), string(domain.StatusFailed)).Scan(&n)
	return n > 0, err
}

// RunLog is one persisted event summary from an attempt
type RunLog struct {
	ID        int64
	TaskID    string
	EventType string
	Content   string
	TS        time.Time
}

// LogEvent persists a summarized stream event for later inspection
func (s *Store) LogEvent(taskID string, ev *domain.StreamEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO run_logs (task_id, event_type, content, ts) VALUES (?, ?, ?, ?)
	`, taskID, ev.Type, truncate(ev.Content, 500), time.Now())
	return err
}

// GetLogs returns the persisted event log for a task in order
func (s *Store) GetLogs(taskID string) ([]RunLog, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, event_type, content, ts FROM run_logs
		WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []RunLog
	for rows.Next() {
		var l RunLog
		var content sql.NullString
		if err := rows.Scan(&l.ID, &l.TaskID, &l.EventType, &content, &l.TS); err != nil {
			return nil, err
		}
		l.Content = content.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const taskColumns = `SELECT id, prompt, status, priority, worker_id, parent_id, plan,
	result_summary, error, attempts, cost_usd, tokens_in, tokens_out, duration_s,
	created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var status string
	var workerID sql.NullInt64
	var parentID, plan, summary, errMsg sql.NullString
	var cost, duration sql.NullFloat64
	var tokensIn, tokensOut sql.NullInt64
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&task.ID, &task.Prompt, &status, &task.Priority, &workerID,
		&parentID, &plan, &summary, &errMsg, &task.Attempts, &cost, &tokensIn,
		&tokensOut, &duration, &task.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatus(status)
	if workerID.Valid {
		w := int(workerID.Int64)
		task.WorkerID = &w
	}
	task.ParentID = parentID.String
	task.Plan = plan.String
	task.ResultSummary = summary.String
	task.Error = errMsg.String
	task.CostUSD = cost.Float64
	task.TokensIn = int(tokensIn.Int64)
	task.TokensOut = int(tokensOut.Int64)
	task.DurationS = duration.Float64
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		task.FinishedAt = &finishedAt.Time
	}

	return &task, nil
}

// truncate cuts s to at most max bytes on a rune boundary so agent output
// never lands in the database as broken UTF-8
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
