package progress

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/prompts"
)

// Entry is one appended lesson from a completed task
type Entry struct {
	ID        int64
	TaskID    string
	WorkerID  int
	Lesson    string
	CreatedAt time.Time
}

// Ledger is the append-only record of completed-task lessons. Entries are
// persisted in the database and mirrored to a markdown file that agents are
// instructed to read and extend.
type Ledger struct {
	db       *sql.DB
	filePath string
}

// NewLedger creates a ledger backed by the shared database and the given
// markdown file path
func NewLedger(db *sql.DB, filePath string) *Ledger {
	return &Ledger{db: db, filePath: filePath}
}

// FilePath returns the markdown mirror location
func (l *Ledger) FilePath() string {
	return l.filePath
}

// Append records a lesson. Entries are never mutated or deleted.
func (l *Ledger) Append(task *domain.Task, workerID int, lesson string) error {
	now := time.Now()
	_, err := l.db.Exec(`
		INSERT INTO progress (task_id, worker_id, lesson, created_at) VALUES (?, ?, ?, ?)
	`, task.ID, workerID, lesson, now)
	if err != nil {
		return err
	}

	return l.appendMarkdown(task, lesson, now)
}

// appendMarkdown mirrors the entry into the progress file so agents can
// consult prior lessons. Best-effort: the database row is already committed.
func (l *Ledger) appendMarkdown(task *domain.Task, lesson string, now time.Time) error {
	if l.filePath == "" {
		return nil
	}

	if _, err := os.Stat(l.filePath); os.IsNotExist(err) {
		if err := os.WriteFile(l.filePath, []byte("# PROGRESS\n\nAuto-generated task log.\n"), 0644); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(l.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	entry := fmt.Sprintf("\n## [%s] %s\n", now.Format("2006-01-02"), task.Title())
	entry += fmt.Sprintf("- Status: %s\n", task.Status)
	if task.CostUSD > 0 {
		entry += fmt.Sprintf("- Cost: $%.4f\n", task.CostUSD)
	}
	if lesson != "" {
		entry += fmt.Sprintf("- %s\n", lesson)
	}
	entry += "\n"

	_, err = f.WriteString(entry)
	return err
}

// Recent returns the newest n entries
func (l *Ledger) Recent(n int) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, task_id, worker_id, lesson, created_at FROM progress
		ORDER BY id DESC LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ForTask returns all entries recorded for one task
func (l *Ledger) ForTask(taskID string) ([]Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, task_id, worker_id, lesson, created_at FROM progress
		WHERE task_id = ? ORDER BY id
	`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.WorkerID, &e.Lesson, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InjectPrompt adds the progress-file instruction to a task prompt
func (l *Ledger) InjectPrompt(task *domain.Task) string {
	name := "PROGRESS.md"
	if l.filePath != "" {
		name = filepath.Base(l.filePath)
	}
	date := time.Now().Format("2006-01-02")
	return task.Prompt + "\n\n" + prompts.ProgressNote(name, date, task.Title()) + "\n"
}
