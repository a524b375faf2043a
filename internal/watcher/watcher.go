package watcher

import (
	"log"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/prompts"
	"github.com/hochfrequenz/cc-boss/internal/runner"
	"github.com/hochfrequenz/cc-boss/internal/taskstore"
)

// error signatures worth a followup even when the attempt itself reported
// success at the process level
var errorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\berror\b[:\s]`),
	regexp.MustCompile(`(?i)\bfailed\b`),
	regexp.MustCompile(`(?i)\bexception\b`),
	regexp.MustCompile(`Traceback \(most recent call last\)`),
	regexp.MustCompile(`^panic:`),
	regexp.MustCompile(`(?i)fatal:`),
}

const maxSignatures = 10

// Watcher scans agent event streams for error signatures and enqueues
// follow-up fix tasks for failed attempts. Enqueues go through a single
// worker goroutine so runner callbacks never block on the database.
type Watcher struct {
	store *taskstore.Store
	bonus int

	mu         sync.Mutex
	signatures map[string][]string

	queue chan fixRequest
	done  chan struct{}
}

type fixRequest struct {
	parentID string
	prompt   string
	priority int
}

// New creates a Watcher and starts its enqueue worker. bonus is added to the
// parent's priority so fixes jump ahead of same-tier backlog.
func New(store *taskstore.Store, bonus int) *Watcher {
	w := &Watcher{
		store:      store,
		bonus:      bonus,
		signatures: make(map[string][]string),
		queue:      make(chan fixRequest, 64),
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

// Close stops the worker after draining queued enqueues
func (w *Watcher) Close() {
	close(w.queue)
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	for req := range w.queue {
		w.enqueueFix(req)
	}
}

func (w *Watcher) enqueueFix(req fixRequest) {
	open, err := w.store.HasOpenFixTask(req.parentID)
	if err != nil {
		log.Printf("watcher: fix lookup for %s: %v", req.parentID, err)
		return
	}
	if open {
		return
	}
	task, err := w.store.EnqueueFix(req.prompt, req.priority, req.parentID)
	if err != nil {
		log.Printf("watcher: enqueue fix for %s: %v", req.parentID, err)
		return
	}
	log.Printf("watcher: enqueued fix task %s for %s", task.ID, req.parentID)
}

// Sink returns an event sink that records error signatures for the task
func (w *Watcher) Sink(task *domain.Task) runner.EventSink {
	id := task.ID
	return runner.SinkFunc(func(ev *domain.StreamEvent) {
		if sig := signatureOf(ev); sig != "" {
			w.record(id, sig)
		}
	})
}

func (w *Watcher) record(taskID, sig string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.signatures[taskID]) >= maxSignatures {
		return
	}
	w.signatures[taskID] = append(w.signatures[taskID], sig)
}

// Signatures returns the error signatures collected for a task so far
func (w *Watcher) Signatures(taskID string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.signatures[taskID]...)
}

// AttemptFailed reports a finished failed attempt. When the retry ceiling is
// exhausted the scheduler calls this to spawn a fix task instead; duplicate
// fixes for the same root task are suppressed.
func (w *Watcher) AttemptFailed(task *domain.Task, out domain.Outcome) {
	summary := w.failureSummary(task.ID, out)

	// Fix tasks chain back to the original so one root never accumulates
	// more than a single open fix.
	parentID := task.ID
	if task.IsFix() {
		parentID = task.ParentID
	}

	w.mu.Lock()
	delete(w.signatures, task.ID)
	w.mu.Unlock()

	w.queue <- fixRequest{
		parentID: parentID,
		prompt:   fixPrompt(summary),
		priority: task.Priority + w.bonus,
	}
}

// AttemptSucceeded clears collected signatures for a finished task
func (w *Watcher) AttemptSucceeded(taskID string) {
	w.mu.Lock()
	delete(w.signatures, taskID)
	w.mu.Unlock()
}

func (w *Watcher) failureSummary(taskID string, out domain.Outcome) string {
	w.mu.Lock()
	sigs := append([]string(nil), w.signatures[taskID]...)
	w.mu.Unlock()

	var parts []string
	if out.ErrorSummary != "" {
		parts = append(parts, out.ErrorSummary)
	}
	for _, s := range sigs {
		if s != out.ErrorSummary {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "attempt failed with no captured error output")
	}
	return strings.Join(parts, "\n")
}

// signatureOf extracts an error signature from one stream event, or ""
func signatureOf(ev *domain.StreamEvent) string {
	if ev.Content == "" {
		return ""
	}
	if ev.IsError {
		return truncate(ev.Content)
	}
	if ev.Type != "tool_result" && ev.Type != "assistant" {
		return ""
	}
	for _, line := range strings.Split(ev.Content, "\n") {
		for _, pat := range errorPatterns {
			if pat.MatchString(line) {
				return truncate(strings.TrimSpace(line))
			}
		}
	}
	return ""
}

func truncate(s string) string {
	if len(s) <= 200 {
		return s
	}
	cut := 200
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func fixPrompt(summary string) string {
	return prompts.Fix(summary)
}
