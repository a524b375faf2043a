package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/observer"
	"github.com/hochfrequenz/cc-boss/internal/planner"
	"github.com/hochfrequenz/cc-boss/internal/progress"
	"github.com/hochfrequenz/cc-boss/internal/runner"
	"github.com/hochfrequenz/cc-boss/internal/taskstore"
	"github.com/hochfrequenz/cc-boss/internal/watcher"
)

func newStore(t *testing.T) *taskstore.Store {
	t.Helper()
	store, err := taskstore.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeStubAgent(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-agent")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

// waitForStatus polls until the task reaches the wanted status
func waitForStatus(t *testing.T, store *taskstore.Store, id string, want domain.TaskStatus) *domain.Task {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.Get(id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, _ := store.Get(id)
	t.Fatalf("task %s stuck in %q, want %q", id, task.Status, want)
	return nil
}

type loopFixture struct {
	store   *taskstore.Store
	ledger  *progress.Ledger
	watcher *watcher.Watcher
	tracker *observer.Tracker
	loop    *Loop
	cancel  context.CancelFunc
}

func startLoop(t *testing.T, agentScript string, opts Options) *loopFixture {
	t.Helper()
	store := newStore(t)
	agent := writeStubAgent(t, agentScript)
	r := runner.New(agent, time.Minute)
	ledger := progress.NewLedger(store.DB(), filepath.Join(t.TempDir(), "PROGRESS.md"))
	w := watcher.New(store, 1)
	t.Cleanup(w.Close)
	tracker := observer.NewTracker()
	p := planner.New(store, r, t.TempDir())

	opts.PollInterval = 10 * time.Millisecond
	loop := NewLoop(0, t.TempDir(), store, r, p, ledger, w, nil, tracker, opts)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)

	return &loopFixture{store: store, ledger: ledger, watcher: w, tracker: tracker, loop: loop, cancel: cancel}
}

func TestLoop_RunsTaskToDone(t *testing.T) {
	fx := startLoop(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"all done"}]}}'
echo '{"type":"result","result":"ok","usage":{"input_tokens":10,"output_tokens":5},"cost_usd":0.02}'
`, Options{RetryLimit: 2})

	task, err := fx.store.Enqueue("do the thing", 0)
	if err != nil {
		t.Fatal(err)
	}

	got := waitForStatus(t, fx.store, task.ID, domain.StatusDone)
	if got.ResultSummary != "all done" {
		t.Errorf("summary = %q", got.ResultSummary)
	}
	if got.CostUSD != 0.02 {
		t.Errorf("cost = %f", got.CostUSD)
	}

	logs, err := fx.store.GetLogs(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) == 0 {
		t.Error("no run logs recorded")
	}

	entries, err := fx.ledger.ForTask(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("progress entries = %d, want 1", len(entries))
	}

	if m := fx.tracker.Snapshot(); m.Succeeded != 1 {
		t.Errorf("tracker succeeded = %d, want 1", m.Succeeded)
	}
}

func TestLoop_RetriesThenFailsWithFixTask(t *testing.T) {
	fx := startLoop(t, `
echo '{"type":"error","error":"build exploded"}'
`, Options{RetryLimit: 1})

	task, err := fx.store.Enqueue("break things", 0)
	if err != nil {
		t.Fatal(err)
	}

	got := waitForStatus(t, fx.store, task.ID, domain.StatusFailed)
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 requeue before the final failure", got.Attempts)
	}
	if !strings.Contains(got.Error, "build exploded") {
		t.Errorf("error = %q", got.Error)
	}

	// The exhausted task hands off to a fix task.
	deadline := time.Now().Add(5 * time.Second)
	for {
		fixes, err := fx.store.List(taskstore.ListOptions{ParentID: task.ID})
		if err != nil {
			t.Fatal(err)
		}
		if len(fixes) > 0 {
			if !strings.Contains(fixes[0].Prompt, "build exploded") {
				t.Errorf("fix prompt = %q", fixes[0].Prompt)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no fix task enqueued")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoop_InjectsProgressInstruction(t *testing.T) {
	promptFile := filepath.Join(t.TempDir(), "prompt.txt")
	fx := startLoop(t, `
printf '%s' "$2" > `+promptFile+`
echo '{"type":"result","result":"ok"}'
`, Options{})

	task, _ := fx.store.Enqueue("tidy the docs", 0)
	waitForStatus(t, fx.store, task.ID, domain.StatusDone)

	prompt, err := os.ReadFile(promptFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prompt), "tidy the docs") {
		t.Errorf("prompt missing task text: %q", prompt)
	}
	if !strings.Contains(string(prompt), "PROGRESS.md") {
		t.Errorf("prompt missing progress instruction: %q", prompt)
	}
}

func TestLoop_PlanGate(t *testing.T) {
	promptFile := filepath.Join(t.TempDir(), "prompt.txt")
	fx := startLoop(t, `
printf '%s' "$2" > `+promptFile+`
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"1. change main.go"}]}}'
echo '{"type":"result","result":"ok"}'
`, Options{RequirePlans: true})

	task, _ := fx.store.Enqueue("add a feature", 0)

	// First claim produces a plan and parks the task.
	got := waitForStatus(t, fx.store, task.ID, domain.StatusPlanned)
	if !strings.Contains(got.Plan, "change main.go") {
		t.Errorf("plan = %q", got.Plan)
	}

	// Parked tasks stay parked without approval.
	time.Sleep(100 * time.Millisecond)
	if got, _ := fx.store.Get(task.ID); got.Status != domain.StatusPlanned {
		t.Fatalf("status = %q, want planned until approved", got.Status)
	}

	if err := fx.store.Approve(task.ID); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, fx.store, task.ID, domain.StatusDone)

	prompt, err := os.ReadFile(promptFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(prompt), "Execute this approved plan:") {
		t.Errorf("execution prompt missing plan wrapper: %q", prompt)
	}
	if !strings.Contains(string(prompt), "1. change main.go") {
		t.Errorf("execution prompt missing plan body: %q", prompt)
	}
}

func TestLoop_FixTaskSkipsPlanGate(t *testing.T) {
	fx := startLoop(t, `
echo '{"type":"result","result":"ok"}'
`, Options{RequirePlans: true})

	root, _ := fx.store.Enqueue("root task", 0)
	fix, err := fx.store.EnqueueFix("fix the build", 1, root.ID)
	if err != nil {
		t.Fatal(err)
	}

	// The fix runs straight to done; only the root needs a plan.
	waitForStatus(t, fx.store, fix.ID, domain.StatusDone)
	waitForStatus(t, fx.store, root.ID, domain.StatusPlanned)
}

func TestLoop_StatusSnapshot(t *testing.T) {
	fx := startLoop(t, `
echo '{"type":"result","result":"ok"}'
`, Options{})

	st := fx.loop.Status()
	if st.WorkerID != 0 {
		t.Errorf("worker id = %d", st.WorkerID)
	}
	if st.Worktree == "" {
		t.Error("worktree not set")
	}
}
