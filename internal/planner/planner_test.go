package planner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/runner"
	"github.com/hochfrequenz/cc-boss/internal/taskstore"
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

func TestRequestPlanStoresPlan(t *testing.T) {
	store := newStore(t)
	agent := writeStubAgent(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"1. Edit main.go"}]}}'
echo '{"type":"result","result":"done"}'
`)
	p := New(store, runner.New(agent, time.Minute), t.TempDir())

	task, _ := store.Enqueue("add a flag", 0)
	plan, err := p.RequestPlan(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("RequestPlan: %v", err)
	}
	if plan != "1. Edit main.go" {
		t.Errorf("plan = %q", plan)
	}

	got, _ := store.Get(task.ID)
	if got.Status != domain.StatusPlanned {
		t.Errorf("status = %q, want planned", got.Status)
	}
	if got.Plan != plan {
		t.Errorf("stored plan = %q", got.Plan)
	}
}

func TestRequestPlanIdempotent(t *testing.T) {
	store := newStore(t)
	// An agent that would clobber the plan if it ran again
	agent := writeStubAgent(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"second plan"}]}}'
`)
	p := New(store, runner.New(agent, time.Minute), t.TempDir())

	task, _ := store.Enqueue("task", 0)
	if err := store.MarkPlanning(task.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.SetPlan(task.ID, "first plan"); err != nil {
		t.Fatal(err)
	}

	plan, err := p.RequestPlan(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("RequestPlan: %v", err)
	}
	if plan != "first plan" {
		t.Errorf("plan = %q, want the stored one", plan)
	}
}

func TestRequestPlanPromptWrapsTask(t *testing.T) {
	store := newStore(t)
	promptFile := filepath.Join(t.TempDir(), "prompt.txt")
	// The stub records the prompt it was invoked with
	agent := writeStubAgent(t, `
printf '%s' "$2" > `+promptFile+`
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"plan"}]}}'
`)
	p := New(store, runner.New(agent, time.Minute), t.TempDir())

	task, _ := store.Enqueue("refactor the parser", 0)
	if _, err := p.RequestPlan(context.Background(), task.ID); err != nil {
		t.Fatalf("RequestPlan: %v", err)
	}

	prompt, err := os.ReadFile(promptFile)
	if err != nil {
		t.Fatalf("stub never received prompt: %v", err)
	}
	if !strings.Contains(string(prompt), "plan-only mode") {
		t.Errorf("prompt missing plan-mode preamble: %q", prompt)
	}
	if !strings.Contains(string(prompt), "refactor the parser") {
		t.Errorf("prompt missing task text: %q", prompt)
	}
}

func TestRequestPlanEmptyOutput(t *testing.T) {
	store := newStore(t)
	agent := writeStubAgent(t, `true`)
	p := New(store, runner.New(agent, time.Minute), t.TempDir())

	task, _ := store.Enqueue("task", 0)
	plan, err := p.RequestPlan(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("RequestPlan: %v", err)
	}
	if plan != "No plan generated." {
		t.Errorf("plan = %q", plan)
	}
}

func TestApproveReleasesTask(t *testing.T) {
	store := newStore(t)
	p := New(store, runner.New("true", time.Minute), t.TempDir())

	task, _ := store.Enqueue("task", 0)
	store.MarkPlanning(task.ID)
	store.SetPlan(task.ID, "the plan")

	if err := p.Approve(task.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	claimed, err := store.Claim(1)
	if err != nil {
		t.Fatal(err)
	}
	if claimed == nil || claimed.ID != task.ID {
		t.Fatalf("claimed = %+v, want the approved task", claimed)
	}
}

func TestRejectFailsTask(t *testing.T) {
	store := newStore(t)
	p := New(store, runner.New("true", time.Minute), t.TempDir())

	task, _ := store.Enqueue("task", 0)
	store.MarkPlanning(task.ID)
	store.SetPlan(task.ID, "the plan")

	if err := p.Reject(task.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	got, _ := store.Get(task.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestExecutionPrompt(t *testing.T) {
	task := &domain.Task{Prompt: "add a flag", Plan: "1. edit main.go"}
	got := ExecutionPrompt(task)
	if !strings.Contains(got, "Execute this approved plan:") {
		t.Errorf("missing preamble: %q", got)
	}
	if !strings.Contains(got, "1. edit main.go") || !strings.Contains(got, "add a flag") {
		t.Errorf("missing plan or task: %q", got)
	}

	bare := &domain.Task{Prompt: "add a flag"}
	if ExecutionPrompt(bare) != "add a flag" {
		t.Errorf("planless task should run its own prompt")
	}
}

func TestRequestPlanRefusesClaimedTask(t *testing.T) {
	store := newStore(t)
	marker := filepath.Join(t.TempDir(), "ran")
	agent := writeStubAgent(t, `
touch `+marker+`
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"a plan"}]}}'
`)
	p := New(store, runner.New(agent, time.Minute), t.TempDir())

	task, _ := store.Enqueue("task", 0)
	if _, err := store.ClaimByID(task.ID, 3); err != nil {
		t.Fatal(err)
	}

	if _, err := p.RequestPlan(context.Background(), task.ID); err == nil {
		t.Fatal("expected error for a task a worker holds")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("agent run spent on a refused plan request")
	}
	got, _ := store.Get(task.ID)
	if got.Status != domain.StatusRunning {
		t.Errorf("status = %q, want the worker's claim untouched", got.Status)
	}
}

func TestRequestPlanOwned(t *testing.T) {
	store := newStore(t)
	agent := writeStubAgent(t, `
echo '{"type":"assistant","message":{"content":[{"type":"text","text":"a plan"}]}}'
`)
	p := New(store, runner.New(agent, time.Minute), t.TempDir())

	task, _ := store.Enqueue("task", 0)
	if _, err := store.ClaimByID(task.ID, 3); err != nil {
		t.Fatal(err)
	}

	if _, err := p.RequestPlanOwned(context.Background(), task.ID, 7); err == nil {
		t.Fatal("expected error for a worker that does not hold the task")
	}

	plan, err := p.RequestPlanOwned(context.Background(), task.ID, 3)
	if err != nil {
		t.Fatalf("RequestPlanOwned: %v", err)
	}
	if plan != "a plan" {
		t.Errorf("plan = %q", plan)
	}
	got, _ := store.Get(task.ID)
	if got.Status != domain.StatusPlanned {
		t.Errorf("status = %q, want planned", got.Status)
	}
}
