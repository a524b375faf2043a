package planner

import (
	"context"
	"fmt"
	"log"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/prompts"
	"github.com/hochfrequenz/cc-boss/internal/runner"
	"github.com/hochfrequenz/cc-boss/internal/taskstore"
)

// Planner drives the plan-before-execute gate: it generates a plan with a
// read-only agent run, parks the task until an operator decides, and shapes
// the execution prompt once a plan is approved.
type Planner struct {
	store    *taskstore.Store
	runner   *runner.Runner
	repoPath string

	// Sink, when set, receives the plan run's stream events
	Sink runner.EventSink
}

// New creates a Planner. Plan runs execute in repoPath, not in a worktree,
// because a plan-only agent must not mutate anything.
func New(store *taskstore.Store, r *runner.Runner, repoPath string) *Planner {
	return &Planner{store: store, runner: r, repoPath: repoPath}
}

// RequestPlan generates a plan for an unclaimed task and parks it for
// review. Tasks a worker already holds are refused before any agent run is
// spent. Calling it again for a task that already has a plan returns the
// stored plan without a second agent run.
func (p *Planner) RequestPlan(ctx context.Context, taskID string) (string, error) {
	return p.requestPlan(ctx, taskID, p.store.MarkPlanning)
}

// RequestPlanOwned generates a plan for a task the given worker has claimed
func (p *Planner) RequestPlanOwned(ctx context.Context, taskID string, workerID int) (string, error) {
	return p.requestPlan(ctx, taskID, func(id string) error {
		return p.store.MarkPlanningOwned(id, workerID)
	})
}

func (p *Planner) requestPlan(ctx context.Context, taskID string, mark func(string) error) (string, error) {
	task, err := p.store.Get(taskID)
	if err != nil {
		return "", err
	}
	if task.Plan != "" {
		return task.Plan, nil
	}

	if err := mark(taskID); err != nil {
		return "", err
	}

	planTask := *task
	planTask.Prompt = prompts.Plan(task.Prompt)

	out := p.runner.Run(ctx, &planTask, p.repoPath, p.Sink)
	if out.TimedOut {
		return "", fmt.Errorf("plan run for %s: %s", taskID, out.ErrorSummary)
	}

	plan := out.Summary
	if plan == "" {
		plan = "No plan generated."
	}
	if !out.Success {
		log.Printf("planner: run for %s reported errors: %s", taskID, out.ErrorSummary)
	}

	if err := p.store.SetPlan(taskID, plan); err != nil {
		return "", err
	}
	return plan, nil
}

// Approve releases a planned task back into the claimable queue
func (p *Planner) Approve(taskID string) error {
	return p.store.Approve(taskID)
}

// Reject fails a planned task with no agent run spent on it
func (p *Planner) Reject(taskID string) error {
	return p.store.Reject(taskID)
}

// ExecutionPrompt wraps an approved plan into the prompt the execution
// attempt runs with
func ExecutionPrompt(task *domain.Task) string {
	if task.Plan == "" {
		return task.Prompt
	}
	return prompts.Execute(task.Plan, task.Prompt)
}
