package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/eventbus"
	"github.com/hochfrequenz/cc-boss/internal/observer"
	"github.com/hochfrequenz/cc-boss/internal/planner"
	"github.com/hochfrequenz/cc-boss/internal/progress"
	"github.com/hochfrequenz/cc-boss/internal/runner"
	"github.com/hochfrequenz/cc-boss/internal/taskstore"
	"github.com/hochfrequenz/cc-boss/internal/watcher"
)

// Options bundles the scheduler knobs derived from configuration
type Options struct {
	PollInterval time.Duration // idle sleep between empty claims
	RetryLimit   int           // requeues before a task is failed for good
	RequirePlans bool          // gate first attempts behind plan approval
}

// Loop is one worker: it claims tasks, runs the agent in its own worktree,
// and records outcomes until its context is cancelled.
type Loop struct {
	workerID int
	worktree string
	store    *taskstore.Store
	runner   *runner.Runner
	planner  *planner.Planner
	ledger   *progress.Ledger
	watcher  *watcher.Watcher
	bus      *eventbus.Bus
	tracker  *observer.Tracker
	opts     Options

	mu      sync.Mutex
	state   domain.WorkerState
	current string
}

// NewLoop creates a worker loop bound to a worktree directory
func NewLoop(workerID int, worktreePath string, store *taskstore.Store, r *runner.Runner, p *planner.Planner, ledger *progress.Ledger, w *watcher.Watcher, bus *eventbus.Bus, tracker *observer.Tracker, opts Options) *Loop {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Loop{
		workerID: workerID,
		worktree: worktreePath,
		store:    store,
		runner:   r,
		planner:  p,
		ledger:   ledger,
		watcher:  w,
		bus:      bus,
		tracker:  tracker,
		opts:     opts,
		state:    domain.WorkerIdle,
	}
}

// Status returns a point-in-time snapshot of the loop
func (l *Loop) Status() domain.WorkerStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.WorkerStatus{
		WorkerID:      l.workerID,
		CurrentTaskID: l.current,
		State:         l.state,
		Worktree:      l.worktree,
	}
}

func (l *Loop) setState(state domain.WorkerState, taskID string) {
	l.mu.Lock()
	l.state = state
	l.current = taskID
	l.mu.Unlock()
}

// Run claims and executes tasks until ctx is cancelled. It always returns
// nil: a worker loop ending is part of shutdown, not an error.
func (l *Loop) Run(ctx context.Context) error {
	log.Printf("worker %d: started (worktree=%s)", l.workerID, l.worktree)
	defer l.setState(domain.WorkerStopping, "")

	for {
		if ctx.Err() != nil {
			return nil
		}

		task, err := l.store.Claim(l.workerID)
		if err != nil {
			log.Printf("worker %d: claim: %v", l.workerID, err)
			if !l.sleep(ctx) {
				return nil
			}
			continue
		}
		if task == nil {
			l.setState(domain.WorkerIdle, "")
			if !l.sleep(ctx) {
				return nil
			}
			continue
		}

		log.Printf("worker %d: picked task %s: %s", l.workerID, task.ID, task.Title())
		if l.needsPlan(task) {
			l.generatePlan(ctx, task)
			continue
		}
		l.execute(ctx, task)
	}
}

// sleep waits one poll interval, returning false when ctx is done
func (l *Loop) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(l.opts.PollInterval):
		return true
	}
}

// needsPlan reports whether a freshly claimed task must go through the plan
// gate first. Fix tasks and retries skip it: their context is the failure,
// not a fresh design question.
func (l *Loop) needsPlan(task *domain.Task) bool {
	return l.opts.RequirePlans && task.Plan == "" && task.Attempts == 0 && !task.IsFix()
}

// generatePlan runs a plan-only attempt and parks the task for review.
// The worker moves on; execution happens on a later claim once an operator
// approves the plan.
func (l *Loop) generatePlan(ctx context.Context, task *domain.Task) {
	l.setState(domain.WorkerBlocked, task.ID)
	defer l.setState(domain.WorkerIdle, "")

	if _, err := l.planner.RequestPlanOwned(ctx, task.ID, l.workerID); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("worker %d: plan for %s: %v", l.workerID, task.ID, err)
		if _, err := l.store.Requeue(task.ID); err != nil {
			log.Printf("worker %d: requeue %s: %v", l.workerID, task.ID, err)
		}
		return
	}
	log.Printf("worker %d: task %s planned, awaiting approval", l.workerID, task.ID)
}

func (l *Loop) execute(ctx context.Context, task *domain.Task) {
	l.setState(domain.WorkerRunning, task.ID)
	defer l.setState(domain.WorkerIdle, "")

	execTask := *task
	execTask.Prompt = planner.ExecutionPrompt(task)
	execTask.Prompt = l.ledger.InjectPrompt(&execTask)

	out := l.runner.Run(ctx, &execTask, l.worktree, l.sink(task))

	if errors.Is(ctx.Err(), context.Canceled) {
		// Shutdown interrupted the attempt: hand the task back.
		if _, err := l.store.Requeue(task.ID); err != nil {
			log.Printf("worker %d: requeue %s on shutdown: %v", l.workerID, task.ID, err)
		}
		return
	}

	if l.tracker != nil {
		l.tracker.RecordAttempt(task.ID, out)
	}

	if out.Success {
		l.finishSuccess(task, out)
	} else {
		l.finishFailure(task, out)
	}

	if err := l.ledger.Append(task, l.workerID, lessonFor(out)); err != nil {
		log.Printf("worker %d: progress append for %s: %v", l.workerID, task.ID, err)
	}
}

func (l *Loop) finishSuccess(task *domain.Task, out domain.Outcome) {
	if err := l.store.Complete(task.ID, out); err != nil {
		log.Printf("worker %d: complete %s: %v", l.workerID, task.ID, err)
		return
	}
	if l.watcher != nil {
		l.watcher.AttemptSucceeded(task.ID)
	}
	log.Printf("worker %d: task %s done ($%.4f, %s)", l.workerID, task.ID, out.CostUSD, out.Duration.Round(time.Second))
}

func (l *Loop) finishFailure(task *domain.Task, out domain.Outcome) {
	if task.Attempts < l.opts.RetryLimit {
		requeued, err := l.store.Requeue(task.ID)
		if err != nil {
			log.Printf("worker %d: requeue %s: %v", l.workerID, task.ID, err)
			return
		}
		log.Printf("worker %d: task %s failed, retry %d/%d queued", l.workerID, task.ID, requeued.Attempts, l.opts.RetryLimit)
		return
	}

	if err := l.store.Complete(task.ID, out); err != nil {
		log.Printf("worker %d: complete %s: %v", l.workerID, task.ID, err)
		return
	}
	log.Printf("worker %d: task %s failed for good: %s", l.workerID, task.ID, firstLine(out.ErrorSummary))
	if l.watcher != nil {
		l.watcher.AttemptFailed(task, out)
	}
}

// sink fans runner events out to the run log, the event bus, and the
// error watcher
func (l *Loop) sink(task *domain.Task) runner.EventSink {
	sinks := []runner.EventSink{
		runner.SinkFunc(func(ev *domain.StreamEvent) {
			if err := l.store.LogEvent(task.ID, ev); err != nil {
				log.Printf("worker %d: log event for %s: %v", l.workerID, task.ID, err)
			}
		}),
	}
	if l.bus != nil {
		sinks = append(sinks, runner.SinkFunc(func(ev *domain.StreamEvent) {
			l.bus.PublishStream(ev)
		}))
	}
	if l.watcher != nil {
		sinks = append(sinks, l.watcher.Sink(task))
	}
	return runner.MultiSink(sinks...)
}

func lessonFor(out domain.Outcome) string {
	if out.Success {
		return ""
	}
	return firstLine(out.ErrorSummary)
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
