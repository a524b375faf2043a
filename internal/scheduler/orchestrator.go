package scheduler

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/eventbus"
	"github.com/hochfrequenz/cc-boss/internal/observer"
	"github.com/hochfrequenz/cc-boss/internal/planner"
	"github.com/hochfrequenz/cc-boss/internal/progress"
	"github.com/hochfrequenz/cc-boss/internal/runner"
	"github.com/hochfrequenz/cc-boss/internal/taskstore"
	"github.com/hochfrequenz/cc-boss/internal/watcher"
	"github.com/hochfrequenz/cc-boss/internal/worktree"
)

// Orchestrator runs a bounded pool of worker loops, one isolated worktree
// per worker slot.
type Orchestrator struct {
	store     *taskstore.Store
	runner    *runner.Runner
	planner   *planner.Planner
	ledger    *progress.Ledger
	watcher   *watcher.Watcher
	bus       *eventbus.Bus
	tracker   *observer.Tracker
	worktrees *worktree.Manager
	opts      Options
	count     int

	loops []*Loop
}

// NewOrchestrator wires a worker pool of the given size. Worktrees are not
// touched until Start.
func NewOrchestrator(count int, store *taskstore.Store, r *runner.Runner, p *planner.Planner, ledger *progress.Ledger, w *watcher.Watcher, bus *eventbus.Bus, tracker *observer.Tracker, worktrees *worktree.Manager, opts Options) *Orchestrator {
	if count < 1 {
		count = 1
	}
	return &Orchestrator{
		store:     store,
		runner:    r,
		planner:   p,
		ledger:    ledger,
		watcher:   w,
		bus:       bus,
		tracker:   tracker,
		worktrees: worktrees,
		opts:      opts,
		count:     count,
	}
}

// Start materializes one worktree per worker, spawns the loops, and blocks
// until ctx is cancelled and every loop has returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < o.count; i++ {
		wtPath, err := o.worktrees.Ensure(i)
		if err != nil {
			return fmt.Errorf("worktree for worker %d: %w", i, err)
		}
		loop := NewLoop(i, wtPath, o.store, o.runner, o.planner, o.ledger, o.watcher, o.bus, o.tracker, o.opts)
		o.loops = append(o.loops, loop)
		g.Go(func() error { return loop.Run(ctx) })
	}

	log.Printf("orchestrator: started %d workers", o.count)
	err := g.Wait()
	log.Printf("orchestrator: all workers stopped")
	return err
}

// WorkerStatuses returns a snapshot of every worker loop
func (o *Orchestrator) WorkerStatuses() []domain.WorkerStatus {
	statuses := make([]domain.WorkerStatus, 0, len(o.loops))
	for _, l := range o.loops {
		statuses = append(statuses, l.Status())
	}
	return statuses
}
