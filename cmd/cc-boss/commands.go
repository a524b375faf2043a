package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/cc-boss/internal/batch"
	"github.com/hochfrequenz/cc-boss/internal/config"
	"github.com/hochfrequenz/cc-boss/internal/domain"
	"github.com/hochfrequenz/cc-boss/internal/eventbus"
	"github.com/hochfrequenz/cc-boss/internal/notify"
	"github.com/hochfrequenz/cc-boss/internal/observer"
	"github.com/hochfrequenz/cc-boss/internal/planner"
	"github.com/hochfrequenz/cc-boss/internal/progress"
	"github.com/hochfrequenz/cc-boss/internal/prompts"
	"github.com/hochfrequenz/cc-boss/internal/runner"
	"github.com/hochfrequenz/cc-boss/internal/scheduler"
	"github.com/hochfrequenz/cc-boss/internal/taskstore"
	"github.com/hochfrequenz/cc-boss/internal/watcher"
	"github.com/hochfrequenz/cc-boss/internal/worktree"
	"github.com/hochfrequenz/cc-boss/tui"
	"github.com/hochfrequenz/cc-boss/web/api"
)

var (
	addPriority int
	listStatus  string
	listLimit   int
	servePort   int
	tuiAddr     string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator and its web API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	addCmd := &cobra.Command{
		Use:   "add PROMPT",
		Short: "Enqueue a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
	}
	addCmd.Flags().IntVar(&addPriority, "priority", 0, "task priority, higher runs sooner")
	rootCmd.AddCommand(addCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue totals",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "max tasks to show")
	rootCmd.AddCommand(listCmd)

	logsCmd := &cobra.Command{
		Use:   "logs TASK",
		Short: "Show the event log of a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	rootCmd.AddCommand(logsCmd)

	approveCmd := &cobra.Command{
		Use:   "approve TASK",
		Short: "Approve a planned task for execution",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprove,
	}
	rootCmd.AddCommand(approveCmd)

	rejectCmd := &cobra.Command{
		Use:   "reject TASK",
		Short: "Reject a planned task",
		Args:  cobra.ExactArgs(1),
		RunE:  runReject,
	}
	rootCmd.AddCommand(rejectCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the dashboard against a running server",
		RunE:  runTUI,
	}
	tuiCmd.Flags().StringVar(&tuiAddr, "addr", "", "server base URL (default from config)")
	rootCmd.AddCommand(tuiCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*taskstore.Store, error) {
	return taskstore.New(cfg.General.DatabasePath)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if n, err := store.RecoverInterrupted(); err != nil {
		return fmt.Errorf("recovering interrupted tasks: %w", err)
	} else if n > 0 {
		log.Printf("requeued %d tasks interrupted by the previous run", n)
	}

	bus := eventbus.New(eventbus.DefaultBuffer)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Notifications.SlackWebhook != "" {
		notifier = notify.NewSlackNotifier(cfg.Notifications.SlackWebhook)
	}
	store.SetOnChange(func(taskID string, status domain.TaskStatus) {
		bus.PublishStatus(taskID, status)
		switch status {
		case domain.StatusFailed, domain.StatusPlanned:
			task, err := store.Get(taskID)
			if err != nil {
				return
			}
			var n notify.Notification
			if status == domain.StatusFailed {
				n = notify.TaskFailed(task, task.Error)
			} else {
				n = notify.PlanReady(task)
			}
			if err := notifier.Send(n); err != nil {
				log.Printf("notify: %v", err)
			}
		}
	})

	prompts.SetDefault(prompts.DefaultLoader(cfg.General.RepoPath))

	r := runner.New(cfg.Agent.Command, cfg.AttemptTimeout())
	ledger := progress.NewLedger(store.DB(), cfg.ProgressPath())
	p := planner.New(store, r, cfg.General.RepoPath)
	w := watcher.New(store, cfg.Scheduler.FixPriorityBonus)
	defer w.Close()
	tracker := observer.NewTracker()
	worktrees := worktree.NewManager(cfg.General.RepoPath, cfg.General.WorktreeDir)

	orch := scheduler.NewOrchestrator(cfg.Scheduler.MaxWorkers, store, r, p, ledger, w, bus, tracker, worktrees,
		scheduler.Options{
			PollInterval: cfg.PollInterval(),
			RetryLimit:   cfg.Scheduler.RetryLimit,
			RequirePlans: cfg.Scheduler.RequirePlans,
		})

	bus.SetSnapshotFunc(func() eventbus.Snapshot {
		counts, err := store.CountByStatus()
		if err != nil {
			counts = make(map[domain.TaskStatus]int)
		}
		return eventbus.Snapshot{Workers: orch.WorkerStatuses(), Tasks: counts}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(addr, store, p, bus, tracker, orch.WorkerStatuses)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pw, err := observer.NewProgressWatcher(cfg.ProgressPath(), bus.PublishProgress); err != nil {
		log.Printf("progress watcher disabled: %v", err)
	} else {
		pw.Start(ctx)
		defer pw.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Start(ctx) })
	g.Go(func() error { return server.Serve(ctx) })

	if len(cfg.Batches) > 0 {
		batches, err := batch.NewScheduler(cfg.Batches, func(prompt string, priority int) error {
			_, err := store.Enqueue(prompt, priority)
			return err
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			batches.Start(ctx)
			return nil
		})
	}

	log.Printf("cc-boss serving on http://%s (workers=%d, repo=%s)", addr, cfg.Scheduler.MaxWorkers, cfg.General.RepoPath)
	return g.Wait()
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	task, err := store.Enqueue(args[0], addPriority)
	if err != nil {
		return err
	}
	fmt.Printf("Enqueued %s (priority %d)\n", task.ID, task.Priority)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.CountByStatus()
	if err != nil {
		return err
	}

	var total int
	for _, n := range counts {
		total += n
	}
	fmt.Printf("Tasks: %d total\n", total)

	order := []domain.TaskStatus{
		domain.StatusPending, domain.StatusPlanning, domain.StatusPlanned,
		domain.StatusApproved, domain.StatusRunning, domain.StatusNeedsFix,
		domain.StatusDone, domain.StatusFailed,
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, st := range order {
		if n := counts[st]; n > 0 {
			fmt.Fprintf(w, "  %s\t%d\n", st, n)
		}
	}
	w.Flush()

	tasks, err := store.List(taskstore.ListOptions{Limit: 1000})
	if err != nil {
		return err
	}
	var cost float64
	var tokensIn, tokensOut int
	for _, t := range tasks {
		cost += t.CostUSD
		tokensIn += t.TokensIn
		tokensOut += t.TokensOut
	}
	fmt.Printf("Spent: $%.4f (%s tokens in, %s tokens out)\n",
		cost, humanize.Comma(int64(tokensIn)), humanize.Comma(int64(tokensOut)))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	tasks, err := store.List(taskstore.ListOptions{
		Status: domain.TaskStatus(listStatus),
		Limit:  listLimit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIO\tATTEMPTS\tAGE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			t.ID, t.Title(), t.Status, t.Priority, t.Attempts, humanize.Time(t.CreatedAt))
	}
	w.Flush()
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	logs, err := store.GetLogs(args[0])
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		fmt.Println("no log entries")
		return nil
	}
	for _, l := range logs {
		fmt.Printf("%s  %-18s %s\n", l.TS.Format("15:04:05"), l.EventType, l.Content)
	}
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Approve(args[0]); err != nil {
		return err
	}
	fmt.Printf("Approved %s\n", args[0])
	return nil
}

func runReject(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Reject(args[0]); err != nil {
		return err
	}
	fmt.Printf("Rejected %s\n", args[0])
	return nil
}

func runTUI(cmd *cobra.Command, args []string) error {
	addr := tuiAddr
	if addr == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr = fmt.Sprintf("http://%s:%d", cfg.Web.Host, cfg.Web.Port)
	}

	model := tui.NewModel(tui.NewClient(addr))
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
