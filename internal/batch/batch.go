package batch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/cc-boss/internal/config"
)

// EnqueueFunc pushes one recurring prompt into the task queue
type EnqueueFunc func(prompt string, priority int) error

// Scheduler enqueues recurring prompts on cron schedules. It ticks once a
// minute and fires every batch whose schedule has elapsed since its last run.
type Scheduler struct {
	batches map[string]config.BatchConfig
	parser  cron.Parser
	enqueue EnqueueFunc

	mu      sync.RWMutex
	lastRun map[string]time.Time
}

// NewScheduler validates the batch cron expressions and builds a scheduler
func NewScheduler(batches []config.BatchConfig, enqueue EnqueueFunc) (*Scheduler, error) {
	s := &Scheduler{
		batches: make(map[string]config.BatchConfig),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		enqueue: enqueue,
		lastRun: make(map[string]time.Time),
	}
	for _, b := range batches {
		if _, err := s.parser.Parse(b.Cron); err != nil {
			return nil, err
		}
		s.batches[b.Name] = b
	}
	return s, nil
}

// ParseCron parses a standard five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Names returns all configured batch names
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.batches))
	for name := range s.batches {
		names = append(names, name)
	}
	return names
}

// NextRun returns the next scheduled run time for a batch
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[name]
	if !ok {
		return time.Time{}
	}
	sched, err := s.parser.Parse(b.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// due reports whether a batch's schedule has elapsed since its last run
func (s *Scheduler) due(name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[name]
	if !ok {
		return false
	}
	sched, err := s.parser.Parse(b.Cron)
	if err != nil {
		return false
	}

	last := s.lastRun[name]
	if last.IsZero() {
		// A fresh scheduler fires only on schedules due after startup,
		// not on everything missed while the process was down.
		s.lastRun[name] = now
		return false
	}
	return now.After(sched.Next(last))
}

// markRun records a completed fire
func (s *Scheduler) markRun(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[name] = at
}

// fire enqueues every batch that is due
func (s *Scheduler) fire(now time.Time) {
	for name := range s.batches {
		if !s.due(name, now) {
			continue
		}
		b := s.batches[name]
		if err := s.enqueue(b.Prompt, b.Priority); err != nil {
			log.Printf("batch: enqueue %s: %v", name, err)
			continue
		}
		log.Printf("batch: enqueued %s", name)
		s.markRun(name, now)
	}
}

// Start runs the scheduler loop until the context is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fire(now)
		}
	}
}
