package batch

import (
	"testing"
	"time"

	"github.com/hochfrequenz/cc-boss/internal/config"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 22 * * *", false},   // 10 PM daily
		{"0 12 * * 1-5", false}, // noon weekdays
		{"*/5 * * * *", false},  // every 5 minutes
		{"invalid", true},
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNewScheduler_RejectsBadCron(t *testing.T) {
	_, err := NewScheduler([]config.BatchConfig{
		{Name: "bad", Cron: "not a schedule", Prompt: "x"},
	}, nil)
	if err == nil {
		t.Error("invalid cron expression should error at construction")
	}
}

func TestNextRun(t *testing.T) {
	s, err := NewScheduler([]config.BatchConfig{
		{Name: "nightly", Cron: "0 22 * * *", Prompt: "x"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	next := s.NextRun("nightly")
	if next.IsZero() {
		t.Fatal("NextRun returned zero time")
	}
	if !next.After(time.Now()) {
		t.Error("NextRun should be in the future")
	}
	if !s.NextRun("unknown").IsZero() {
		t.Error("unknown batch should return zero time")
	}
}

func TestFire_EnqueuesDueBatch(t *testing.T) {
	var prompts []string
	var priorities []int
	s, err := NewScheduler([]config.BatchConfig{
		{Name: "minutely", Cron: "* * * * *", Prompt: "sweep the floor", Priority: 3},
	}, func(prompt string, priority int) error {
		prompts = append(prompts, prompt)
		priorities = append(priorities, priority)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	s.lastRun["minutely"] = now.Add(-2 * time.Minute)
	s.fire(now)

	if len(prompts) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(prompts))
	}
	if prompts[0] != "sweep the floor" || priorities[0] != 3 {
		t.Errorf("enqueued %q prio %d", prompts[0], priorities[0])
	}

	// Immediately firing again must not double-enqueue.
	s.fire(now.Add(time.Second))
	if len(prompts) != 1 {
		t.Errorf("double fire enqueued %d", len(prompts))
	}
}

func TestFire_FreshSchedulerSkipsBackfill(t *testing.T) {
	var calls int
	s, err := NewScheduler([]config.BatchConfig{
		{Name: "minutely", Cron: "* * * * *", Prompt: "x"},
	}, func(string, int) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	s.fire(now)
	if calls != 0 {
		t.Errorf("fresh scheduler fired %d times immediately", calls)
	}
	s.fire(now.Add(2 * time.Minute))
	if calls != 1 {
		t.Errorf("calls = %d after schedule elapsed, want 1", calls)
	}
}
