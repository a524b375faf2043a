package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/cc-boss/internal/domain"
)

// DefaultTimeout is the wall-clock ceiling per attempt when none is configured
const DefaultTimeout = 30 * time.Minute

// EventSink receives every stream event as it is produced
type EventSink interface {
	HandleEvent(ev *domain.StreamEvent)
}

// SinkFunc adapts a function to an EventSink
type SinkFunc func(ev *domain.StreamEvent)

func (f SinkFunc) HandleEvent(ev *domain.StreamEvent) { f(ev) }

// MultiSink fans each event out to several sinks in order
func MultiSink(sinks ...EventSink) EventSink {
	return SinkFunc(func(ev *domain.StreamEvent) {
		for _, s := range sinks {
			if s != nil {
				s.HandleEvent(ev)
			}
		}
	})
}

// Runner spawns the external coding agent for one task attempt and parses its
// line-delimited event stream until exit. It is the only component that
// touches the agent process directly.
type Runner struct {
	Command string        // agent executable, e.g. "claude"
	Timeout time.Duration // hard ceiling per attempt
}

// New creates a Runner with the given agent command and attempt timeout
func New(command string, timeout time.Duration) *Runner {
	return &Runner{Command: command, Timeout: timeout}
}

func (r *Runner) command() string {
	if r.Command == "" {
		return "claude"
	}
	return r.Command
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Run executes one attempt in the given directory. Every decoded event is
// forwarded to the sink as it arrives; malformed lines are skipped. The
// returned Outcome is terminal for the attempt: success, failure with an
// error summary, or failure with a timeout signature after the subprocess
// has been killed.
func (r *Runner) Run(ctx context.Context, task *domain.Task, dir string, sink EventSink) domain.Outcome {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	args := []string{
		"-p", task.Prompt,
		"--dangerously-skip-permissions",
		"--output-format", "stream-json",
		"--verbose",
	}
	cmd := exec.CommandContext(ctx, r.command(), args...)
	cmd.Dir = dir
	// Unblocks the stdout read if a killed agent leaves children holding the pipe
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return spawnFailure(err, start)
	}
	if err := cmd.Start(); err != nil {
		return spawnFailure(fmt.Errorf("starting %s: %w", r.command(), err), start)
	}

	var events []*domain.StreamEvent
	scanner := bufio.NewScanner(stdout)
	// Long JSON lines: tool results can carry whole files
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := domain.ParseEventLine(line)
		if err != nil {
			// Non-JSON output (progress indicators), skip
			continue
		}
		ev.TaskID = task.ID
		events = append(events, ev)
		if sink != nil {
			sink.HandleEvent(ev)
		}
	}

	waitErr := cmd.Wait()
	res := domain.ResultFromEvents(events)

	out := domain.Outcome{
		Summary:   res.Text,
		CostUSD:   res.CostUSD,
		TokensIn:  res.TokensIn,
		TokensOut: res.TokensOut,
		Duration:  time.Since(start),
	}

	switch {
	case ctx.Err() == context.DeadlineExceeded:
		out.TimedOut = true
		out.ErrorSummary = fmt.Sprintf("timeout: attempt exceeded %s ceiling", r.timeout())
	case len(res.Errors) > 0:
		out.ErrorSummary = joinFirst(res.Errors, 5)
	case waitErr != nil:
		msg := waitErr.Error()
		if s := strings.TrimSpace(stderr.String()); s != "" {
			msg += ": " + firstLine(s)
		}
		out.ErrorSummary = "unknown: " + msg
	default:
		out.Success = true
	}

	return out
}

func spawnFailure(err error, start time.Time) domain.Outcome {
	return domain.Outcome{
		ErrorSummary: err.Error(),
		Duration:     time.Since(start),
	}
}

// joinFirst joins up to n entries, each capped to keep fix prompts readable
func joinFirst(items []string, n int) string {
	if len(items) > n {
		items = items[:n]
	}
	capped := make([]string, len(items))
	for i, s := range items {
		if len(s) > 200 {
			cut := 200
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			s = s[:cut]
		}
		capped[i] = s
	}
	return strings.Join(capped, "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
