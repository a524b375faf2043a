package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// StreamEvent is a single decoded unit from the agent's stream-json output
type StreamEvent struct {
	TaskID    string `json:"task_id,omitempty"`
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	Content   string `json:"content,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	CostUSD   float64
	TokensIn  int
	TokensOut int
}

// streamLine mirrors the wire shapes claude emits with --output-format stream-json
type streamLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	Delta *struct {
		Text string `json:"text"`
	} `json:"delta"`
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
	Output  json.RawMessage `json:"output"`
	IsError bool            `json:"is_error"`
	Result  string          `json:"result"`
	Error   json.RawMessage `json:"error"`
	Usage   *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	CostUSD float64 `json:"cost_usd"`
}

// ParseEventLine decodes one output line into a StreamEvent.
// Non-JSON lines (progress spinners and the like) return an error so callers
// can skip them without aborting the attempt.
func ParseEventLine(line []byte) (*StreamEvent, error) {
	var raw streamLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}

	ev := &StreamEvent{
		Type:    raw.Type,
		Subtype: raw.Subtype,
		IsError: raw.IsError,
	}
	if ev.Type == "" {
		ev.Type = "unknown"
	}

	switch raw.Type {
	case "assistant":
		if raw.Message != nil {
			var parts []string
			for _, p := range raw.Message.Content {
				if p.Type == "text" && p.Text != "" {
					parts = append(parts, p.Text)
				}
			}
			ev.Content = strings.Join(parts, " ")
		}

	case "content_block_delta":
		if raw.Delta != nil {
			ev.Content = raw.Delta.Text
		}

	case "tool_use":
		ev.ToolName = raw.Name

	case "tool_result":
		ev.Content = rawToString(raw.Content)
		if ev.Content == "" {
			ev.Content = rawToString(raw.Output)
		}

	case "result":
		ev.Content = raw.Result
		if raw.Usage != nil {
			ev.TokensIn = raw.Usage.InputTokens
			ev.TokensOut = raw.Usage.OutputTokens
		}
		ev.CostUSD = raw.CostUSD

	case "error":
		ev.IsError = true
		ev.Content = rawToString(raw.Error)
		if ev.Content == "" {
			ev.Content = rawToString(raw.Content)
		}
	}

	return ev, nil
}

// rawToString renders a JSON value that may be a plain string or a nested structure
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// RunResult aggregates the full event stream of one finished attempt
type RunResult struct {
	Text      string
	Errors    []string
	CostUSD   float64
	TokensIn  int
	TokensOut int
	Events    int
}

// ResultFromEvents folds a finished event stream into a RunResult
func ResultFromEvents(events []*StreamEvent) RunResult {
	var res RunResult
	var texts []string
	for _, e := range events {
		if e.Type == "assistant" && e.Content != "" {
			texts = append(texts, e.Content)
		}
		if e.IsError && e.Content != "" {
			res.Errors = append(res.Errors, e.Content)
		}
		if e.Type == "result" {
			if e.CostUSD != 0 {
				res.CostUSD = e.CostUSD
			}
			if e.TokensIn != 0 {
				res.TokensIn = e.TokensIn
			}
			if e.TokensOut != 0 {
				res.TokensOut = e.TokensOut
			}
		}
	}
	res.Text = strings.Join(texts, "\n")
	res.Events = len(events)
	return res
}

// Outcome is the terminal result of one runner attempt
type Outcome struct {
	Success      bool
	TimedOut     bool
	Summary      string
	ErrorSummary string
	CostUSD      float64
	TokensIn     int
	TokensOut    int
	Duration     time.Duration
}
