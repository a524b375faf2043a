package domain

import (
	"testing"
)

func TestParseEventLine_Assistant(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"Hello world"}]}}`

	ev, err := ParseEventLine([]byte(line))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != "assistant" {
		t.Errorf("Type = %q, want assistant", ev.Type)
	}
	if ev.Content != "Hello world" {
		t.Errorf("Content = %q, want %q", ev.Content, "Hello world")
	}
	if ev.IsError {
		t.Error("IsError = true, want false")
	}
}

func TestParseEventLine_AssistantJoinsTextBlocks(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"one"},{"type":"tool_use"},{"type":"text","text":"two"}]}}`

	ev, err := ParseEventLine([]byte(line))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Content != "one two" {
		t.Errorf("Content = %q, want %q", ev.Content, "one two")
	}
}

func TestParseEventLine_ToolUse(t *testing.T) {
	line := `{"type":"tool_use","name":"Read","input":{"file_path":"/tmp/x.go"}}`

	ev, err := ParseEventLine([]byte(line))
	if err != nil {
		t.Fatal(err)
	}
	if ev.Type != "tool_use" {
		t.Errorf("Type = %q, want tool_use", ev.Type)
	}
	if ev.ToolName != "Read" {
		t.Errorf("ToolName = %q, want Read", ev.ToolName)
	}
}

func TestParseEventLine_ToolResultError(t *testing.T) {
	line := `{"type":"tool_result","content":"File not found","is_error":true}`

	ev, err := ParseEventLine([]byte(line))
	if err != nil {
		t.Fatal(err)
	}
	if !ev.IsError {
		t.Error("IsError = false, want true")
	}
	if ev.Content != "File not found" {
		t.Errorf("Content = %q", ev.Content)
	}
}

func TestParseEventLine_Result(t *testing.T) {
	line := `{"type":"result","result":"Task completed","usage":{"input_tokens":1000,"output_tokens":500},"cost_usd":0.05}`

	ev, err := ParseEventLine([]byte(line))
	if err != nil {
		t.Fatal(err)
	}
	if ev.TokensIn != 1000 || ev.TokensOut != 500 {
		t.Errorf("tokens = %d/%d, want 1000/500", ev.TokensIn, ev.TokensOut)
	}
	if ev.CostUSD != 0.05 {
		t.Errorf("CostUSD = %f, want 0.05", ev.CostUSD)
	}
	if ev.Content != "Task completed" {
		t.Errorf("Content = %q", ev.Content)
	}
}

func TestParseEventLine_MalformedLine(t *testing.T) {
	if _, err := ParseEventLine([]byte("Compacting conversation...")); err == nil {
		t.Error("expected error for non-JSON line")
	}
}

func TestResultFromEvents(t *testing.T) {
	var events []*StreamEvent
	for _, line := range []string{
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Step 1"}]}}`,
		`{"type":"tool_result","content":"Error!","is_error":true}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Step 2"}]}}`,
		`{"type":"result","result":"done","usage":{"input_tokens":500,"output_tokens":200},"cost_usd":0.02}`,
	} {
		ev, err := ParseEventLine([]byte(line))
		if err != nil {
			t.Fatal(err)
		}
		events = append(events, ev)
	}

	res := ResultFromEvents(events)
	if res.Text != "Step 1\nStep 2" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.Errors) != 1 {
		t.Fatalf("Errors count = %d, want 1", len(res.Errors))
	}
	if res.CostUSD != 0.02 || res.TokensIn != 500 || res.TokensOut != 200 {
		t.Errorf("usage = %f/%d/%d", res.CostUSD, res.TokensIn, res.TokensOut)
	}
	if res.Events != 4 {
		t.Errorf("Events = %d, want 4", res.Events)
	}
}

func TestTaskStatus_Claimable(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{StatusPending, true},
		{StatusApproved, true},
		{StatusNeedsFix, true},
		{StatusPlanning, false},
		{StatusPlanned, false},
		{StatusRunning, false},
		{StatusDone, false},
		{StatusFailed, false},
	}
	for _, tt := range tests {
		if got := tt.status.Claimable(); got != tt.want {
			t.Errorf("%s.Claimable() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestTask_Title(t *testing.T) {
	task := &Task{Prompt: "Fix the login bug\nIt happens when the session expires"}
	if got := task.Title(); got != "Fix the login bug" {
		t.Errorf("Title() = %q", got)
	}

	long := &Task{Prompt: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
	if got := long.Title(); len(got) != 63 {
		t.Errorf("Title() length = %d, want 63", len(got))
	}
}
