package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/triage-ai/intervene/internal/engine/handlers"
	"go.uber.org/zap"
)

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const delegationScenario = `
name: "delegation round"
steps:
  - content: "investigate the outage"
    direction: inbound
    expect: allow
  - content: "{\"task\": \"check logs\"}"
    direction: tool_invocation
    tool_name: delegate
    expect: allow
  - content: "{\"task\": \"check metrics\"}"
    direction: tool_invocation
    tool_name: delegate
    expect: drop
  - action: reset_turn
  - content: "the database connection pool was exhausted at noon"
    direction: tool_result
    tool_name: delegate
    agent_id: worker-1
    expect: allow
  - content: "the database connection pool was exhausted at noon"
    direction: tool_result
    tool_name: delegate
    agent_id: worker-2
    expect: modify
  - action: reset_round
  - content: "the database connection pool was exhausted at noon"
    direction: tool_result
    tool_name: delegate
    agent_id: worker-3
    expect: allow
  - content: "{}"
    direction: tool_invocation
    tool_name: delegate
    agent_id: worker-3
    expect: drop
  - content: "cleanup: rm -rf / --no-preserve-root"
    direction: outbound_request
    expect: halt
`

func TestLoadAndRun_AllPass(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "run.yaml", delegationScenario)

	result, err := LoadAndRun(path, handlers.DefaultSettings(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if result.File != path {
		t.Errorf("file = %q, want %q", result.File, path)
	}
	if result.Failed != 0 {
		for _, s := range result.Steps {
			if !s.Passed {
				t.Errorf("step %d: expected %s, got %s (%s)", s.Index, s.Expected, s.Verdict, s.Reason)
			}
		}
	}
	if result.Total != 10 || result.Checked != 8 || result.Passed != 8 {
		t.Errorf("total=%d checked=%d passed=%d, want 10/8/8", result.Total, result.Checked, result.Passed)
	}
	if got := result.Steps[8].DecidedBy; got != "depth_guard" {
		t.Errorf("step 9 decided_by = %q, want depth_guard", got)
	}
}

func TestRun_FailedExpectation(t *testing.T) {
	s := &Scenario{
		Name: "wrong expectation",
		Steps: []Step{
			{Content: "hello", Direction: "inbound", Expect: "HALT"},
			{Content: "hello again", Direction: "inbound"},
		},
	}
	result, err := Run(s, handlers.DefaultSettings(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 || result.Passed != 0 || result.Checked != 1 {
		t.Errorf("failed=%d passed=%d checked=%d, want 1/0/1", result.Failed, result.Passed, result.Checked)
	}
	if result.Steps[0].Expected != "halt" {
		t.Errorf("expected = %q, want lowercased halt", result.Steps[0].Expected)
	}
	if !result.Steps[1].Passed || result.Steps[1].Checked() {
		t.Error("unchecked step should pass without being counted")
	}
}

func TestRun_ScenarioPolicy(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "policy.yaml", `
name: "two actions per turn"
policy:
  single_action:
    max_per_turn: 2
  convergence:
    enabled: false
steps:
  - {content: "a", direction: tool_invocation, tool_name: search, expect: allow}
  - {content: "b", direction: tool_invocation, tool_name: search, expect: allow}
  - {content: "c", direction: tool_invocation, tool_name: search, expect: drop}
`)
	result, err := LoadAndRun(path, handlers.DefaultSettings(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 0 {
		t.Errorf("failed = %d, want 0", result.Failed)
	}
	if strings.Contains(strings.Join(result.Handlers, ","), "convergence") {
		t.Errorf("handlers = %v, convergence should be disabled", result.Handlers)
	}
}

func TestRun_InvalidPolicy(t *testing.T) {
	s := &Scenario{
		Name:   "bad policy",
		Policy: map[string]any{"single_action": map[string]any{"max_per_turn": "lots"}},
		Steps:  []Step{{Content: "x", Direction: "inbound"}},
	}
	if _, err := Run(s, handlers.DefaultSettings(), zap.NewNop()); err == nil {
		t.Fatal("expected policy validation error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Step
		wantErr string
	}{
		{"empty", nil, "no steps"},
		{"bad direction", []Step{{Direction: "upward"}}, "unknown direction"},
		{"bad action", []Step{{Action: "rewind"}}, "unknown action"},
		{"bad expect", []Step{{Direction: "inbound", Expect: "maybe"}}, "unknown expected verdict"},
		{"resets need no direction", []Step{{Action: "reset_turn"}, {Action: "RESET_ROUND"}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Scenario{Steps: tt.steps}).Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeScenario(t, t.TempDir(), "bad.yaml", ":::not yaml\x00")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestFormat(t *testing.T) {
	s := &Scenario{
		Name: "mixed",
		Steps: []Step{
			{Content: "x", Direction: "tool_invocation", ToolName: "search", Expect: "allow"},
			{Action: "reset_turn"},
			{Content: "x", Direction: "tool_invocation", ToolName: "delegate", AgentID: "w1", Expect: "allow"},
		},
	}
	result, err := Run(s, handlers.DefaultSettings(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	text := FormatText([]*RunResult{result})
	for _, want := range []string{
		"FAIL  mixed (1/2 checked steps)",
		"-- reset_turn --",
		"tool_invocation:delegate@w1",
		"by depth_guard (expected allow)",
		"1 of 2 checked steps passed. 1 of 1 scenarios failed.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("text output missing %q:\n%s", want, text)
		}
	}

	out, err := FormatJSON([]*RunResult{result})
	if err != nil {
		t.Fatal(err)
	}
	var decoded []RunResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 1 || decoded[0].Failed != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}
