package replay

// Step kinds.
const (
	ActionProcess    = "process"
	ActionResetTurn  = "reset_turn"
	ActionResetRound = "reset_round"
)

// Step is one message or reset in a recorded orchestrator run.
type Step struct {
	Action    string `yaml:"action,omitempty"` // default: process
	Content   string `yaml:"content,omitempty"`
	Direction string `yaml:"direction,omitempty"`
	AgentID   string `yaml:"agent_id,omitempty"`
	ToolName  string `yaml:"tool_name,omitempty"`
	Provider  string `yaml:"provider,omitempty"`
	Model     string `yaml:"model,omitempty"`
	Expect    string `yaml:"expect,omitempty"` // allow|modify|drop|halt, optional
}

// Scenario is a named, ordered run replayed through a single chain.
type Scenario struct {
	Name string `yaml:"name"`
	// Policy uses the handler_config layout, e.g. {single_action: {max_per_turn: 2}}.
	Policy map[string]any `yaml:"policy,omitempty"`
	Steps  []Step         `yaml:"steps"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index     int    `json:"index"`
	Action    string `json:"action"`
	Direction string `json:"direction,omitempty"`
	ToolName  string `json:"tool_name,omitempty"`
	AgentID   string `json:"agent_id,omitempty"`
	Verdict   string `json:"verdict,omitempty"`
	Reason    string `json:"reason,omitempty"`
	DecidedBy string `json:"decided_by,omitempty"`
	Expected  string `json:"expected,omitempty"`
	Passed    bool   `json:"passed"`
}

// Checked reports whether the step carried an expectation.
func (s StepResult) Checked() bool {
	return s.Expected != ""
}

// RunResult is the outcome of replaying one scenario file.
type RunResult struct {
	File     string       `json:"file"`
	Name     string       `json:"name"`
	Handlers []string     `json:"handlers"`
	Total    int          `json:"total"`
	Checked  int          `json:"checked"`
	Passed   int          `json:"passed"`
	Failed   int          `json:"failed"`
	Steps    []StepResult `json:"steps"`
}
