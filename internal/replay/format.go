package replay

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders run results as human-readable text.
func FormatText(results []*RunResult) string {
	var b strings.Builder

	totalChecked, totalPassed, failedScenarios := 0, 0, 0
	for _, r := range results {
		totalChecked += r.Checked
		totalPassed += r.Passed

		status := "PASS"
		if r.Failed > 0 {
			status = "FAIL"
			failedScenarios++
		}
		fmt.Fprintf(&b, "%s  %s (%d/%d checked steps)\n", status, r.Name, r.Passed, r.Checked)
		fmt.Fprintf(&b, "      chain: %s\n", strings.Join(r.Handlers, " -> "))

		for _, s := range r.Steps {
			switch s.Action {
			case ActionResetTurn, ActionResetRound:
				fmt.Fprintf(&b, "  %3d  -- %s --\n", s.Index, s.Action)
				continue
			}
			mark := "    "
			if s.Checked() {
				mark = "ok  "
				if !s.Passed {
					mark = "FAIL"
				}
			}
			target := s.Direction
			if s.ToolName != "" {
				target += ":" + s.ToolName
			}
			if s.AgentID != "" {
				target += "@" + s.AgentID
			}
			fmt.Fprintf(&b, "  %3d  %s %-36s %-6s", s.Index, mark, target, s.Verdict)
			if s.DecidedBy != "" {
				fmt.Fprintf(&b, " by %s", s.DecidedBy)
			}
			if s.Checked() && !s.Passed {
				fmt.Fprintf(&b, " (expected %s)", s.Expected)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "%d of %d checked steps passed.", totalPassed, totalChecked)
	if failedScenarios > 0 {
		fmt.Fprintf(&b, " %d of %d scenarios failed.", failedScenarios, len(results))
	}
	b.WriteString("\n")
	return b.String()
}

// FormatJSON renders run results as JSON.
func FormatJSON(results []*RunResult) (string, error) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	return string(data), nil
}
