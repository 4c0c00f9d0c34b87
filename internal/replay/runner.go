// Package replay runs recorded orchestrator traffic through an intervention
// chain and compares each verdict with the expected one.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/triage-ai/intervene/internal/engine"
	"github.com/triage-ai/intervene/internal/engine/handlers"
	"go.uber.org/zap"
)

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks every step before anything is replayed.
func (s *Scenario) Validate() error {
	var errs []error
	if len(s.Steps) == 0 {
		errs = append(errs, errors.New("no steps"))
	}
	for i, st := range s.Steps {
		switch st.action() {
		case ActionProcess:
			if _, ok := engine.ParseDirection(st.Direction); !ok {
				errs = append(errs, fmt.Errorf("step %d: unknown direction %q", i+1, st.Direction))
			}
		case ActionResetTurn, ActionResetRound:
		default:
			errs = append(errs, fmt.Errorf("step %d: unknown action %q", i+1, st.Action))
		}
		if st.Expect != "" {
			if _, ok := engine.ParseVerdictKind(strings.ToLower(st.Expect)); !ok {
				errs = append(errs, fmt.Errorf("step %d: unknown expected verdict %q", i+1, st.Expect))
			}
		}
	}
	return errors.Join(errs...)
}

// ChainPolicy converts the scenario policy through the same schema check the
// policy API applies.
func (s *Scenario) ChainPolicy() (*engine.ChainPolicy, error) {
	if len(s.Policy) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(s.Policy)
	if err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	if err := engine.ValidatePolicyJSON(raw); err != nil {
		return nil, err
	}
	return engine.ParsePolicyJSON(raw)
}

func (st Step) action() string {
	if st.Action == "" {
		return ActionProcess
	}
	return strings.ToLower(st.Action)
}

// Run replays every step in order through one chain built from settings and
// the scenario policy. Unlike independent test cases, steps share handler
// state, so resets in the file matter.
func Run(s *Scenario, settings handlers.Settings, logger *zap.Logger) (*RunResult, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	policy, err := s.ChainPolicy()
	if err != nil {
		return nil, err
	}
	chain := handlers.Build(settings, policy, logger)

	result := &RunResult{
		Name:     s.Name,
		Handlers: chain.Names(),
		Total:    len(s.Steps),
	}

	for i, st := range s.Steps {
		sr := StepResult{
			Index:  i + 1,
			Action: st.action(),
		}

		switch sr.Action {
		case ActionResetTurn:
			chain.ResetTurn()
			sr.Passed = true
		case ActionResetRound:
			chain.ResetRound()
			sr.Passed = true
		default:
			direction, _ := engine.ParseDirection(st.Direction)
			res := chain.Evaluate(st.Content, engine.Context{
				Direction: direction,
				AgentID:   st.AgentID,
				ToolName:  st.ToolName,
				Provider:  st.Provider,
				Model:     st.Model,
			})
			sr.Direction = st.Direction
			sr.ToolName = st.ToolName
			sr.AgentID = st.AgentID
			sr.Verdict = res.Verdict.Kind.String()
			sr.Reason = res.Verdict.Reason
			sr.DecidedBy = res.DecidedBy
			sr.Expected = strings.ToLower(st.Expect)

			if sr.Checked() {
				result.Checked++
				if sr.Verdict == sr.Expected {
					sr.Passed = true
					result.Passed++
				} else {
					result.Failed++
				}
			} else {
				sr.Passed = true
			}
		}

		result.Steps = append(result.Steps, sr)
	}

	return result, nil
}

// LoadAndRun loads a scenario file and replays it.
func LoadAndRun(path string, settings handlers.Settings, logger *zap.Logger) (*RunResult, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	result, err := Run(s, settings, logger)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	result.File = path
	return result, nil
}
