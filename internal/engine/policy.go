package engine

import (
	"encoding/json"
	"fmt"
)

// Names of the built-in handlers. These are the keys of ChainPolicy.Handlers
// and the values accepted in the configured chain order.
const (
	HandlerTripwire     = "tripwire"
	HandlerDepthGuard   = "depth_guard"
	HandlerSingleAction = "single_action"
	HandlerConvergence  = "convergence"
)

// DefaultOrder is the registration order used when none is configured.
// Tripwire runs first so forbidden content halts before anything else sees
// it; depth_guard runs before single_action so an illegal delegation does not
// consume the turn's action budget; convergence runs last because it rewrites.
var DefaultOrder = []string{
	HandlerTripwire,
	HandlerDepthGuard,
	HandlerSingleAction,
	HandlerConvergence,
}

// IsKnownHandler reports whether name is a built-in handler.
func IsKnownHandler(name string) bool {
	for _, n := range DefaultOrder {
		if n == name {
			return true
		}
	}
	return false
}

// ChainPolicy represents per-project handler configuration.
// Loaded from the policies table's handler_config JSONB column.
type ChainPolicy struct {
	Handlers map[string]HandlerPolicy `json:"handlers"`
}

// GetHandlerPolicy returns the policy for a handler by name.
// If the ChainPolicy is nil or the handler is missing, returns
// a zero-value HandlerPolicy (all nil fields → server defaults).
func (cp *ChainPolicy) GetHandlerPolicy(name string) HandlerPolicy {
	if cp == nil || cp.Handlers == nil {
		return HandlerPolicy{}
	}
	return cp.Handlers[name]
}

// HandlerPolicy controls behavior of a single handler for a project.
// All pointer fields use nil to mean "use server default".
type HandlerPolicy struct {
	Enabled    *bool    `json:"enabled,omitempty"`      // nil = use server default
	Patterns   []string `json:"patterns,omitempty"`     // tripwire only, appended to server patterns
	MaxPerTurn *int     `json:"max_per_turn,omitempty"` // single_action only
	Threshold  *float64 `json:"threshold,omitempty"`    // convergence only
}

// IsEnabled returns whether the handler is enabled.
// A nil Enabled field falls back to the provided server default.
func (hp HandlerPolicy) IsEnabled(serverDefault bool) bool {
	if hp.Enabled == nil {
		return serverDefault
	}
	return *hp.Enabled
}

// EffectiveMaxPerTurn returns the per-turn action limit.
func (hp HandlerPolicy) EffectiveMaxPerTurn(serverDefault int) int {
	if hp.MaxPerTurn == nil {
		return serverDefault
	}
	return *hp.MaxPerTurn
}

// EffectiveThreshold returns the convergence similarity threshold.
func (hp HandlerPolicy) EffectiveThreshold(serverDefault float64) float64 {
	if hp.Threshold == nil {
		return serverDefault
	}
	return *hp.Threshold
}

// ParsePolicyJSON parses a stored handler_config document.
// The DB stores it as {"tripwire": {...}, "convergence": {...}}: the top
// level IS the handlers map, not wrapped in a "handlers" key.
// Empty documents return a nil policy (server defaults).
func ParsePolicyJSON(raw []byte) (*ChainPolicy, error) {
	if len(raw) == 0 || string(raw) == "{}" || string(raw) == "null" {
		return nil, nil
	}
	var handlers map[string]HandlerPolicy
	if err := json.Unmarshal(raw, &handlers); err != nil {
		return nil, fmt.Errorf("ParsePolicyJSON: %w", err)
	}
	if len(handlers) == 0 {
		return nil, nil
	}
	return &ChainPolicy{Handlers: handlers}, nil
}
