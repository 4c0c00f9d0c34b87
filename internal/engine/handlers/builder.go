package handlers

import (
	"github.com/triage-ai/intervene/internal/engine"
	"go.uber.org/zap"
)

// Settings are the server-wide handler defaults. A project's ChainPolicy
// overrides them field by field.
type Settings struct {
	Order []string

	TripwireEnabled  bool
	TripwirePatterns []string

	DepthGuardEnabled bool

	SingleActionEnabled bool
	MaxActionsPerTurn   int

	ConvergenceEnabled   bool
	ConvergenceThreshold float64
}

// DefaultSettings enables every handler with the built-in defaults.
func DefaultSettings() Settings {
	return Settings{
		Order:                append([]string(nil), engine.DefaultOrder...),
		TripwireEnabled:      true,
		TripwirePatterns:     append([]string(nil), DefaultTripwirePatterns...),
		DepthGuardEnabled:    true,
		SingleActionEnabled:  true,
		MaxActionsPerTurn:    DefaultMaxActionsPerTurn,
		ConvergenceEnabled:   true,
		ConvergenceThreshold: DefaultConvergenceThreshold,
	}
}

// Build creates a fresh chain from server settings and an optional project
// policy. Every call returns new handler instances, so per-turn and per-round
// state is never shared between chains. Unknown names in the order are skipped.
func Build(s Settings, policy *engine.ChainPolicy, logger *zap.Logger) *engine.Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	order := s.Order
	if len(order) == 0 {
		order = engine.DefaultOrder
	}

	chain := engine.NewChain(logger)
	for _, name := range order {
		hp := policy.GetHandlerPolicy(name)
		switch name {
		case engine.HandlerTripwire:
			if !hp.IsEnabled(s.TripwireEnabled) {
				continue
			}
			patterns := append(append([]string(nil), s.TripwirePatterns...), hp.Patterns...)
			chain.Add(NewTripwireFromStrings(patterns, logger))
		case engine.HandlerDepthGuard:
			if !hp.IsEnabled(s.DepthGuardEnabled) {
				continue
			}
			chain.Add(NewDepthGuard())
		case engine.HandlerSingleAction:
			if !hp.IsEnabled(s.SingleActionEnabled) {
				continue
			}
			chain.Add(NewSingleAction(hp.EffectiveMaxPerTurn(s.MaxActionsPerTurn)))
		case engine.HandlerConvergence:
			if !hp.IsEnabled(s.ConvergenceEnabled) {
				continue
			}
			chain.Add(NewConvergenceDetector(hp.EffectiveThreshold(s.ConvergenceThreshold), logger))
		default:
			logger.Warn("unknown handler in chain order, skipping", zap.String("handler", name))
		}
	}
	return chain
}
