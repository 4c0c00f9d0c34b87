package handlers

import (
	"fmt"
	"sync/atomic"

	"github.com/triage-ai/intervene/internal/engine"
)

// DefaultMaxActionsPerTurn is the ACT discipline default: one tool call per
// turn, verify before the next.
const DefaultMaxActionsPerTurn = 1

// SingleAction limits tool invocations per turn. Calls past the limit are
// dropped until Reset is called.
//
// The orchestrator must call Reset (or Chain.ResetTurn) at the start of every
// turn; otherwise calls accumulate and the handler stays restrictive.
type SingleAction struct {
	calls      atomic.Uint32
	maxPerTurn uint32
}

// NewSingleAction creates a handler allowing maxPerTurn tool calls per turn.
// Negative limits are treated as zero.
func NewSingleAction(maxPerTurn int) *SingleAction {
	if maxPerTurn < 0 {
		maxPerTurn = 0
	}
	return &SingleAction{maxPerTurn: uint32(maxPerTurn)}
}

func (h *SingleAction) Name() string {
	return engine.HandlerSingleAction
}

// MaxPerTurn returns the configured limit.
func (h *SingleAction) MaxPerTurn() int {
	return int(h.maxPerTurn)
}

// Count returns the number of tool invocations seen this turn.
func (h *SingleAction) Count() int {
	return int(h.calls.Load())
}

// Reset zeroes the per-turn counter.
func (h *SingleAction) Reset() {
	h.calls.Store(0)
}

// ResetTurn implements engine.TurnResetter.
func (h *SingleAction) ResetTurn() {
	h.Reset()
}

func (h *SingleAction) Intercept(_ string, ictx engine.Context) engine.Verdict {
	if ictx.Direction != engine.DirectionToolInvocation {
		return engine.Allow()
	}

	// Add returns the post-increment value; the limit applies to the count
	// before this call.
	prior := h.calls.Add(1) - 1
	if prior >= h.maxPerTurn {
		return engine.Drop(fmt.Sprintf(
			"ACT discipline: max %d tool call(s) per turn exceeded (attempted #%d)",
			h.maxPerTurn, prior+1,
		))
	}
	return engine.Allow()
}
