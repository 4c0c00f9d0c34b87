package handlers

import (
	"github.com/triage-ai/intervene/internal/engine"
)

// DepthGuard prevents delegates from spawning further delegates, keeping the
// delegation graph at root → delegate. Stateless.
type DepthGuard struct{}

func NewDepthGuard() *DepthGuard {
	return &DepthGuard{}
}

func (d *DepthGuard) Name() string {
	return engine.HandlerDepthGuard
}

func (d *DepthGuard) Intercept(_ string, ictx engine.Context) engine.Verdict {
	if ictx.Direction != engine.DirectionToolInvocation {
		return engine.Allow()
	}
	// The root orchestrator has no agent identity and may delegate freely.
	if ictx.IsDelegate() && ictx.ToolName == engine.DelegateTool {
		return engine.Drop("One-depth dispatch: agent '" + ictx.AgentID + "' cannot delegate further")
	}
	return engine.Allow()
}
