package engine

import (
	"go.uber.org/zap"
)

// Chain runs handlers sequentially against a single message.
//
// Handlers execute in registration order. Each sees the content as rewritten
// by the handlers before it, so a handler that must see the original content
// has to be registered ahead of any handler that rewrites it. Drop and Halt
// short-circuit: later handlers never run.
//
// A Chain is built once and then shared. Add must not be called concurrently
// with Process.
type Chain struct {
	handlers []Handler
	logger   *zap.Logger
}

// NewChain creates a chain with the given handlers in order.
func NewChain(logger *zap.Logger, handlers ...Handler) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		handlers: append([]Handler(nil), handlers...),
		logger:   logger,
	}
}

// Add appends a handler to the end of the chain.
func (c *Chain) Add(h Handler) {
	c.handlers = append(c.handlers, h)
}

// Len returns the number of registered handlers.
func (c *Chain) Len() int { return len(c.handlers) }

// IsEmpty reports whether the chain has no handlers.
func (c *Chain) IsEmpty() bool { return len(c.handlers) == 0 }

// Names returns handler names in registration order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.handlers))
	for i, h := range c.handlers {
		names[i] = h.Name()
	}
	return names
}

// Result is a chain verdict plus which handlers produced it.
type Result struct {
	Verdict Verdict

	// DecidedBy names the handler that returned Drop or Halt. Empty when
	// every handler let the message through.
	DecidedBy string

	// ModifiedBy lists handlers that rewrote the content, in order.
	ModifiedBy []string
}

// Process threads content through every handler and returns the final verdict.
func (c *Chain) Process(content string, ictx Context) Verdict {
	return c.Evaluate(content, ictx).Verdict
}

// Evaluate is Process with attribution of the deciding handlers.
//
// Rules (applied per handler, in order):
//  1. Allow  → continue with the current content
//  2. Modify → replace the current content, continue
//  3. Drop   → return Drop immediately
//  4. Halt   → return Halt immediately
//
// After the last handler the chain returns Modify(final) if the final content
// differs from the input, otherwise Allow.
func (c *Chain) Evaluate(content string, ictx Context) Result {
	current := content
	var modifiedBy []string

	for _, h := range c.handlers {
		v := h.Intercept(current, ictx)
		switch v.Kind {
		case VerdictModify:
			c.logger.Info("intervention handler modified message",
				zap.String("handler", h.Name()),
				zap.Stringer("direction", ictx.Direction),
			)
			current = v.Content
			modifiedBy = append(modifiedBy, h.Name())
		case VerdictDrop:
			c.logger.Warn("intervention handler dropped message",
				zap.String("handler", h.Name()),
				zap.String("reason", v.Reason),
				zap.Stringer("direction", ictx.Direction),
			)
			return Result{Verdict: v, DecidedBy: h.Name(), ModifiedBy: modifiedBy}
		case VerdictHalt:
			c.logger.Error("intervention handler halted pipeline",
				zap.String("handler", h.Name()),
				zap.String("reason", v.Reason),
				zap.Stringer("direction", ictx.Direction),
			)
			return Result{Verdict: v, DecidedBy: h.Name(), ModifiedBy: modifiedBy}
		}
	}

	if current != content {
		return Result{Verdict: Modify(current), ModifiedBy: modifiedBy}
	}
	return Result{Verdict: Allow(), ModifiedBy: modifiedBy}
}

// ResetTurn resets every handler whose state is scoped to a turn.
func (c *Chain) ResetTurn() {
	for _, h := range c.handlers {
		if r, ok := h.(TurnResetter); ok {
			r.ResetTurn()
		}
	}
}

// ResetRound resets every handler whose state is scoped to an evaluation round.
func (c *Chain) ResetRound() {
	for _, h := range c.handlers {
		if r, ok := h.(RoundResetter); ok {
			r.ResetRound()
		}
	}
}
