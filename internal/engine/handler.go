package engine

// Handler is the interface every enforcement rule implements.
// Intercept must not block and must not mutate ictx.
type Handler interface {
	// Name returns the handler's stable identifier (e.g., "tripwire").
	Name() string

	// Intercept evaluates content and returns a verdict.
	Intercept(content string, ictx Context) Verdict
}

// TurnResetter is implemented by handlers whose state is scoped to one
// orchestrator turn. The orchestrator calls ResetTurn at the start of
// every turn.
type TurnResetter interface {
	ResetTurn()
}

// RoundResetter is implemented by handlers whose state is scoped to one
// evaluation round of delegate dispatches.
type RoundResetter interface {
	ResetRound()
}

// NoopHandler allows everything.
type NoopHandler struct{}

func (NoopHandler) Name() string { return "noop" }

func (NoopHandler) Intercept(string, Context) Verdict { return Allow() }
