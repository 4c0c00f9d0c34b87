package handlers

import (
	"regexp"

	"github.com/triage-ai/intervene/internal/engine"
	"go.uber.org/zap"
)

// DefaultTripwirePatterns are the forbidden-content patterns used when the
// configuration does not provide any.
var DefaultTripwirePatterns = []string{
	`(?i)rm\s+-rf\s+/`,
	`(?i)\bmkfs(\.\w+)?\s+/dev/`,
	`(?i)dd\s+if=\S+\s+of=/dev/(sd|nvme|hd)`,
	`(?i):\(\)\s*\{\s*:\|:&\s*\};:`,
	`(?i)curl\s+[^|]*\|\s*(ba|z)?sh\b`,
	`(?i)-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
}

// Tripwire halts on any content matching a forbidden pattern. It cannot be
// reasoned with: a match is a Halt regardless of direction or actor.
type Tripwire struct {
	patterns []*regexp.Regexp
}

// NewTripwire creates a Tripwire from precompiled patterns.
func NewTripwire(patterns []*regexp.Regexp) *Tripwire {
	return &Tripwire{patterns: append([]*regexp.Regexp(nil), patterns...)}
}

// NewTripwireFromStrings compiles patterns, skipping any that fail to compile.
// Invalid patterns are logged at warn level and never fail construction.
func NewTripwireFromStrings(patterns []string, logger *zap.Logger) *Tripwire {
	if logger == nil {
		logger = zap.NewNop()
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Warn("tripwire: invalid pattern skipped",
				zap.String("pattern", p),
				zap.Error(err),
			)
			continue
		}
		compiled = append(compiled, re)
	}
	return &Tripwire{patterns: compiled}
}

func (t *Tripwire) Name() string {
	return engine.HandlerTripwire
}

// Patterns returns the active pattern sources in registration order.
func (t *Tripwire) Patterns() []string {
	out := make([]string, len(t.patterns))
	for i, re := range t.patterns {
		out[i] = re.String()
	}
	return out
}

func (t *Tripwire) Intercept(content string, _ engine.Context) engine.Verdict {
	for _, re := range t.patterns {
		if re.MatchString(content) {
			return engine.Halt("TRIPWIRE: content matched forbidden pattern /" + re.String() + "/")
		}
	}
	return engine.Allow()
}
