package handlers

import (
	"fmt"
	"math"
	"sync"

	"github.com/triage-ai/intervene/internal/engine"
	"go.uber.org/zap"
)

// DefaultConvergenceThreshold is the similarity at or above which two
// delegate outputs are considered converged.
const DefaultConvergenceThreshold = 0.7

// ConvergenceDetector flags delegate results that are suspiciously similar to
// an earlier result in the same evaluation round. It never blocks: a match
// prepends a warning to the content.
//
// Similarity is the Jaccard index over word trigrams. The first prior output
// reaching the threshold is reported, not the most similar one.
//
// The orchestrator must call Reset (or Chain.ResetRound) whenever it
// dispatches a fresh set of delegates; otherwise outputs from earlier rounds
// keep being compared.
type ConvergenceDetector struct {
	threshold float64
	logger    *zap.Logger

	mu sync.Mutex
	// outputs holds trigram sets of this round's delegate results, in
	// arrival order.
	outputs []map[string]struct{}
}

// NewConvergenceDetector creates a detector. threshold is clamped to [0,1];
// NaN falls back to DefaultConvergenceThreshold.
func NewConvergenceDetector(threshold float64, logger *zap.Logger) *ConvergenceDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if math.IsNaN(threshold) {
		threshold = DefaultConvergenceThreshold
	}
	return &ConvergenceDetector{
		threshold: clamp01(threshold),
		logger:    logger,
	}
}

func (d *ConvergenceDetector) Name() string {
	return engine.HandlerConvergence
}

// Threshold returns the effective (clamped) threshold.
func (d *ConvergenceDetector) Threshold() float64 {
	return d.threshold
}

// Len returns how many outputs have been recorded this round.
func (d *ConvergenceDetector) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.outputs)
}

// Reset clears recorded outputs.
func (d *ConvergenceDetector) Reset() {
	d.mu.Lock()
	d.outputs = nil
	d.mu.Unlock()
}

// ResetRound implements engine.RoundResetter.
func (d *ConvergenceDetector) ResetRound() {
	d.Reset()
}

func (d *ConvergenceDetector) Intercept(content string, ictx engine.Context) engine.Verdict {
	if ictx.Direction != engine.DirectionToolResult || ictx.ToolName != engine.DelegateTool {
		return engine.Allow()
	}

	similarity, converged := d.checkAndRecord(content)
	if !converged {
		return engine.Allow()
	}

	d.logger.Warn("convergence detected in delegate responses",
		zap.String("similarity", fmt.Sprintf("%.1f%%", similarity*100)),
		zap.String("agent_id", ictx.AgentID),
	)
	return engine.Modify(convergenceWarning(similarity) + "\n\n" + content)
}

// checkAndRecord compares content with every recorded output in order and
// then records it. Both steps run under one lock so concurrent results of
// the same round always see each other.
func (d *ConvergenceDetector) checkAndRecord(content string) (float64, bool) {
	set := wordTrigrams(content)

	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		similarity float64
		converged  bool
	)
	for _, prior := range d.outputs {
		if s := jaccard(prior, set); s >= d.threshold {
			similarity, converged = s, true
			break
		}
	}
	d.outputs = append(d.outputs, set)
	return similarity, converged
}

func convergenceWarning(similarity float64) string {
	return fmt.Sprintf(
		"[CONVERGENCE WARNING: This delegate response has %d%% similarity with a prior "+
			"delegate response. Unanimous agreement is a failure signal. Re-examine with "+
			"explicit skepticism.]",
		int(math.Round(similarity*100)),
	)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
