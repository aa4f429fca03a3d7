// Package routing selects which upstream model account serves an agent turn:
// a composite scorer over capability, cost, and speed metadata, and a router
// handling manual mode, session pinning, fail-safe fallback, and failover.
package routing

import (
	"fmt"
	"strings"
	"time"
)

// ModelInfo describes one model account's capabilities and pricing. Supplied
// per request by a caller-provided lookup; the router never stores it.
type ModelInfo struct {
	ContextWindow  int
	SupportsTools  bool
	SupportsVision bool
	// ReasoningLevel is an ordinal tier, 0 (basic) through 3 (frontier).
	ReasoningLevel int
	// InputPrice/OutputPrice are USD per million tokens.
	InputPrice  float64
	OutputPrice float64
	// AvgResponseTime of recent calls. Zero means no data.
	AvgResponseTime time.Duration
}

// SessionContext carries the per-session signals scoring depends on.
type SessionContext struct {
	SessionID       string
	HistoryTurns    int
	HasCode         bool
	HasImages       bool
	NeedsTools      bool
	NeedsReasoning  bool
	PinnedAccountID string
}

// Weights blends the four sub-scores into the composite total.
type Weights struct {
	Complexity float64 `yaml:"complexity" json:"complexity"`
	Capability float64 `yaml:"capability" json:"capability"`
	Cost       float64 `yaml:"cost" json:"cost"`
	Speed      float64 `yaml:"speed" json:"speed"`
}

// DefaultWeights favors capability over cost and speed.
func DefaultWeights() Weights {
	return Weights{Complexity: 0.3, Capability: 0.4, Cost: 0.2, Speed: 0.1}
}

// IsZero reports whether no weight is set.
func (w Weights) IsZero() bool {
	return w.Complexity == 0 && w.Capability == 0 && w.Cost == 0 && w.Speed == 0
}

// Validate rejects negative weights and an all-zero blend.
func (w Weights) Validate() error {
	if w.Complexity < 0 || w.Capability < 0 || w.Cost < 0 || w.Speed < 0 {
		return fmt.Errorf("routing weights must be non-negative: %+v", w)
	}
	if w.IsZero() {
		return fmt.Errorf("routing weights must not all be zero")
	}
	return nil
}

// AccountScore is the evaluation result for one account. Available is false
// when the capability gate failed or the metadata lookup did not resolve,
// and then TotalScore is zero.
type AccountScore struct {
	AccountID       string
	ComplexityScore float64
	CapabilityScore float64
	CostScore       float64
	SpeedScore      float64
	TotalScore      float64
	Available       bool
}

// codeMarkers are message fragments that signal code content beyond fenced
// blocks.
var codeMarkers = []string{"```", "func ", "def ", "class ", "import ", "#include", "select * from", "=> {"}

// EstimateComplexity rates a message turn from 0 (trivial) to 10. The
// estimate is monotonic in message length, code presence, image presence,
// tool and reasoning needs, and history length.
func EstimateComplexity(message string, ctx SessionContext) int {
	score := 0

	switch n := len(message); {
	case n >= 2000:
		score += 3
	case n >= 500:
		score += 2
	case n >= 100:
		score++
	}

	if ctx.HasCode || hasCodeMarkers(message) {
		score += 2
	}
	if ctx.HasImages {
		score++
	}
	if ctx.NeedsTools {
		score += 2
	}
	if ctx.NeedsReasoning {
		score += 2
	}

	switch {
	case ctx.HistoryTurns >= 20:
		score += 2
	case ctx.HistoryTurns >= 5:
		score++
	}

	if score > 10 {
		score = 10
	}
	return score
}

func hasCodeMarkers(message string) bool {
	lower := strings.ToLower(message)
	for _, marker := range codeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Score evaluates one account against a message turn. A zero Weights value
// uses DefaultWeights.
func Score(message string, ctx SessionContext, accountID string, info ModelInfo, weights Weights) AccountScore {
	if weights.IsZero() {
		weights = DefaultWeights()
	}

	complexity := EstimateComplexity(message, ctx)

	capability := scoreCapability(complexity, ctx, info)
	if capability == 0 {
		// Hard capability mismatch dominates everything else.
		return AccountScore{AccountID: accountID, Available: false}
	}

	match := scoreComplexityMatch(complexity, info)
	cost := scoreCost(message, ctx, info)
	speed := scoreSpeed(info)

	total := weights.Complexity*match +
		weights.Capability*capability +
		weights.Cost*cost +
		weights.Speed*speed

	return AccountScore{
		AccountID:       accountID,
		ComplexityScore: match,
		CapabilityScore: capability,
		CostScore:       cost,
		SpeedScore:      speed,
		TotalScore:      total,
		Available:       true,
	}
}

// scoreCapability gates on hard requirements, then rewards reasoning tier on
// complex turns and low-tier accounts on simple ones.
func scoreCapability(complexity int, ctx SessionContext, info ModelInfo) float64 {
	if ctx.NeedsTools && !info.SupportsTools {
		return 0
	}
	if ctx.HasImages && !info.SupportsVision {
		return 0
	}

	level := float64(info.ReasoningLevel)
	switch {
	case complexity >= 7:
		return clamp(60+level*13, 0, 100)
	case complexity <= 3:
		// Simple turns reward the cheap, fast tiers.
		return clamp(90-level*12, 40, 100)
	default:
		return clamp(70+level*7, 0, 100)
	}
}

// scoreComplexityMatch rewards accounts whose tier sits near the estimated
// complexity.
func scoreComplexityMatch(complexity int, info ModelInfo) float64 {
	ideal := float64(info.ReasoningLevel) * 10.0 / 3.0
	diff := float64(complexity) - ideal
	if diff < 0 {
		diff = -diff
	}
	return clamp(100-diff*12, 0, 100)
}

// scoreCost is higher for cheaper estimated cost; monotonically decreasing in
// message length and unit prices.
func scoreCost(message string, ctx SessionContext, info ModelInfo) float64 {
	inputTokens := float64(len(message))/4 + float64(ctx.HistoryTurns)*200
	const outputTokens = 500.0

	costUSD := inputTokens/1e6*info.InputPrice + outputTokens/1e6*info.OutputPrice
	return clamp(100-costUSD*2000, 0, 100)
}

// scoreSpeed maps average response time onto 0..100. Missing data yields the
// neutral 50.
func scoreSpeed(info ModelInfo) float64 {
	if info.AvgResponseTime <= 0 {
		return 50
	}
	seconds := info.AvgResponseTime.Seconds()
	return clamp(100-seconds*7.5, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
