package routing

import (
	"math/rand"
	"strings"
	"testing"
	"time"
)

func TestEstimateComplexityBounds(t *testing.T) {
	// Short, plain, no history: well below 4.
	low := EstimateComplexity("hi", SessionContext{})
	if low >= 4 {
		t.Fatalf("trivial message scored %d, want < 4", low)
	}

	// Long message needing tools, reasoning, and carrying history: at least 7.
	long := strings.Repeat("analyze this dataset ", 30)
	high := EstimateComplexity(long, SessionContext{
		NeedsTools:     true,
		NeedsReasoning: true,
		HistoryTurns:   10,
	})
	if high < 7 {
		t.Fatalf("complex turn scored %d, want >= 7", high)
	}
}

func TestEstimateComplexityMonotonic(t *testing.T) {
	base := SessionContext{}
	msg := "please do the thing"

	plain := EstimateComplexity(msg, base)

	withTools := base
	withTools.NeedsTools = true
	if EstimateComplexity(msg, withTools) < plain {
		t.Fatalf("adding tool need must not lower complexity")
	}

	withHistory := base
	withHistory.HistoryTurns = 25
	if EstimateComplexity(msg, withHistory) < plain {
		t.Fatalf("adding history must not lower complexity")
	}

	if EstimateComplexity(msg+"```go\nfunc main() {}\n```", base) < plain {
		t.Fatalf("adding code must not lower complexity")
	}

	if EstimateComplexity(strings.Repeat(msg, 200), base) < plain {
		t.Fatalf("longer message must not lower complexity")
	}
}

func TestCapabilityGateDominates(t *testing.T) {
	// The tools gate holds across randomized cost/speed/reasoning values.
	rng := rand.New(rand.NewSource(42))
	ctx := SessionContext{NeedsTools: true}

	for i := 0; i < 100; i++ {
		info := ModelInfo{
			SupportsTools:   false,
			SupportsVision:  rng.Intn(2) == 0,
			ReasoningLevel:  rng.Intn(4),
			InputPrice:      rng.Float64() * 20,
			OutputPrice:     rng.Float64() * 80,
			AvgResponseTime: time.Duration(rng.Intn(15000)) * time.Millisecond,
		}
		score := Score("any message", ctx, "acct", info, Weights{})
		if score.CapabilityScore != 0 {
			t.Fatalf("capability = %v with tools unsupported (info %+v)", score.CapabilityScore, info)
		}
		if score.Available {
			t.Fatalf("account must be unavailable on tool mismatch")
		}
		if score.TotalScore != 0 {
			t.Fatalf("unavailable account must score 0, got %v", score.TotalScore)
		}
	}
}

func TestVisionGate(t *testing.T) {
	ctx := SessionContext{HasImages: true}
	info := ModelInfo{SupportsTools: true, SupportsVision: false, ReasoningLevel: 3}
	score := Score("look at this", ctx, "acct", info, Weights{})
	if score.Available {
		t.Fatalf("vision mismatch must mark unavailable")
	}
}

func TestCapabilityRewardsReasoningWhenComplex(t *testing.T) {
	ctx := SessionContext{NeedsTools: true, NeedsReasoning: true, HistoryTurns: 30}
	msg := strings.Repeat("hard problem ", 200)

	weak := ModelInfo{SupportsTools: true, SupportsVision: true, ReasoningLevel: 0}
	strong := ModelInfo{SupportsTools: true, SupportsVision: true, ReasoningLevel: 3}

	weakScore := Score(msg, ctx, "weak", weak, Weights{})
	strongScore := Score(msg, ctx, "strong", strong, Weights{})
	if strongScore.CapabilityScore <= weakScore.CapabilityScore {
		t.Fatalf("high complexity should reward reasoning level: weak %v strong %v",
			weakScore.CapabilityScore, strongScore.CapabilityScore)
	}
}

func TestCapabilityRewardsLowTierWhenSimple(t *testing.T) {
	ctx := SessionContext{}

	cheap := ModelInfo{SupportsTools: true, ReasoningLevel: 0}
	frontier := ModelInfo{SupportsTools: true, ReasoningLevel: 3}

	cheapScore := Score("hi", ctx, "cheap", cheap, Weights{})
	frontierScore := Score("hi", ctx, "frontier", frontier, Weights{})
	if cheapScore.CapabilityScore <= frontierScore.CapabilityScore {
		t.Fatalf("simple turn should reward the cheap tier: cheap %v frontier %v",
			cheapScore.CapabilityScore, frontierScore.CapabilityScore)
	}
}

func TestCostScoreMonotonic(t *testing.T) {
	ctx := SessionContext{HistoryTurns: 3}
	cheap := ModelInfo{SupportsTools: true, InputPrice: 0.25, OutputPrice: 1.25}
	pricey := ModelInfo{SupportsTools: true, InputPrice: 15, OutputPrice: 75}

	msg := "estimate this"
	if Score(msg, ctx, "a", cheap, Weights{}).CostScore <= Score(msg, ctx, "b", pricey, Weights{}).CostScore {
		t.Fatalf("higher prices must lower the cost score")
	}

	long := strings.Repeat(msg, 500)
	if Score(long, ctx, "a", cheap, Weights{}).CostScore > Score(msg, ctx, "a", cheap, Weights{}).CostScore {
		t.Fatalf("longer messages must not raise the cost score")
	}
}

func TestSpeedScore(t *testing.T) {
	if got := scoreSpeed(ModelInfo{}); got != 50 {
		t.Fatalf("missing data must score the neutral 50, got %v", got)
	}
	if got := scoreSpeed(ModelInfo{AvgResponseTime: time.Second}); got <= 80 {
		t.Fatalf("1s should score above 80, got %v", got)
	}
	if got := scoreSpeed(ModelInfo{AvgResponseTime: 12 * time.Second}); got >= 20 {
		t.Fatalf("12s should score below 20, got %v", got)
	}
}

func TestWeightsValidate(t *testing.T) {
	if err := (Weights{Complexity: -1, Capability: 1}).Validate(); err == nil {
		t.Fatalf("negative weight must fail validation")
	}
	if err := (Weights{}).Validate(); err == nil {
		t.Fatalf("all-zero weights must fail validation")
	}
	if err := DefaultWeights().Validate(); err != nil {
		t.Fatalf("default weights must validate: %v", err)
	}
}

func TestScoreUsesDefaultWeightsWhenUnset(t *testing.T) {
	info := ModelInfo{SupportsTools: true, ReasoningLevel: 1, AvgResponseTime: 2 * time.Second}
	unset := Score("hello", SessionContext{}, "a", info, Weights{})
	explicit := Score("hello", SessionContext{}, "a", info, DefaultWeights())
	if unset.TotalScore != explicit.TotalScore {
		t.Fatalf("zero weights should fall back to defaults: %v vs %v",
			unset.TotalScore, explicit.TotalScore)
	}
}
