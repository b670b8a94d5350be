package risk

import (
	"context"
	"math/big"
	"testing"
	"time"
)

// stubFactor is a controllable factor for engine tests.
type stubFactor struct {
	id     string
	weight float64
	result *FactorResult
	eval   func(ctx context.Context, ec *EvaluationContext) *FactorResult
}

func (f *stubFactor) ID() string      { return f.id }
func (f *stubFactor) Label() string   { return "stub " + f.id }
func (f *stubFactor) Weight() float64 { return f.weight }

func (f *stubFactor) Evaluate(ctx context.Context, ec *EvaluationContext) *FactorResult {
	if f.eval != nil {
		return f.eval(ctx, ec)
	}
	return f.result
}

func TestAssessNoTriggersIsZeroLow(t *testing.T) {
	engine := NewEngine(NewRegistry(
		&stubFactor{id: "a", weight: 1.0},
		&stubFactor{id: "b", weight: 0.5},
	))

	a, err := engine.Assess(context.Background(), &EvaluationContext{}, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.OverallScore != 0 {
		t.Errorf("expected score 0, got %f", a.OverallScore)
	}
	if a.Level != LevelLow {
		t.Errorf("expected low, got %s", a.Level)
	}
	if a.RequiresApproval || a.BlockExecution {
		t.Error("empty assessment should not require approval or block")
	}
	if len(a.TriggeredFactors) != 0 {
		t.Errorf("expected no triggered factors, got %d", len(a.TriggeredFactors))
	}
}

func TestAssessSingleFullWeightFactor(t *testing.T) {
	engine := NewEngine(NewRegistry(
		&stubFactor{id: "single", weight: 1.0, result: &FactorResult{Triggered: true, Score: 0.9}},
	))

	a, err := engine.Assess(context.Background(), &EvaluationContext{}, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// weight 1.0: divisor is exactly the weight, score passes through
	if a.OverallScore != 0.9 {
		t.Errorf("expected 0.9, got %f", a.OverallScore)
	}
}

func TestAssessLowWeightDamping(t *testing.T) {
	engine := NewEngine(NewRegistry(
		&stubFactor{id: "weak", weight: 0.5, result: &FactorResult{Triggered: true, Score: 0.8}},
	))

	a, err := engine.Assess(context.Background(), &EvaluationContext{}, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// total weight 0.5 < 1, so the divisor floors at 1: 0.8*0.5/1 = 0.4
	if a.OverallScore != 0.4 {
		t.Errorf("expected damped 0.4, got %f", a.OverallScore)
	}
}

func TestAssessWeightedAverage(t *testing.T) {
	engine := NewEngine(NewRegistry(
		&stubFactor{id: "a", weight: 1.0, result: &FactorResult{Triggered: true, Score: 1.0}},
		&stubFactor{id: "b", weight: 1.0, result: &FactorResult{Triggered: true, Score: 0.5}},
	))

	a, err := engine.Assess(context.Background(), &EvaluationContext{}, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.OverallScore != 0.75 {
		t.Errorf("expected 0.75, got %f", a.OverallScore)
	}
	if len(a.TriggeredFactors) != 2 {
		t.Errorf("expected 2 triggered factors, got %d", len(a.TriggeredFactors))
	}
}

func TestAssessClampsFactorScores(t *testing.T) {
	engine := NewEngine(NewRegistry(
		&stubFactor{id: "over", weight: 1.0, result: &FactorResult{Triggered: true, Score: 3.0}},
	))

	a, err := engine.Assess(context.Background(), &EvaluationContext{}, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.OverallScore != 1.0 {
		t.Errorf("expected clamp to 1.0, got %f", a.OverallScore)
	}
}

func TestAssessInvalidContext(t *testing.T) {
	engine := NewEngine(NewRegistry())

	if _, err := engine.Assess(context.Background(), nil, DefaultPolicy()); err != ErrInvalidContext {
		t.Errorf("nil context: expected ErrInvalidContext, got %v", err)
	}

	neg := &EvaluationContext{Value: big.NewInt(-1)}
	if _, err := engine.Assess(context.Background(), neg, DefaultPolicy()); err != ErrInvalidContext {
		t.Errorf("negative value: expected ErrInvalidContext, got %v", err)
	}
}

func TestAssessPanicIsolation(t *testing.T) {
	engine := NewEngine(NewRegistry(
		&stubFactor{id: "bomb", weight: 1.0, eval: func(context.Context, *EvaluationContext) *FactorResult {
			panic("boom")
		}},
		&stubFactor{id: "ok", weight: 1.0, result: &FactorResult{Triggered: true, Score: 0.5}},
	))

	a, err := engine.Assess(context.Background(), &EvaluationContext{}, DefaultPolicy())
	if err != nil {
		t.Fatalf("panicking factor must not abort assessment: %v", err)
	}
	if a.OverallScore != 0.5 {
		t.Errorf("expected surviving factor score 0.5, got %f", a.OverallScore)
	}
	if len(a.TriggeredFactors) != 1 || a.TriggeredFactors[0].ID != "ok" {
		t.Errorf("expected only the healthy factor to trigger: %+v", a.TriggeredFactors)
	}
}

func TestAssessFactorTimeout(t *testing.T) {
	engine := NewEngine(NewRegistry(
		&stubFactor{id: "slow", weight: 1.0, eval: func(context.Context, *EvaluationContext) *FactorResult {
			time.Sleep(200 * time.Millisecond)
			return &FactorResult{Triggered: true, Score: 1.0}
		}},
	), WithFactorTimeout(10*time.Millisecond))

	a, err := engine.Assess(context.Background(), &EvaluationContext{}, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.OverallScore != 0 {
		t.Errorf("timed-out factor must count as not triggered, got score %f", a.OverallScore)
	}
}

func TestAssessPolicyBooleans(t *testing.T) {
	engine := NewEngine(NewRegistry(
		&stubFactor{id: "hot", weight: 1.0, result: &FactorResult{Triggered: true, Score: 0.9}},
	))

	a, err := engine.Assess(context.Background(), &EvaluationContext{}, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.RequiresApproval {
		t.Error("0.9 should require approval with default policy")
	}
	if !a.BlockExecution {
		t.Error("0.9 should block with default policy (blockMin 0.85)")
	}
	if a.Level != LevelCritical {
		t.Errorf("0.9 should classify critical, got %s", a.Level)
	}
}

func TestBandsClassify(t *testing.T) {
	b := DefaultBands()
	cases := []struct {
		score float64
		want  Level
	}{
		{0.0, LevelLow},
		{0.34, LevelLow},
		{0.35, LevelMedium},
		{0.64, LevelMedium},
		{0.65, LevelHigh},
		{0.84, LevelHigh},
		{0.85, LevelCritical},
		{1.0, LevelCritical},
	}
	for _, c := range cases {
		if got := b.Classify(c.score); got != c.want {
			t.Errorf("Classify(%v) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestRecommendationsDeduplicated(t *testing.T) {
	engine := NewEngine(NewRegistry(
		&stubFactor{id: FactorBlacklist, weight: 1.0, result: &FactorResult{Triggered: true, Score: 1.0}},
		&stubFactor{id: FactorBlacklist, weight: 1.0, result: &FactorResult{Triggered: true, Score: 1.0}},
	))

	// Registry replaces by id, so only one instance remains; trigger it and
	// verify band advice comes first with no duplicates.
	a, err := engine.Assess(context.Background(), &EvaluationContext{}, DefaultPolicy())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Recommendations) != 2 {
		t.Fatalf("expected band advice + factor advice, got %v", a.Recommendations)
	}
	if a.Recommendations[0] != bandAdvice[LevelCritical] {
		t.Errorf("band advice should come first, got %q", a.Recommendations[0])
	}
	seen := map[string]bool{}
	for _, r := range a.Recommendations {
		if seen[r] {
			t.Errorf("duplicate recommendation %q", r)
		}
		seen[r] = true
	}
}

func TestQuickCheck(t *testing.T) {
	engine := NewEngine(NewRegistry())

	cases := []struct {
		name     string
		ec       *EvaluationContext
		estimate Estimate
		simulate bool
	}{
		{
			name:     "nil context",
			ec:       nil,
			estimate: EstimateLow,
			simulate: false,
		},
		{
			name:     "blacklisted destination",
			ec:       &EvaluationContext{To: "0xbad", Blacklist: map[string]bool{"0xbad": true}},
			estimate: EstimateHigh,
			simulate: true,
		},
		{
			name: "over per-tx limit",
			ec: &EvaluationContext{
				Value:      big.NewInt(200),
				PerTxLimit: big.NewInt(100),
			},
			estimate: EstimateHigh,
			simulate: true,
		},
		{
			name:     "unknown contract with data",
			ec:       &EvaluationContext{To: "0xabc", HasData: true},
			estimate: EstimateMedium,
			simulate: true,
		},
		{
			name: "value over twice mean",
			ec: &EvaluationContext{
				Value:     big.NewInt(300),
				MeanValue: big.NewInt(100),
			},
			estimate: EstimateMedium,
			simulate: true,
		},
		{
			name:     "plain transfer",
			ec:       &EvaluationContext{To: "0xabc", Value: big.NewInt(1)},
			estimate: EstimateLow,
			simulate: false,
		},
		{
			name: "known contract with data",
			ec: &EvaluationContext{
				To: "0xabc", HasData: true,
				KnownContracts: map[string]bool{"0xabc": true},
			},
			estimate: EstimateLow,
			simulate: true,
		},
	}

	for _, c := range cases {
		qc := engine.QuickCheck(c.ec)
		if qc.Estimate != c.estimate {
			t.Errorf("%s: estimate = %s, want %s", c.name, qc.Estimate, c.estimate)
		}
		if qc.ShouldSimulate != c.simulate {
			t.Errorf("%s: shouldSimulate = %v, want %v", c.name, qc.ShouldSimulate, c.simulate)
		}
	}
}
