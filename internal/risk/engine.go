package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/Sagexd08/autofi/internal/metrics"
)

// DefaultFactorTimeout bounds a single factor evaluation. Factors are pure
// in-memory functions, so this only matters when one misbehaves.
const DefaultFactorTimeout = 250 * time.Millisecond

// Engine evaluates all registered factors against a context and aggregates
// triggered results into a normalized score and classification.
type Engine struct {
	registry      *Registry
	bands         Bands
	factorTimeout time.Duration
	logger        *slog.Logger
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBands overrides the classification cutoffs.
func WithBands(b Bands) Option {
	return func(e *Engine) { e.bands = b }
}

// WithFactorTimeout overrides the per-factor evaluation timeout.
func WithFactorTimeout(d time.Duration) Option {
	return func(e *Engine) { e.factorTimeout = d }
}

// NewEngine creates an engine over the given registry.
func NewEngine(registry *Registry, opts ...Option) *Engine {
	e := &Engine{
		registry:      registry,
		bands:         DefaultBands(),
		factorTimeout: DefaultFactorTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assess evaluates every registered factor against the context and returns
// the aggregate assessment. A single bad factor never aborts the assessment:
// panics and timeouts degrade that factor to "not triggered" and are logged
// with the factor id. The only error condition is a malformed context.
func (e *Engine) Assess(ctx context.Context, ec *EvaluationContext, policy ThresholdPolicy) (*Assessment, error) {
	if !ec.Valid() {
		return nil, ErrInvalidContext
	}

	start := time.Now()
	factors := e.registry.Factors()
	results := make([]*FactorResult, len(factors))

	// Factors are independent pure functions, evaluate them concurrently.
	var wg sync.WaitGroup
	for i, f := range factors {
		wg.Add(1)
		go func(i int, f Factor) {
			defer wg.Done()
			results[i] = e.safeEvaluate(ctx, f, ec)
		}(i, f)
	}
	wg.Wait()

	var totalScore, totalWeight float64
	var triggered []TriggeredFactor
	for i, f := range factors {
		res := results[i]
		if res == nil || !res.Triggered {
			continue
		}
		score := clamp(res.Score, 0, 1)
		totalScore += score * f.Weight()
		totalWeight += f.Weight()
		triggered = append(triggered, TriggeredFactor{
			ID:     f.ID(),
			Label:  f.Label(),
			Score:  score,
			Reason: res.Reason,
		})
		metrics.FactorsTriggeredTotal.WithLabelValues(f.ID()).Inc()
	}

	// Normalize by max(totalWeight, 1), not totalWeight. This damps a single
	// low-weight trigger from dominating the score, at the cost of
	// under-weighting when the cumulative triggered weight is below 1.
	// Observable scores depend on this divisor: it is a tested contract,
	// do not change it to totalWeight alone.
	divisor := totalWeight
	if divisor < 1 {
		divisor = 1
	}
	overall := clamp(totalScore/divisor, 0, 1)
	level := e.bands.Classify(overall)

	a := &Assessment{
		OverallScore:     overall,
		Level:            level,
		RequiresApproval: policy.RequireApproval(overall),
		BlockExecution:   policy.Block(overall),
		TriggeredFactors: triggered,
		Recommendations:  e.recommendations(level, triggered),
		Timestamp:        time.Now().UTC(),
	}

	metrics.ObserveAssessment(string(level), start)
	return a, nil
}

// safeEvaluate runs one factor with panic isolation and a timeout.
// Any failure mode returns nil ("not triggered").
func (e *Engine) safeEvaluate(ctx context.Context, f Factor, ec *EvaluationContext) *FactorResult {
	cctx, cancel := context.WithTimeout(ctx, e.factorTimeout)
	defer cancel()

	done := make(chan *FactorResult, 1)
	go func() {
		var res *FactorResult
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("risk factor panicked",
					"factor", f.ID(), "panic", fmt.Sprint(r))
				metrics.FactorFailuresTotal.WithLabelValues(f.ID()).Inc()
				res = nil
			}
			// Buffered send: if the timeout already fired nobody is reading.
			select {
			case done <- res:
			default:
			}
		}()
		res = f.Evaluate(cctx, ec)
	}()

	select {
	case res := <-done:
		return res
	case <-cctx.Done():
		e.logger.Warn("risk factor timed out", "factor", f.ID(), "timeout", e.factorTimeout)
		metrics.FactorFailuresTotal.WithLabelValues(f.ID()).Inc()
		return nil
	}
}

// bandAdvice is the score-band boilerplate recommendation per level.
var bandAdvice = map[Level]string{
	LevelCritical: "Transaction blocked - manual review required before any retry",
	LevelHigh:     "High risk - require explicit human approval before execution",
	LevelMedium:   "Moderate risk - verify the destination and amount before proceeding",
}

// factorAdvice maps factor ids to remediation text.
var factorAdvice = map[string]string{
	FactorBlacklist:     "Remove the destination from the blacklist or abandon this transaction",
	FactorSanctioned:    "Destination appears on a sanctions list - do not proceed",
	FactorWhitelist:     "Add the destination to the agent whitelist if it is trusted",
	FactorPerTxLimit:    "Reduce the transaction value or raise the per-transaction limit",
	FactorDailyLimit:    "Wait for the rolling 24h window to clear or raise the daily limit",
	FactorValueAnomaly:  "Value is far outside this agent's historical pattern - confirm intent",
	FactorUnknownTarget: "Verify the target contract before interacting with it",
	FactorChainHealth:   "Chain telemetry is degraded - consider retrying later",
	FactorSimFailure:    "Simulation failed - inspect the revert reason before retrying",
	FactorBurstActivity: "Unusually many transactions in 24h - check for runaway automation",
	FactorGasSpike:      "Gas price is unusually high - consider waiting for fees to settle",
}

// recommendations builds the de-duplicated, order-preserving advice list:
// band boilerplate first, then per-factor templates in trigger order.
func (e *Engine) recommendations(level Level, triggered []TriggeredFactor) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	add(bandAdvice[level])
	for _, tf := range triggered {
		add(factorAdvice[tf.ID])
	}
	return out
}

// QuickCheck is a cheap, synchronous pre-check used to decide whether a
// full simulation is worth running before the real assessment. It performs
// no factor evaluation and carries no authority over the final decision.
func (e *Engine) QuickCheck(ec *EvaluationContext) QuickCheck {
	if ec == nil {
		return QuickCheck{Estimate: EstimateLow, ShouldSimulate: false}
	}

	to := ec.To
	if ec.Blacklist[to] || ec.Sanctioned[to] {
		return QuickCheck{Estimate: EstimateHigh, ShouldSimulate: true}
	}
	if ec.Value != nil && ec.PerTxLimit != nil && ec.Value.Cmp(ec.PerTxLimit) > 0 {
		return QuickCheck{Estimate: EstimateHigh, ShouldSimulate: true}
	}

	if ec.HasData && !ec.KnownContracts[to] {
		return QuickCheck{Estimate: EstimateMedium, ShouldSimulate: true}
	}
	if ec.Value != nil && ec.MeanValue != nil && ec.MeanValue.Sign() > 0 {
		doubled := new(big.Int).Lsh(ec.MeanValue, 1)
		if ec.Value.Cmp(doubled) > 0 {
			return QuickCheck{Estimate: EstimateMedium, ShouldSimulate: true}
		}
	}

	// Contract interactions are always worth simulating, plain transfers not.
	return QuickCheck{Estimate: EstimateLow, ShouldSimulate: ec.HasData}
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
