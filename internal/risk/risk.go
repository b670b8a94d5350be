// Package risk implements the weighted risk-scoring engine that evaluates
// proposed transactions before the gatekeeper decides whether they execute,
// wait for human approval, or get blocked.
//
// Factors are independent, stateless rules. Each factor sees the same
// evaluation context and reports whether it triggered and how badly (0..1).
// The engine aggregates triggered factors into a normalized overall score
// and classifies it into a risk level.
package risk

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ErrInvalidContext is returned when an evaluation context is malformed.
// It is the only error Assess can return: a sparse or unhelpful context
// is not an error, it just triggers fewer factors.
var ErrInvalidContext = errors.New("risk: invalid evaluation context")

// Level classifies an overall risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Bands holds the classification cutoffs. Every score maps to exactly one
// level: score >= CriticalMin is critical, >= HighMin is high, >= MediumMin
// is medium, everything below is low.
type Bands struct {
	CriticalMin float64
	HighMin     float64
	MediumMin   float64
}

// DefaultBands are the standard classification cutoffs.
func DefaultBands() Bands {
	return Bands{CriticalMin: 0.85, HighMin: 0.65, MediumMin: 0.35}
}

// Classify maps a score to its level.
func (b Bands) Classify(score float64) Level {
	switch {
	case score >= b.CriticalMin:
		return LevelCritical
	case score >= b.HighMin:
		return LevelHigh
	case score >= b.MediumMin:
		return LevelMedium
	default:
		return LevelLow
	}
}

// FactorResult is the outcome of a single factor evaluation.
// Score is only meaningful when Triggered is true.
type FactorResult struct {
	Triggered bool
	Score     float64 // 0..1
	Reason    string
	Metadata  map[string]string
}

// Factor is a named, weighted, independently pluggable unit of risk logic.
// Evaluate must be a pure function of the context: no side effects, no
// shared mutable state. Returning nil means "not triggered".
type Factor interface {
	ID() string
	Label() string
	Weight() float64
	Evaluate(ctx context.Context, ec *EvaluationContext) *FactorResult
}

// EvaluationContext carries everything a factor might want to look at.
// Every field is optional: factors that need a missing field are no-ops.
type EvaluationContext struct {
	// Transaction shape
	To       string   // destination address, lowercase hex
	Value    *big.Int // wei
	HasData  bool     // true if the transaction carries call data
	ChainID  int64
	GasPrice *big.Int // wei

	// Agent spending state
	PerTxLimit   *big.Int // max value for a single transaction
	SpentLast24h *big.Int // rolling 24h cumulative spend
	DailyLimit   *big.Int
	Whitelist    map[string]bool // lowercase address set; nil means "no whitelist"
	Blacklist    map[string]bool

	// Counterparty reputation
	Sanctioned     map[string]bool
	KnownContracts map[string]bool

	// Historical behavior
	MeanValue   *big.Int // mean transaction value
	StddevValue *big.Int
	TxCount24h  int

	// Chain telemetry
	ChainHealthy *bool // nil means "unknown"
	RPCLatency   time.Duration

	// Simulation outcome
	SimulationOK    *bool // nil means "not simulated"
	SimulationError string
}

// Valid reports whether the context is structurally sound.
func (ec *EvaluationContext) Valid() bool {
	if ec == nil {
		return false
	}
	if ec.Value != nil && ec.Value.Sign() < 0 {
		return false
	}
	if ec.GasPrice != nil && ec.GasPrice.Sign() < 0 {
		return false
	}
	return true
}

// TriggeredFactor records one triggered factor inside an assessment.
type TriggeredFactor struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// Assessment is the aggregate result of evaluating all registered factors.
type Assessment struct {
	OverallScore     float64           `json:"overallScore"` // always in [0,1]
	Level            Level             `json:"level"`
	RequiresApproval bool              `json:"requiresApproval"`
	BlockExecution   bool              `json:"blockExecution"`
	TriggeredFactors []TriggeredFactor `json:"triggeredFactors"`
	Recommendations  []string          `json:"recommendations"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Estimate is the coarse outcome of a quick pre-check.
type Estimate string

const (
	EstimateLow    Estimate = "low"
	EstimateMedium Estimate = "medium"
	EstimateHigh   Estimate = "high"
)

// QuickCheck is a cheap pre-assessment used to decide whether a full
// simulation is worth paying for. It carries no authority over the
// final gating decision.
type QuickCheck struct {
	Estimate       Estimate `json:"estimate"`
	ShouldSimulate bool     `json:"shouldSimulate"`
}
