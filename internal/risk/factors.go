package risk

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// Canonical factor ids. Recommendations and metrics are keyed by these.
const (
	FactorBlacklist     = "blacklisted_destination"
	FactorSanctioned    = "sanctioned_counterparty"
	FactorWhitelist     = "non_whitelisted_destination"
	FactorPerTxLimit    = "per_tx_limit_exceeded"
	FactorDailyLimit    = "daily_limit_exceeded"
	FactorValueAnomaly  = "value_anomaly"
	FactorUnknownTarget = "unknown_contract_interaction"
	FactorChainHealth   = "chain_degraded"
	FactorSimFailure    = "simulation_failed"
	FactorBurstActivity = "burst_activity"
	FactorGasSpike      = "gas_price_spike"
)

// DefaultFactors returns the built-in factor set in evaluation order.
func DefaultFactors() []Factor {
	return []Factor{
		&BlacklistFactor{},
		&SanctionedFactor{},
		&WhitelistFactor{},
		&PerTxLimitFactor{},
		&DailyLimitFactor{},
		&ValueAnomalyFactor{},
		&UnknownTargetFactor{},
		&SimulationFactor{},
		&ChainHealthFactor{},
		&BurstActivityFactor{},
		&GasSpikeFactor{},
	}
}

// ---------------------------------------------------------------------------
// BlacklistFactor: destination explicitly blocked by the agent's owner
// ---------------------------------------------------------------------------

type BlacklistFactor struct{}

func (f *BlacklistFactor) ID() string      { return FactorBlacklist }
func (f *BlacklistFactor) Label() string   { return "Blacklisted destination" }
func (f *BlacklistFactor) Weight() float64 { return 1.0 }

func (f *BlacklistFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if ec.To == "" || !ec.Blacklist[ec.To] {
		return nil
	}
	return &FactorResult{
		Triggered: true,
		Score:     1.0,
		Reason:    fmt.Sprintf("destination %s is blacklisted", ec.To),
	}
}

// ---------------------------------------------------------------------------
// SanctionedFactor: destination on a sanctions list
// ---------------------------------------------------------------------------

type SanctionedFactor struct{}

func (f *SanctionedFactor) ID() string      { return FactorSanctioned }
func (f *SanctionedFactor) Label() string   { return "Sanctioned counterparty" }
func (f *SanctionedFactor) Weight() float64 { return 1.0 }

func (f *SanctionedFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if ec.To == "" || !ec.Sanctioned[ec.To] {
		return nil
	}
	return &FactorResult{
		Triggered: true,
		Score:     1.0,
		Reason:    fmt.Sprintf("destination %s appears on a sanctions list", ec.To),
	}
}

// ---------------------------------------------------------------------------
// WhitelistFactor: agent has a whitelist and the destination is not on it
// ---------------------------------------------------------------------------

type WhitelistFactor struct{}

func (f *WhitelistFactor) ID() string      { return FactorWhitelist }
func (f *WhitelistFactor) Label() string   { return "Destination not whitelisted" }
func (f *WhitelistFactor) Weight() float64 { return 0.6 }

func (f *WhitelistFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	// No whitelist configured means the agent allows any destination.
	if ec.To == "" || len(ec.Whitelist) == 0 || ec.Whitelist[ec.To] {
		return nil
	}
	return &FactorResult{
		Triggered: true,
		Score:     0.8,
		Reason:    fmt.Sprintf("destination %s is not on the agent whitelist", ec.To),
	}
}

// ---------------------------------------------------------------------------
// PerTxLimitFactor: value exceeds the per-transaction limit
// ---------------------------------------------------------------------------

type PerTxLimitFactor struct{}

func (f *PerTxLimitFactor) ID() string      { return FactorPerTxLimit }
func (f *PerTxLimitFactor) Label() string   { return "Per-transaction limit exceeded" }
func (f *PerTxLimitFactor) Weight() float64 { return 0.9 }

func (f *PerTxLimitFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if ec.Value == nil || ec.PerTxLimit == nil || ec.PerTxLimit.Sign() <= 0 {
		return nil
	}
	if ec.Value.Cmp(ec.PerTxLimit) <= 0 {
		return nil
	}
	return &FactorResult{
		Triggered: true,
		Score:     1.0,
		Reason: fmt.Sprintf("value %s exceeds per-transaction limit %s",
			ec.Value.String(), ec.PerTxLimit.String()),
	}
}

// ---------------------------------------------------------------------------
// DailyLimitFactor: projected 24h spend exceeds the daily limit
// ---------------------------------------------------------------------------

type DailyLimitFactor struct{}

func (f *DailyLimitFactor) ID() string      { return FactorDailyLimit }
func (f *DailyLimitFactor) Label() string   { return "Daily spending limit exceeded" }
func (f *DailyLimitFactor) Weight() float64 { return 0.8 }

func (f *DailyLimitFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if ec.Value == nil || ec.DailyLimit == nil || ec.DailyLimit.Sign() <= 0 {
		return nil
	}
	projected := new(big.Int).Set(ec.Value)
	if ec.SpentLast24h != nil {
		projected.Add(projected, ec.SpentLast24h)
	}
	if projected.Cmp(ec.DailyLimit) <= 0 {
		return nil
	}
	return &FactorResult{
		Triggered: true,
		Score:     0.85,
		Reason: fmt.Sprintf("projected 24h spend %s would exceed daily limit %s",
			projected.String(), ec.DailyLimit.String()),
	}
}

// ---------------------------------------------------------------------------
// ValueAnomalyFactor: value exceeds the learned mean + 3*stddev
// ---------------------------------------------------------------------------

type ValueAnomalyFactor struct{}

func (f *ValueAnomalyFactor) ID() string      { return FactorValueAnomaly }
func (f *ValueAnomalyFactor) Label() string   { return "Value outside historical pattern" }
func (f *ValueAnomalyFactor) Weight() float64 { return 0.7 }

func (f *ValueAnomalyFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if ec.Value == nil || ec.MeanValue == nil || ec.StddevValue == nil {
		return nil
	}
	if ec.MeanValue.Sign() <= 0 {
		return nil // no usable history
	}

	// threshold = mean + 3*stddev
	threshold := new(big.Int).Mul(ec.StddevValue, big.NewInt(3))
	threshold.Add(threshold, ec.MeanValue)
	if threshold.Sign() <= 0 || ec.Value.Cmp(threshold) <= 0 {
		return nil
	}

	// Scale from 0.6 at the threshold up to 1.0 at twice the threshold.
	ratio, _ := new(big.Float).Quo(
		new(big.Float).SetInt(ec.Value),
		new(big.Float).SetInt(threshold),
	).Float64()
	score := 0.6 + 0.4*(ratio-1)
	if score > 1 {
		score = 1
	}

	return &FactorResult{
		Triggered: true,
		Score:     score,
		Reason: fmt.Sprintf("value %s exceeds historical mean + 3*stddev (%s)",
			ec.Value.String(), threshold.String()),
		Metadata: map[string]string{
			"mean":   ec.MeanValue.String(),
			"stddev": ec.StddevValue.String(),
		},
	}
}

// ---------------------------------------------------------------------------
// UnknownTargetFactor: call data sent to a contract we know nothing about
// ---------------------------------------------------------------------------

type UnknownTargetFactor struct{}

func (f *UnknownTargetFactor) ID() string      { return FactorUnknownTarget }
func (f *UnknownTargetFactor) Label() string   { return "Unknown contract interaction" }
func (f *UnknownTargetFactor) Weight() float64 { return 0.5 }

func (f *UnknownTargetFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if !ec.HasData || ec.To == "" {
		return nil
	}
	if ec.KnownContracts[ec.To] {
		return nil
	}
	return &FactorResult{
		Triggered: true,
		Score:     0.7,
		Reason:    fmt.Sprintf("call data targets unrecognized contract %s", ec.To),
	}
}

// ---------------------------------------------------------------------------
// SimulationFactor: a prior simulation of this transaction reverted
// ---------------------------------------------------------------------------

type SimulationFactor struct{}

func (f *SimulationFactor) ID() string      { return FactorSimFailure }
func (f *SimulationFactor) Label() string   { return "Simulation failed" }
func (f *SimulationFactor) Weight() float64 { return 0.9 }

func (f *SimulationFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if ec.SimulationOK == nil || *ec.SimulationOK {
		return nil
	}
	reason := "transaction simulation failed"
	if ec.SimulationError != "" {
		reason = fmt.Sprintf("transaction simulation failed: %s", ec.SimulationError)
	}
	return &FactorResult{Triggered: true, Score: 1.0, Reason: reason}
}

// ---------------------------------------------------------------------------
// ChainHealthFactor: chain telemetry reports trouble
// ---------------------------------------------------------------------------

// slowRPCThreshold is the RPC latency above which the chain counts as degraded.
const slowRPCThreshold = 2 * time.Second

type ChainHealthFactor struct{}

func (f *ChainHealthFactor) ID() string      { return FactorChainHealth }
func (f *ChainHealthFactor) Label() string   { return "Chain degraded" }
func (f *ChainHealthFactor) Weight() float64 { return 0.4 }

func (f *ChainHealthFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if ec.ChainHealthy != nil && !*ec.ChainHealthy {
		return &FactorResult{
			Triggered: true,
			Score:     0.8,
			Reason:    "chain health check is failing",
		}
	}
	if ec.RPCLatency > slowRPCThreshold {
		return &FactorResult{
			Triggered: true,
			Score:     0.5,
			Reason:    fmt.Sprintf("RPC latency %s exceeds %s", ec.RPCLatency, slowRPCThreshold),
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// BurstActivityFactor: too many transactions in the rolling 24h window
// ---------------------------------------------------------------------------

// burstThreshold is the 24h transaction count above which activity is suspect.
const burstThreshold = 120

type BurstActivityFactor struct{}

func (f *BurstActivityFactor) ID() string      { return FactorBurstActivity }
func (f *BurstActivityFactor) Label() string   { return "Burst activity" }
func (f *BurstActivityFactor) Weight() float64 { return 0.5 }

func (f *BurstActivityFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if ec.TxCount24h <= burstThreshold {
		return nil
	}
	score := 0.6
	if ec.TxCount24h > 3*burstThreshold {
		score = 0.9
	}
	return &FactorResult{
		Triggered: true,
		Score:     score,
		Reason:    fmt.Sprintf("%d transactions in 24h exceeds threshold %d", ec.TxCount24h, burstThreshold),
	}
}

// ---------------------------------------------------------------------------
// GasSpikeFactor: gas price far above normal
// ---------------------------------------------------------------------------

// gasSpikeThreshold is 300 gwei in wei.
var gasSpikeThreshold = new(big.Int).Mul(big.NewInt(300), big.NewInt(1e9))

type GasSpikeFactor struct{}

func (f *GasSpikeFactor) ID() string      { return FactorGasSpike }
func (f *GasSpikeFactor) Label() string   { return "Gas price spike" }
func (f *GasSpikeFactor) Weight() float64 { return 0.3 }

func (f *GasSpikeFactor) Evaluate(_ context.Context, ec *EvaluationContext) *FactorResult {
	if ec.GasPrice == nil || ec.GasPrice.Cmp(gasSpikeThreshold) <= 0 {
		return nil
	}
	return &FactorResult{
		Triggered: true,
		Score:     0.6,
		Reason:    fmt.Sprintf("gas price %s wei exceeds %s wei", ec.GasPrice.String(), gasSpikeThreshold.String()),
	}
}
