// Package gatekeeper orchestrates the end-to-end gating decision: score the
// transaction, apply the threshold policy, and route it to auto-execution,
// the human-approval queue, or rejection.
//
// This package is the trust boundary of the platform. Every money-movement
// action passes through Gate before any signature or broadcast happens.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/Sagexd08/autofi/internal/approval"
	"github.com/Sagexd08/autofi/internal/chain"
	"github.com/Sagexd08/autofi/internal/idgen"
	"github.com/Sagexd08/autofi/internal/metrics"
	"github.com/Sagexd08/autofi/internal/notify"
	"github.com/Sagexd08/autofi/internal/risk"
	"github.com/Sagexd08/autofi/internal/traces"
	"github.com/Sagexd08/autofi/internal/transactions"
	"github.com/Sagexd08/autofi/internal/validation"
)

// ErrValidation wraps input errors rejected before any factor runs.
var ErrValidation = errors.New("gatekeeper: invalid transaction draft")

// blockReason is the failure reason recorded on blocked transactions.
const blockReason = "risk validation failed"

// Outcome is the result of a gating decision.
type Outcome string

const (
	OutcomeBlocked         Outcome = "blocked"
	OutcomePendingApproval Outcome = "pending_approval"
	OutcomeSimulated       Outcome = "simulated"
	OutcomeApproved        Outcome = "approved"
)

// Draft describes a proposed transaction before it is gated.
type Draft struct {
	To           string `json:"to" binding:"required"`
	Value        string `json:"value"` // wei, base-10 string; empty means 0
	Data         string `json:"data,omitempty"`
	ChainID      int64  `json:"chainId"`
	GasPrice     string `json:"gasPrice,omitempty"` // wei
	SimulateOnly bool   `json:"simulateOnly"`

	AgentID    string `json:"agentId,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
	UserID     string `json:"userId,omitempty"`
}

// HasData reports whether the draft carries call data.
func (d *Draft) HasData() bool {
	data := strings.TrimPrefix(d.Data, "0x")
	return len(data) > 0
}

// AgentContext carries the agent's spending state, counterparty
// intelligence, history, and any prior simulation outcome. All fields
// are optional.
type AgentContext struct {
	PerTxLimit   string `json:"perTxLimit,omitempty"` // wei
	DailyLimit   string `json:"dailyLimit,omitempty"`
	SpentLast24h string `json:"spentLast24h,omitempty"`

	Whitelist      []string `json:"whitelist,omitempty"`
	Blacklist      []string `json:"blacklist,omitempty"`
	Sanctioned     []string `json:"sanctioned,omitempty"`
	KnownContracts []string `json:"knownContracts,omitempty"`

	MeanValue   string `json:"meanValue,omitempty"` // wei
	StddevValue string `json:"stddevValue,omitempty"`
	TxCount24h  int    `json:"txCount24h,omitempty"`

	SimulationOK    *bool  `json:"simulationOk,omitempty"`
	SimulationError string `json:"simulationError,omitempty"`
}

// Decision is what Gate returns to the caller.
type Decision struct {
	Outcome       Outcome          `json:"outcome"`
	TransactionID string           `json:"transactionId"`
	ApprovalID    string           `json:"approvalId,omitempty"`
	Assessment    *risk.Assessment `json:"assessment"`
}

// Gatekeeper wires the scoring engine, threshold policy, stores, and
// collaborators into one decision point.
type Gatekeeper struct {
	engine    *risk.Engine
	policy    risk.ThresholdPolicy
	txs       transactions.Store
	approvals *approval.Service
	notifier  notify.Notifier
	telemetry chain.Telemetry
	logger    *slog.Logger
}

// Option configures the Gatekeeper.
type Option func(*Gatekeeper)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gatekeeper) { g.logger = l }
}

// WithNotifier sets the notification collaborator.
func WithNotifier(n notify.Notifier) Option {
	return func(g *Gatekeeper) { g.notifier = n }
}

// WithTelemetry sets the chain telemetry source.
func WithTelemetry(t chain.Telemetry) Option {
	return func(g *Gatekeeper) { g.telemetry = t }
}

// New creates a Gatekeeper. policy is an immutable snapshot; use
// GateWithPolicy for a per-call override.
func New(engine *risk.Engine, policy risk.ThresholdPolicy, txs transactions.Store, approvals *approval.Service, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		engine:    engine,
		policy:    policy,
		txs:       txs,
		approvals: approvals,
		notifier:  notify.NopNotifier{},
		telemetry: chain.StaticTelemetry{Healthy: true},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Gate runs the full decision for a draft using the configured policy.
func (g *Gatekeeper) Gate(ctx context.Context, draft *Draft, agent *AgentContext) (*Decision, error) {
	return g.GateWithPolicy(ctx, draft, agent, g.policy)
}

// GateWithPolicy runs the full decision with an explicit policy snapshot.
func (g *Gatekeeper) GateWithPolicy(ctx context.Context, draft *Draft, agent *AgentContext, policy risk.ThresholdPolicy) (*Decision, error) {
	ctx, span := traces.StartSpan(ctx, "gatekeeper.Gate")
	defer span.End()

	ec, err := g.buildContext(draft, agent)
	if err != nil {
		return nil, err
	}

	assessment, err := g.engine.Assess(ctx, ec, policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	span.SetAttributes(
		traces.RiskScore(assessment.OverallScore),
		traces.RiskLevel(string(assessment.Level)),
	)

	now := time.Now()
	tx := &transactions.Transaction{
		ID:               idgen.WithPrefix("txn_"),
		AgentID:          draft.AgentID,
		WorkflowID:       draft.WorkflowID,
		UserID:           draft.UserID,
		To:               strings.ToLower(draft.To),
		Value:            weiOrZero(draft.Value),
		HasData:          draft.HasData(),
		ChainID:          draft.ChainID,
		RiskScore:        assessment.OverallScore,
		RiskLevel:        string(assessment.Level),
		RequiresApproval: assessment.RequiresApproval,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	decision := &Decision{TransactionID: tx.ID, Assessment: assessment}

	switch {
	case assessment.BlockExecution:
		// Block is stronger than approval: no approval record is created.
		tx.Status = transactions.StatusFailed
		tx.FailureReason = blockReason
		decision.Outcome = OutcomeBlocked

	case assessment.RequiresApproval:
		tx.Status = transactions.StatusAwaitingApproval
		decision.Outcome = OutcomePendingApproval

	case draft.SimulateOnly:
		tx.Status = transactions.StatusSimulated
		decision.Outcome = OutcomeSimulated

	default:
		// Cleared to proceed. The execution collaborator picks queued
		// transactions up for broadcast; our responsibility ends here.
		tx.Status = transactions.StatusQueued
		decision.Outcome = OutcomeApproved
	}

	if err := g.txs.Create(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to create transaction record: %w", err)
	}

	if decision.Outcome == OutcomePendingApproval {
		req, err := g.approvals.Create(ctx, approval.CreateRequest{
			TransactionID: tx.ID,
			AgentID:       draft.AgentID,
			WorkflowID:    draft.WorkflowID,
			UserID:        draft.UserID,
			RiskScore:     assessment.OverallScore,
			RiskLevel:     string(assessment.Level),
		})
		if err != nil {
			// Without an approval record nobody can ever release this
			// transaction; fail it rather than stranding it.
			_ = g.txs.UpdateStatus(ctx, tx.ID, transactions.StatusFailed, "approval request creation failed")
			return nil, fmt.Errorf("failed to create approval request: %w", err)
		}
		decision.ApprovalID = req.ID
		g.notifier.NotifyApprovalRequired(ctx, req.ID, req.RiskScore, string(req.Priority), req.ExpiresAt)
	}

	if decision.Outcome == OutcomeBlocked {
		g.notifier.NotifyTransactionFailed(ctx, tx.ID, blockReason)
	}
	if decision.Outcome == OutcomeApproved && policy.NotifyOnly(assessment.OverallScore) {
		g.notifier.NotifyRiskFlagged(ctx, tx.ID, assessment.OverallScore, string(assessment.Level))
	}

	g.audit(ctx, decision, tx)
	span.SetAttributes(traces.GateOutcome(string(decision.Outcome)), traces.TransactionID(tx.ID))
	metrics.GateDecisionsTotal.WithLabelValues(string(decision.Outcome)).Inc()
	return decision, nil
}

// GetAssessment scores a draft without creating any records. Dry run.
func (g *Gatekeeper) GetAssessment(ctx context.Context, draft *Draft, agent *AgentContext) (*risk.Assessment, error) {
	ctx, span := traces.StartSpan(ctx, "gatekeeper.GetAssessment")
	defer span.End()

	ec, err := g.buildContext(draft, agent)
	if err != nil {
		return nil, err
	}
	assessment, err := g.engine.Assess(ctx, ec, g.policy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return assessment, nil
}

// QuickCheck runs the cheap pre-check that decides whether a full
// simulation is worth paying for. No side effects, no authority.
func (g *Gatekeeper) QuickCheck(draft *Draft, agent *AgentContext) (risk.QuickCheck, error) {
	ec, err := g.buildContext(draft, agent)
	if err != nil {
		return risk.QuickCheck{}, err
	}
	return g.engine.QuickCheck(ec), nil
}

// buildContext assembles the risk evaluation context from the draft, the
// agent state, and live chain telemetry.
func (g *Gatekeeper) buildContext(draft *Draft, agent *AgentContext) (*risk.EvaluationContext, error) {
	if draft == nil {
		return nil, fmt.Errorf("%w: draft is required", ErrValidation)
	}
	if !validation.IsValidEthAddress(draft.To) {
		return nil, fmt.Errorf("%w: destination %q is not a valid address", ErrValidation, draft.To)
	}

	value, err := parseWei("value", draft.Value)
	if err != nil {
		return nil, err
	}
	gasPrice, err := parseWei("gasPrice", draft.GasPrice)
	if err != nil {
		return nil, err
	}

	ec := &risk.EvaluationContext{
		To:       strings.ToLower(draft.To),
		Value:    value,
		HasData:  draft.HasData(),
		ChainID:  draft.ChainID,
		GasPrice: gasPrice,
	}

	if agent != nil {
		if ec.PerTxLimit, err = parseWei("perTxLimit", agent.PerTxLimit); err != nil {
			return nil, err
		}
		if ec.DailyLimit, err = parseWei("dailyLimit", agent.DailyLimit); err != nil {
			return nil, err
		}
		if ec.SpentLast24h, err = parseWei("spentLast24h", agent.SpentLast24h); err != nil {
			return nil, err
		}
		if ec.MeanValue, err = parseWei("meanValue", agent.MeanValue); err != nil {
			return nil, err
		}
		if ec.StddevValue, err = parseWei("stddevValue", agent.StddevValue); err != nil {
			return nil, err
		}
		ec.Whitelist = addressSet(agent.Whitelist)
		ec.Blacklist = addressSet(agent.Blacklist)
		ec.Sanctioned = addressSet(agent.Sanctioned)
		ec.KnownContracts = addressSet(agent.KnownContracts)
		ec.TxCount24h = agent.TxCount24h
		ec.SimulationOK = agent.SimulationOK
		ec.SimulationError = agent.SimulationError
	}

	healthy, latency := g.telemetry.Snapshot()
	ec.ChainHealthy = &healthy
	ec.RPCLatency = latency

	return ec, nil
}

// audit emits the structured decision record. One line per gate call.
func (g *Gatekeeper) audit(ctx context.Context, d *Decision, tx *transactions.Transaction) {
	g.logger.Info("gate decision",
		"outcome", d.Outcome,
		"transactionId", tx.ID,
		"approvalId", d.ApprovalID,
		"agentId", tx.AgentID,
		"to", tx.To,
		"value", tx.Value,
		"riskScore", d.Assessment.OverallScore,
		"riskLevel", d.Assessment.Level,
		"triggeredFactors", len(d.Assessment.TriggeredFactors),
	)
}

// parseWei parses an optional base-10 wei string. Empty means nil.
func parseWei(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q is not a base-10 integer", ErrValidation, field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s must not be negative", ErrValidation, field)
	}
	return v, nil
}

// weiOrZero normalizes an optional wei string for storage.
func weiOrZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// addressSet lowercases a slice of addresses into a lookup set.
func addressSet(addrs []string) map[string]bool {
	if len(addrs) == 0 {
		return nil
	}
	set := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		set[strings.ToLower(a)] = true
	}
	return set
}
