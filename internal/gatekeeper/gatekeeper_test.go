package gatekeeper

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Sagexd08/autofi/internal/approval"
	"github.com/Sagexd08/autofi/internal/risk"
	"github.com/Sagexd08/autofi/internal/transactions"
)

const testAddr = "0x1111111111111111111111111111111111111111"

// fixedFactor always triggers at the given score.
type fixedFactor struct {
	id    string
	score float64
}

func (f *fixedFactor) ID() string      { return f.id }
func (f *fixedFactor) Label() string   { return "fixed " + f.id }
func (f *fixedFactor) Weight() float64 { return 1.0 }

func (f *fixedFactor) Evaluate(context.Context, *risk.EvaluationContext) *risk.FactorResult {
	return &risk.FactorResult{Triggered: true, Score: f.score, Reason: "fixed"}
}

type harness struct {
	gate      *Gatekeeper
	txs       transactions.Store
	approvals *approval.Service
}

// newHarness builds a gatekeeper whose overall score equals the given
// factor score (single full-weight factor).
func newHarness(t *testing.T, factors ...risk.Factor) *harness {
	t.Helper()
	engine := risk.NewEngine(risk.NewRegistry(factors...))
	txs := transactions.NewMemoryStore()
	approvals := approval.NewService(approval.NewMemoryStore())
	return &harness{
		gate:      New(engine, risk.DefaultPolicy(), txs, approvals),
		txs:       txs,
		approvals: approvals,
	}
}

func TestGateAutoExecute(t *testing.T) {
	h := newHarness(t)

	d, err := h.gate.Gate(context.Background(), &Draft{To: testAddr, Value: "1000", AgentID: "agent_1"}, nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if d.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %s, want approved", d.Outcome)
	}
	if d.ApprovalID != "" {
		t.Error("auto-executed transaction must not create an approval record")
	}

	tx, err := h.txs.Get(context.Background(), d.TransactionID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx.Status != transactions.StatusQueued {
		t.Errorf("status = %s, want queued", tx.Status)
	}
	if tx.RequiresApproval {
		t.Error("low-risk transaction should not be marked as requiring approval")
	}
}

func TestGateSimulateOnly(t *testing.T) {
	h := newHarness(t)

	d, err := h.gate.Gate(context.Background(), &Draft{To: testAddr, SimulateOnly: true}, nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if d.Outcome != OutcomeSimulated {
		t.Fatalf("outcome = %s, want simulated", d.Outcome)
	}

	tx, _ := h.txs.Get(context.Background(), d.TransactionID)
	if tx.Status != transactions.StatusSimulated {
		t.Errorf("status = %s, want simulated", tx.Status)
	}
}

func TestGateRequiresApproval(t *testing.T) {
	h := newHarness(t, &fixedFactor{id: "hot", score: 0.7})

	d, err := h.gate.Gate(context.Background(), &Draft{To: testAddr, AgentID: "agent_1"}, nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if d.Outcome != OutcomePendingApproval {
		t.Fatalf("outcome = %s, want pending_approval", d.Outcome)
	}
	if d.ApprovalID == "" {
		t.Fatal("pending decision must carry an approval ID")
	}

	tx, _ := h.txs.Get(context.Background(), d.TransactionID)
	if tx.Status != transactions.StatusAwaitingApproval {
		t.Errorf("transaction status = %s, want awaiting_approval", tx.Status)
	}

	req, err := h.approvals.Get(context.Background(), d.ApprovalID)
	if err != nil {
		t.Fatalf("get approval: %v", err)
	}
	if req.TransactionID != d.TransactionID {
		t.Error("approval must reference the held transaction")
	}
	if req.RiskScore != 0.7 || req.RiskLevel != "high" {
		t.Errorf("risk snapshot: %f %s", req.RiskScore, req.RiskLevel)
	}
	if req.Priority != approval.PriorityHigh {
		t.Errorf("priority = %s, want high", req.Priority)
	}
}

func TestGateBlocksWithoutApproval(t *testing.T) {
	h := newHarness(t, &fixedFactor{id: "toxic", score: 1.0})

	d, err := h.gate.Gate(context.Background(), &Draft{To: testAddr}, nil)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if d.Outcome != OutcomeBlocked {
		t.Fatalf("outcome = %s, want blocked", d.Outcome)
	}
	// Block is stronger than approval: no approval record exists.
	if d.ApprovalID != "" {
		t.Error("blocked transaction must not create an approval record")
	}

	tx, _ := h.txs.Get(context.Background(), d.TransactionID)
	if tx.Status != transactions.StatusFailed {
		t.Errorf("status = %s, want failed", tx.Status)
	}
	if tx.FailureReason == "" {
		t.Error("blocked transaction should carry a failure reason")
	}
}

func TestGateValidation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name  string
		draft *Draft
	}{
		{"nil draft", nil},
		{"bad address", &Draft{To: "not-an-address"}},
		{"bad value", &Draft{To: testAddr, Value: "1.5e18"}},
		{"negative value", &Draft{To: testAddr, Value: "-5"}},
	}
	for _, c := range cases {
		if _, err := h.gate.Gate(context.Background(), c.draft, nil); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", c.name, err)
		}
	}
}

func TestGateFoldsAgentContext(t *testing.T) {
	// Real blacklist factor, address list arrives mixed-case.
	h := newHarness(t, &risk.BlacklistFactor{})

	agent := &AgentContext{Blacklist: []string{"0x1111111111111111111111111111111111111111"}}
	upper := "0x1111111111111111111111111111111111111111"
	upper = strings.ToUpper(upper[2:])
	upper = "0x" + upper

	d, err := h.gate.Gate(context.Background(), &Draft{To: upper}, agent)
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if d.Outcome != OutcomeBlocked {
		t.Errorf("blacklisted destination should block, got %s", d.Outcome)
	}
}

func TestGetAssessmentIsDryRun(t *testing.T) {
	h := newHarness(t, &fixedFactor{id: "hot", score: 0.9})

	a, err := h.gate.GetAssessment(context.Background(), &Draft{To: testAddr}, nil)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if !a.BlockExecution {
		t.Error("0.9 should report block")
	}

	// Nothing was persisted.
	if txs, _ := h.txs.ListByAgent(context.Background(), "", 10); len(txs) != 0 {
		t.Error("dry run must not create transaction records")
	}
	if stats, _ := h.approvals.Stats(context.Background()); stats.Pending != 0 {
		t.Error("dry run must not create approval records")
	}
}
