package risk

import "testing"

func TestPolicyBoundaries(t *testing.T) {
	p := DefaultPolicy()

	// Thresholds are inclusive on the high side.
	if p.RequireApproval(0.59) {
		t.Error("0.59 should not require approval")
	}
	if !p.RequireApproval(0.6) {
		t.Error("0.6 should require approval (inclusive)")
	}
	if p.Block(0.84) {
		t.Error("0.84 should not block")
	}
	if !p.Block(0.85) {
		t.Error("0.85 should block (inclusive)")
	}
}

func TestPolicyBlockAndApprovalIndependent(t *testing.T) {
	// A policy where blocking starts below the approval threshold still
	// blocks: the two checks never depend on each other.
	p := ThresholdPolicy{AutoExecuteMax: 0.1, ApprovalMin: 0.9, BlockMin: 0.5}
	if !p.Block(0.6) {
		t.Error("0.6 should block under blockMin 0.5")
	}
	if p.RequireApproval(0.6) {
		t.Error("0.6 should not require approval under approvalMin 0.9")
	}
}

func TestPolicyNotifyOnlyBand(t *testing.T) {
	p := DefaultPolicy()

	if p.NotifyOnly(0.35) {
		t.Error("exactly autoExecuteMax is quiet, not notify")
	}
	if !p.NotifyOnly(0.36) {
		t.Error("just above autoExecuteMax should be notify-only")
	}
	if !p.NotifyOnly(0.59) {
		t.Error("just below approvalMin should be notify-only")
	}
	if p.NotifyOnly(0.6) {
		t.Error("at approvalMin the approval path takes over")
	}
}
