package risk

// ThresholdPolicy maps an overall risk score to a gating decision.
// It is a value type: callers pass their own snapshot per call, so a
// policy change can never race against an in-flight assessment.
//
// The three cutoffs are monotonically ordered:
//
//	score <= AutoExecuteMax          -> proceed silently
//	AutoExecuteMax < s < ApprovalMin -> proceed, notify only
//	score >= ApprovalMin             -> queue for human approval
//	score >= BlockMin                -> block outright
//
// Block and approval are independent conditions. A blocked transaction
// usually also crosses ApprovalMin, but blocking never depends on it.
type ThresholdPolicy struct {
	AutoExecuteMax float64 `json:"autoExecuteMax"`
	ApprovalMin    float64 `json:"approvalMin"`
	BlockMin       float64 `json:"blockMin"`
}

// DefaultPolicy returns the standard deployment thresholds.
func DefaultPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		AutoExecuteMax: 0.35,
		ApprovalMin:    0.6,
		BlockMin:       0.85,
	}
}

// Block reports whether the score is high enough to block execution.
func (p ThresholdPolicy) Block(score float64) bool {
	return score >= p.BlockMin
}

// RequireApproval reports whether the score requires human approval.
func (p ThresholdPolicy) RequireApproval(score float64) bool {
	return score >= p.ApprovalMin
}

// NotifyOnly reports whether the score falls in the "proceed but notify"
// band between auto-execute and approval.
func (p ThresholdPolicy) NotifyOnly(score float64) bool {
	return score > p.AutoExecuteMax && score < p.ApprovalMin
}
