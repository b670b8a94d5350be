package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GateClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GateClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckTransactionRisk scores a transaction without submitting it.
func (h *Handlers) HandleCheckTransactionRisk(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to := req.GetString("to", "")
	if to == "" {
		return mcp.NewToolResultError("to is required"), nil
	}
	value := req.GetString("value", "")
	data := req.GetString("data", "")

	raw, err := h.client.Assess(ctx, to, value, data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Risk assessment failed: %v", err)), nil
	}

	text, err := formatAssessment(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessment: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleSubmitTransaction pushes a transaction through the gate.
func (h *Handlers) HandleSubmitTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	to := req.GetString("to", "")
	if to == "" {
		return mcp.NewToolResultError("to is required"), nil
	}
	value := req.GetString("value", "")
	data := req.GetString("data", "")
	simulateOnly := req.GetBool("simulate_only", false)

	raw, err := h.client.Gate(ctx, to, value, data, simulateOnly)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Submission failed: %v", err)), nil
	}

	text, err := formatDecision(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decision: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetApprovalStatus polls one approval request.
func (h *Handlers) HandleGetApprovalStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	approvalID := req.GetString("approval_id", "")
	if approvalID == "" {
		return mcp.NewToolResultError("approval_id is required"), nil
	}

	raw, err := h.client.GetApproval(ctx, approvalID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to fetch approval: %v", err)), nil
	}

	text, err := formatApproval(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse approval: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleListPendingApprovals lists the queue.
func (h *Handlers) HandleListPendingApprovals(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	priority := req.GetString("priority", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListPendingApprovals(ctx, priority, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list approvals: %v", err)), nil
	}

	text, err := formatApprovalList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse approvals: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- response formatting ---

type assessmentView struct {
	OverallScore     float64 `json:"overallScore"`
	Level            string  `json:"level"`
	RequiresApproval bool    `json:"requiresApproval"`
	BlockExecution   bool    `json:"blockExecution"`
	TriggeredFactors []struct {
		ID    string  `json:"id"`
		Label string  `json:"label"`
		Score float64 `json:"score"`
	} `json:"triggeredFactors"`
	Recommendations []string `json:"recommendations"`
}

func formatAssessment(raw json.RawMessage) (string, error) {
	var a assessmentView
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk score: %.2f (%s)\n", a.OverallScore, a.Level)
	switch {
	case a.BlockExecution:
		sb.WriteString("Verdict: would be BLOCKED\n")
	case a.RequiresApproval:
		sb.WriteString("Verdict: would require human approval\n")
	default:
		sb.WriteString("Verdict: would auto-execute\n")
	}

	if len(a.TriggeredFactors) > 0 {
		sb.WriteString("\nTriggered factors:\n")
		for _, f := range a.TriggeredFactors {
			fmt.Fprintf(&sb, "  - %s (%.2f)\n", f.Label, f.Score)
		}
	} else {
		sb.WriteString("\nNo risk factors triggered.\n")
	}

	if len(a.Recommendations) > 0 {
		sb.WriteString("\nRecommendations:\n")
		for _, r := range a.Recommendations {
			fmt.Fprintf(&sb, "  - %s\n", r)
		}
	}
	return sb.String(), nil
}

type decisionView struct {
	Outcome       string `json:"outcome"`
	TransactionID string `json:"transactionId"`
	ApprovalID    string `json:"approvalId"`
	Assessment    *struct {
		OverallScore float64 `json:"overallScore"`
		Level        string  `json:"level"`
	} `json:"assessment"`
}

func formatDecision(raw json.RawMessage) (string, error) {
	var d decisionView
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", err
	}

	var sb strings.Builder
	if d.Assessment != nil {
		fmt.Fprintf(&sb, "Risk score: %.2f (%s)\n", d.Assessment.OverallScore, d.Assessment.Level)
	}
	fmt.Fprintf(&sb, "Transaction ID: %s\n", d.TransactionID)

	switch d.Outcome {
	case "approved":
		sb.WriteString("\nCleared. The transaction is queued for execution.")
	case "simulated":
		sb.WriteString("\nSimulation only. Nothing was broadcast.")
	case "pending_approval":
		fmt.Fprintf(&sb, "Approval ID: %s\n", d.ApprovalID)
		sb.WriteString("\nHeld for human approval. Poll get_approval_status with the approval ID; " +
			"the transaction executes automatically once approved.")
	case "blocked":
		sb.WriteString("\nBLOCKED. The risk score exceeded the block threshold and the transaction will not execute.")
	default:
		fmt.Fprintf(&sb, "\nOutcome: %s", d.Outcome)
	}
	return sb.String(), nil
}

type approvalView struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transactionId"`
	Status        string    `json:"status"`
	Priority      string    `json:"priority"`
	RiskScore     float64   `json:"riskScore"`
	RiskLevel     string    `json:"riskLevel"`
	ExpiresAt     time.Time `json:"expiresAt"`
	ApprovedBy    string    `json:"approvedBy"`
	RejectedBy    string    `json:"rejectedBy"`
	Reason        string    `json:"rejectionReason"`
}

func formatApproval(raw json.RawMessage) (string, error) {
	var a approvalView
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Approval %s: %s\n", a.ID, strings.ToUpper(a.Status))
	fmt.Fprintf(&sb, "Transaction: %s\n", a.TransactionID)
	fmt.Fprintf(&sb, "Risk: %.2f (%s), priority %s\n", a.RiskScore, a.RiskLevel, a.Priority)

	switch a.Status {
	case "pending":
		fmt.Fprintf(&sb, "Deadline: %s (%s from now)\n",
			a.ExpiresAt.Format(time.RFC3339), time.Until(a.ExpiresAt).Round(time.Second))
	case "approved":
		fmt.Fprintf(&sb, "Approved by: %s. The transaction has been released for execution.\n", a.ApprovedBy)
	case "rejected":
		fmt.Fprintf(&sb, "Rejected by: %s. Reason: %s\n", a.RejectedBy, a.Reason)
	case "expired":
		sb.WriteString("The approval deadline passed before a decision was made. The transaction will not execute.\n")
	case "cancelled":
		sb.WriteString("Cancelled by the requester. The transaction will not execute.\n")
	}
	return sb.String(), nil
}

type approvalListView struct {
	Approvals []approvalView `json:"approvals"`
	Count     int            `json:"count"`
}

func formatApprovalList(raw json.RawMessage) (string, error) {
	var l approvalListView
	if err := json.Unmarshal(raw, &l); err != nil {
		return "", err
	}
	if l.Count == 0 {
		return "No transactions are waiting for approval.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d transaction(s) waiting for approval:\n\n", l.Count)
	for _, a := range l.Approvals {
		fmt.Fprintf(&sb, "- %s [%s] risk %.2f (%s), tx %s, expires %s\n",
			a.ID, a.Priority, a.RiskScore, a.RiskLevel, a.TransactionID,
			a.ExpiresAt.Format(time.RFC3339))
	}
	return sb.String(), nil
}
