// Package transactions holds the records for transactions that have passed
// through the gate. The gatekeeper is the sole writer of the risk fields and
// of the gating-relevant status transitions; broadcast-to-confirmation
// transitions belong to the execution collaborator.
package transactions

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("transaction not found")

// Status is the lifecycle state of a gated transaction.
type Status string

const (
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusQueued           Status = "queued"
	StatusSimulated        Status = "simulated"
	StatusBroadcasting     Status = "broadcasting"
	StatusPendingOnchain   Status = "pending_onchain"
	StatusCancelled        Status = "cancelled"
	StatusFailed           Status = "failed"
	StatusConfirmed        Status = "confirmed"
)

// Transaction is a minimal record of a gated transaction.
type Transaction struct {
	ID         string `json:"id"`
	AgentID    string `json:"agentId,omitempty"`
	WorkflowID string `json:"workflowId,omitempty"`
	UserID     string `json:"userId,omitempty"`

	To      string `json:"to"`
	Value   string `json:"value"` // wei, base-10 string
	HasData bool   `json:"hasData"`
	ChainID int64  `json:"chainId"`

	Status           Status  `json:"status"`
	RiskScore        float64 `json:"riskScore"`
	RiskLevel        string  `json:"riskLevel"`
	RequiresApproval bool    `json:"requiresApproval"`
	FailureReason    string  `json:"failureReason,omitempty"`
	TxHash           string  `json:"txHash,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists transaction records.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	Update(ctx context.Context, tx *Transaction) error
	// UpdateStatus atomically sets the status (and optional failure reason).
	// Setting the same status twice is a no-op, not an error.
	UpdateStatus(ctx context.Context, id string, status Status, reason string) error
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*Transaction, error)
}
