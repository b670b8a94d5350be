package gatekeeper

import (
	"context"
	"log/slog"

	"github.com/Sagexd08/autofi/internal/approval"
	"github.com/Sagexd08/autofi/internal/notify"
	"github.com/Sagexd08/autofi/internal/transactions"
)

// Broadcaster hands an approved transaction to the execution layer. The
// real implementation signs and submits on-chain; tests substitute a fake.
type Broadcaster interface {
	Broadcast(ctx context.Context, transactionID string) error
}

// BroadcasterFunc adapts a function to the Broadcaster interface.
type BroadcasterFunc func(ctx context.Context, transactionID string) error

func (f BroadcasterFunc) Broadcast(ctx context.Context, transactionID string) error {
	return f(ctx, transactionID)
}

// Dispatcher reacts to approval outcomes. An approved request releases the
// held transaction to the broadcaster; a rejected, expired, or cancelled
// request kills it. This is the only path from the approval queue back to
// execution.
type Dispatcher struct {
	txs         transactions.Store
	broadcaster Broadcaster
	notifier    notify.Notifier
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher and registers it on the approval
// service's transition hooks.
func NewDispatcher(service *approval.Service, txs transactions.Store, broadcaster Broadcaster, notifier notify.Notifier, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		txs:         txs,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      logger,
	}
	service.OnTransition(d.handleTransition)
	return d
}

func (d *Dispatcher) handleTransition(ctx context.Context, r *approval.Request, previous approval.Status) {
	// Creation events belong to the stream hub, not the dispatcher.
	if previous != approval.StatusPending {
		return
	}

	switch r.Status {
	case approval.StatusApproved:
		d.release(ctx, r)
	case approval.StatusRejected:
		d.kill(ctx, r, transactions.StatusCancelled, "approval rejected: "+r.RejectionReason)
	case approval.StatusExpired:
		d.kill(ctx, r, transactions.StatusCancelled, "approval expired")
	case approval.StatusCancelled:
		d.kill(ctx, r, transactions.StatusCancelled, "approval cancelled by requester")
	}

	decidedBy := r.ApprovedBy
	if decidedBy == "" {
		decidedBy = r.RejectedBy
	}
	d.notifier.NotifyApprovalResolved(ctx, r.ID, string(r.Status), decidedBy)
}

// release moves an approved transaction to the queue and hands it to the
// broadcaster. A broadcast failure fails the transaction; the reviewer's
// decision is already durable and is never rolled back.
func (d *Dispatcher) release(ctx context.Context, r *approval.Request) {
	if err := d.txs.UpdateStatus(ctx, r.TransactionID, transactions.StatusQueued, ""); err != nil {
		d.logger.Error("failed to queue approved transaction",
			"approvalId", r.ID, "transactionId", r.TransactionID, "error", err)
		return
	}
	d.logger.Info("transaction released for execution",
		"approvalId", r.ID, "transactionId", r.TransactionID, "approver", r.ApprovedBy)

	if d.broadcaster == nil {
		return
	}
	if err := d.broadcaster.Broadcast(ctx, r.TransactionID); err != nil {
		d.logger.Error("broadcast of approved transaction failed",
			"approvalId", r.ID, "transactionId", r.TransactionID, "error", err)
		_ = d.txs.UpdateStatus(ctx, r.TransactionID, transactions.StatusFailed, err.Error())
		d.notifier.NotifyTransactionFailed(ctx, r.TransactionID, err.Error())
	}
}

func (d *Dispatcher) kill(ctx context.Context, r *approval.Request, status transactions.Status, reason string) {
	if err := d.txs.UpdateStatus(ctx, r.TransactionID, status, reason); err != nil {
		d.logger.Error("failed to finalize transaction after approval outcome",
			"approvalId", r.ID, "transactionId", r.TransactionID, "outcome", r.Status, "error", err)
		return
	}
	d.logger.Info("transaction finalized from approval outcome",
		"approvalId", r.ID, "transactionId", r.TransactionID, "outcome", r.Status, "reason", reason)
}
