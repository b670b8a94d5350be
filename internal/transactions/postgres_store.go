package transactions

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists transaction records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const txColumns = `id, agent_id, workflow_id, user_id, to_addr, value, has_data, chain_id,
	       status, risk_score, risk_level, requires_approval, failure_reason, tx_hash,
	       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Transaction) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO gated_transactions (
			id, agent_id, workflow_id, user_id, to_addr, value, has_data, chain_id,
			status, risk_score, risk_level, requires_approval, failure_reason, tx_hash,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6::NUMERIC(78,0), $7, $8,
			$9, $10, $11, $12, $13, $14,
			$15, $16
		)`,
		t.ID, nullString(t.AgentID), nullString(t.WorkflowID), nullString(t.UserID),
		t.To, t.Value, t.HasData, t.ChainID,
		string(t.Status), t.RiskScore, t.RiskLevel, t.RequiresApproval,
		nullString(t.FailureReason), nullString(t.TxHash),
		t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txColumns+` FROM gated_transactions WHERE id = $1`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Transaction) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE gated_transactions SET
			status = $1, risk_score = $2, risk_level = $3, requires_approval = $4,
			failure_reason = $5, tx_hash = $6, updated_at = $7
		WHERE id = $8`,
		string(t.Status), t.RiskScore, t.RiskLevel, t.RequiresApproval,
		nullString(t.FailureReason), nullString(t.TxHash), t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, reason string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE gated_transactions SET
			status = $1,
			failure_reason = COALESCE($2, failure_reason),
			updated_at = $3
		WHERE id = $4`,
		string(status), nullString(reason), time.Now(), id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+txColumns+` FROM gated_transactions
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*Transaction, error) {
	var t Transaction
	var agentID, workflowID, userID, failureReason, txHash sql.NullString
	var status string

	err := row.Scan(
		&t.ID, &agentID, &workflowID, &userID, &t.To, &t.Value, &t.HasData, &t.ChainID,
		&status, &t.RiskScore, &t.RiskLevel, &t.RequiresApproval, &failureReason, &txHash,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.AgentID = agentID.String
	t.WorkflowID = workflowID.String
	t.UserID = userID.String
	t.FailureReason = failureReason.String
	t.TxHash = txHash.String
	t.Status = Status(status)
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
