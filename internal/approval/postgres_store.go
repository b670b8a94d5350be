package approval

import (
	"context"
	"database/sql"
	"strconv"
	"time"
)

// PostgresStore persists approval requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed approval store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `id, transaction_id, agent_id, workflow_id, user_id,
	       risk_score, risk_level, status, priority, expires_at,
	       approved_by, approved_at, comment,
	       rejected_by, rejected_at, rejection_reason,
	       created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, r *Request) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO approval_requests (
			id, transaction_id, agent_id, workflow_id, user_id,
			risk_score, risk_level, status, priority, expires_at,
			approved_by, approved_at, comment,
			rejected_by, rejected_at, rejection_reason,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13,
			$14, $15, $16,
			$17, $18
		)`,
		r.ID, r.TransactionID, nullString(r.AgentID), nullString(r.WorkflowID), nullString(r.UserID),
		r.RiskScore, r.RiskLevel, string(r.Status), string(r.Priority), r.ExpiresAt,
		nullString(r.ApprovedBy), nullTime(r.ApprovedAt), nullString(r.Comment),
		nullString(r.RejectedBy), nullTime(r.RejectedAt), nullString(r.RejectionReason),
		r.CreatedAt, r.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Request, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM approval_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

// Transition is a compare-and-swap on status: the UPDATE only applies while
// the stored status still equals from, so concurrent approve/reject races
// resolve with exactly one winner.
func (p *PostgresStore) Transition(ctx context.Context, r *Request, from Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE approval_requests SET
			status = $1, approved_by = $2, approved_at = $3, comment = $4,
			rejected_by = $5, rejected_at = $6, rejection_reason = $7, updated_at = $8
		WHERE id = $9 AND status = $10`,
		string(r.Status), nullString(r.ApprovedBy), nullTime(r.ApprovedAt), nullString(r.Comment),
		nullString(r.RejectedBy), nullTime(r.RejectedAt), nullString(r.RejectionReason), r.UpdatedAt,
		r.ID, string(from),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing record from a lost race.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM approval_requests WHERE id = $1)`, r.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrInvalidState
	}
	return nil
}

func (p *PostgresStore) ListPending(ctx context.Context, f Filter) ([]*Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE status = 'pending'`
	args := []any{}

	if f.Priority != "" {
		args = append(args, string(f.Priority))
		query += ` AND priority = $` + strconv.Itoa(len(args))
	}
	if f.AgentID != "" {
		args = append(args, f.AgentID)
		query += ` AND agent_id = $` + strconv.Itoa(len(args))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += ` AND user_id = $` + strconv.Itoa(len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRequests(rows)
}

func (p *PostgresStore) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*Request, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+requestColumns+` FROM approval_requests
		WHERE status = 'pending' AND expires_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanRequests(rows)
}

func (p *PostgresStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM approval_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequests(rows *sql.Rows) ([]*Request, error) {
	var result []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRequest(row scanner) (*Request, error) {
	var r Request
	var agentID, workflowID, userID sql.NullString
	var approvedBy, comment, rejectedBy, rejectionReason sql.NullString
	var approvedAt, rejectedAt sql.NullTime
	var status, priority string

	err := row.Scan(
		&r.ID, &r.TransactionID, &agentID, &workflowID, &userID,
		&r.RiskScore, &r.RiskLevel, &status, &priority, &r.ExpiresAt,
		&approvedBy, &approvedAt, &comment,
		&rejectedBy, &rejectedAt, &rejectionReason,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.AgentID = agentID.String
	r.WorkflowID = workflowID.String
	r.UserID = userID.String
	r.ApprovedBy = approvedBy.String
	r.Comment = comment.String
	r.RejectedBy = rejectedBy.String
	r.RejectionReason = rejectionReason.String
	r.Status = Status(status)
	r.Priority = Priority(priority)
	if approvedAt.Valid {
		t := approvedAt.Time
		r.ApprovedAt = &t
	}
	if rejectedAt.Valid {
		t := rejectedAt.Time
		r.RejectedAt = &t
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
