// Package approval manages the human-approval queue for gated transactions.
//
// A request is created when a transaction's risk score crosses the approval
// threshold. PENDING is the only non-terminal state; a request transitions
// exactly once to APPROVED, REJECTED, CANCELLED, or EXPIRED and is then
// retained for audit, never deleted.
//
// Expiration is lazy: every read path re-checks expiresAt for PENDING
// records and flips overdue ones to EXPIRED before returning them. The
// background Timer only makes this proactive, it is not required for
// correctness.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sagexd08/autofi/internal/idgen"
	"github.com/Sagexd08/autofi/internal/metrics"
)

var (
	ErrNotFound     = errors.New("approval request not found")
	ErrInvalidState = errors.New("approval request is not pending")
	ErrExpired      = errors.New("approval request has expired")
	ErrNoReason     = errors.New("rejection requires a reason")
)

// DefaultTTL is how long a pending request stays actionable.
const DefaultTTL = 60 * time.Minute

// Status represents the state of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true for every status except pending.
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Priority orders pending requests for reviewers.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityNormal Priority = "normal"
)

// Rank returns the sort rank: urgent=0 ... normal=3.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// PriorityForRiskLevel derives the queue priority from the risk level at
// creation time: critical->urgent, high->high, everything else->normal.
// Medium priority is only reachable through an explicit override.
func PriorityForRiskLevel(level string) Priority {
	switch level {
	case "critical":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Request is a durable, time-boxed record of a pending human decision.
// RiskScore and RiskLevel are a snapshot taken at creation time and stay
// immutable even if the threshold policy changes afterwards.
type Request struct {
	ID            string `json:"id"`
	TransactionID string `json:"transactionId"`
	AgentID       string `json:"agentId,omitempty"`
	WorkflowID    string `json:"workflowId,omitempty"`
	UserID        string `json:"userId,omitempty"`

	RiskScore float64 `json:"riskScore"`
	RiskLevel string  `json:"riskLevel"`

	Status    Status    `json:"status"`
	Priority  Priority  `json:"priority"`
	ExpiresAt time.Time `json:"expiresAt"`

	ApprovedBy string     `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	Comment    string     `json:"comment,omitempty"`

	RejectedBy      string     `json:"rejectedBy,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Filter narrows ListPending results.
type Filter struct {
	Priority Priority
	AgentID  string
	UserID   string
	Limit    int
}

// Stats summarizes the store by status.
type Stats struct {
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Expired   int `json:"expired"`
	Cancelled int `json:"cancelled"`
}

// Store persists approval requests.
type Store interface {
	Create(ctx context.Context, r *Request) error
	Get(ctx context.Context, id string) (*Request, error)
	// Transition persists r only if the stored status still equals from.
	// Returns ErrInvalidState when another transition won the race.
	Transition(ctx context.Context, r *Request, from Status) error
	// ListPending returns pending records matching the filter. Overdue
	// records are included; lazy expiration is the service's job.
	ListPending(ctx context.Context, f Filter) ([]*Request, error)
	// ListOverdue returns pending records whose expiresAt is before the
	// given time.
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]*Request, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// TransitionFunc observes lifecycle changes. previous is StatusPending for
// terminal transitions and empty for creation.
type TransitionFunc func(ctx context.Context, r *Request, previous Status)

// CreateRequest holds the parameters for creating an approval request.
type CreateRequest struct {
	TransactionID    string
	AgentID          string
	WorkflowID       string
	UserID           string
	RiskScore        float64
	RiskLevel        string
	TTL              time.Duration // 0 means the service default
	PriorityOverride Priority      // empty means "derive from risk level"
}

// Service implements the approval request lifecycle.
type Service struct {
	store     Store
	ttl       time.Duration
	logger    *slog.Logger
	locks     sync.Map // per-request ID locks: exactly one terminal transition wins
	mu        sync.RWMutex
	listeners []TransitionFunc
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithTTL overrides the default approval TTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewService creates a new approval service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ttl:    DefaultTTL,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnTransition registers a hook invoked after creation and after every
// successful terminal transition (including lazy expiration). Hooks must
// not block for long;
// anything slow belongs in the hook's own goroutine.
func (s *Service) OnTransition(fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) fireTransition(ctx context.Context, r *Request, previous Status) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, r, previous)
	}
}

// requestLock returns the mutex for the given request ID.
func (s *Service) requestLock(id string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Create opens a new pending approval request.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Request, error) {
	if req.TransactionID == "" {
		return nil, fmt.Errorf("approval: transaction id is required")
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}
	priority := req.PriorityOverride
	if priority == "" {
		priority = PriorityForRiskLevel(req.RiskLevel)
	}

	now := time.Now()
	r := &Request{
		ID:            idgen.WithPrefix("apr_"),
		TransactionID: req.TransactionID,
		AgentID:       req.AgentID,
		WorkflowID:    req.WorkflowID,
		UserID:        req.UserID,
		RiskScore:     req.RiskScore,
		RiskLevel:     req.RiskLevel,
		Status:        StatusPending,
		Priority:      priority,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}

	metrics.ApprovalTransitionsTotal.WithLabelValues(string(StatusPending)).Inc()
	s.fireTransition(ctx, r, Status(""))
	s.logger.Info("approval request created",
		"approvalId", r.ID, "transactionId", r.TransactionID,
		"riskScore", r.RiskScore, "priority", r.Priority, "expiresAt", r.ExpiresAt)
	return r, nil
}

// Get returns a request by ID, lazily expiring it if overdue.
func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	mu := s.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.expireIfOverdue(ctx, r)
}

// Approve transitions a pending request to approved.
func (s *Service) Approve(ctx context.Context, id, approverID, comment string) (*Request, error) {
	if approverID == "" {
		return nil, fmt.Errorf("approval: approver id is required")
	}

	mu := s.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	r, err := s.readyForDecision(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r.Status = StatusApproved
	r.ApprovedBy = approverID
	r.ApprovedAt = &now
	r.Comment = comment
	r.UpdatedAt = now

	if err := s.transition(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("approval request approved",
		"approvalId", r.ID, "transactionId", r.TransactionID, "approver", approverID)
	return r, nil
}

// Reject transitions a pending request to rejected. A reason is mandatory.
func (s *Service) Reject(ctx context.Context, id, rejectorID, reason string) (*Request, error) {
	if rejectorID == "" {
		return nil, fmt.Errorf("approval: rejector id is required")
	}
	if reason == "" {
		return nil, ErrNoReason
	}

	mu := s.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	r, err := s.readyForDecision(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r.Status = StatusRejected
	r.RejectedBy = rejectorID
	r.RejectedAt = &now
	r.RejectionReason = reason
	r.UpdatedAt = now

	if err := s.transition(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("approval request rejected",
		"approvalId", r.ID, "transactionId", r.TransactionID, "rejector", rejectorID, "reason", reason)
	return r, nil
}

// Cancel transitions a pending request to cancelled. Callers are responsible
// for checking that the canceller is the original requester.
func (s *Service) Cancel(ctx context.Context, id string) (*Request, error) {
	mu := s.requestLock(id)
	mu.Lock()
	defer mu.Unlock()

	r, err := s.readyForDecision(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	r.Status = StatusCancelled
	r.UpdatedAt = now

	if err := s.transition(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("approval request cancelled", "approvalId", r.ID, "transactionId", r.TransactionID)
	return r, nil
}

// Stats returns status counts, expiring overdue pending requests first so
// the pending count never includes dead records.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	s.ExpireOverdue(ctx, 500)

	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{
		Pending:   counts[StatusPending],
		Approved:  counts[StatusApproved],
		Rejected:  counts[StatusRejected],
		Expired:   counts[StatusExpired],
		Cancelled: counts[StatusCancelled],
	}
	metrics.ApprovalsPending.Set(float64(st.Pending))
	return st, nil
}

// ExpireOverdue flips up to limit overdue pending requests to expired.
// Safe to run concurrently and redundantly; returns how many were flipped.
func (s *Service) ExpireOverdue(ctx context.Context, limit int) int {
	overdue, err := s.store.ListOverdue(ctx, time.Now(), limit)
	if err != nil {
		s.logger.Warn("failed to list overdue approvals", "error", err)
		return 0
	}

	expired := 0
	for _, r := range overdue {
		mu := s.requestLock(r.ID)
		mu.Lock()
		fresh, err := s.store.Get(ctx, r.ID)
		if err == nil {
			if flipped, ferr := s.expireIfOverdue(ctx, fresh); ferr == nil && flipped.Status == StatusExpired && fresh.Status == StatusPending {
				expired++
			}
		}
		mu.Unlock()
	}
	return expired
}

// readyForDecision loads a request and verifies it can still take a
// terminal transition. Must be called with the request lock held.
func (s *Service) readyForDecision(ctx context.Context, id string) (*Request, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Lazy expiration: an action on an overdue request first flips it to
	// expired, then fails with ErrExpired. Normal, expected failure.
	if r.Status == StatusPending && time.Now().After(r.ExpiresAt) {
		if _, err := s.expireIfOverdue(ctx, r); err != nil {
			return nil, err
		}
		return nil, ErrExpired
	}

	switch r.Status {
	case StatusPending:
		return r, nil
	case StatusExpired:
		return nil, ErrExpired
	default:
		return nil, fmt.Errorf("%w: current status %q", ErrInvalidState, r.Status)
	}
}

// expireIfOverdue flips a pending, overdue request to expired. Idempotent:
// non-pending records pass through untouched. Must be called with the
// request lock held.
func (s *Service) expireIfOverdue(ctx context.Context, r *Request) (*Request, error) {
	if r.Status != StatusPending || time.Now().Before(r.ExpiresAt) {
		return r, nil
	}

	cp := *r
	cp.Status = StatusExpired
	cp.UpdatedAt = time.Now()

	if err := s.store.Transition(ctx, &cp, StatusPending); err != nil {
		if errors.Is(err, ErrInvalidState) {
			// Lost the race to another reader; return what is stored now.
			return s.store.Get(ctx, r.ID)
		}
		return nil, err
	}

	metrics.ApprovalTransitionsTotal.WithLabelValues(string(StatusExpired)).Inc()
	s.logger.Info("approval request expired",
		"approvalId", cp.ID, "transactionId", cp.TransactionID, "expiresAt", cp.ExpiresAt)
	s.fireTransition(ctx, &cp, StatusPending)
	return &cp, nil
}

// transition persists a pending->terminal transition and notifies listeners.
func (s *Service) transition(ctx context.Context, r *Request) error {
	if err := s.store.Transition(ctx, r, StatusPending); err != nil {
		if errors.Is(err, ErrInvalidState) {
			// A concurrent transition won; report the current status.
			current, gerr := s.store.Get(ctx, r.ID)
			if gerr == nil {
				if current.Status == StatusExpired {
					return ErrExpired
				}
				return fmt.Errorf("%w: current status %q", ErrInvalidState, current.Status)
			}
		}
		return err
	}

	metrics.ApprovalTransitionsTotal.WithLabelValues(string(r.Status)).Inc()
	s.fireTransition(ctx, r, StatusPending)
	return nil
}
