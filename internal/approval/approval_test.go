package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), opts...)
}

func mustCreate(t *testing.T, s *Service, req CreateRequest) *Request {
	t.Helper()
	if req.TransactionID == "" {
		req.TransactionID = "txn_test"
	}
	r, err := s.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return r
}

func TestCreateDerivesPriority(t *testing.T) {
	s := newTestService(t)

	cases := []struct {
		level string
		want  Priority
	}{
		{"critical", PriorityUrgent},
		{"high", PriorityHigh},
		{"medium", PriorityNormal},
		{"low", PriorityNormal},
		{"", PriorityNormal},
	}
	for _, c := range cases {
		r := mustCreate(t, s, CreateRequest{TransactionID: "txn_" + c.level, RiskLevel: c.level})
		if r.Priority != c.want {
			t.Errorf("level %q: priority = %s, want %s", c.level, r.Priority, c.want)
		}
	}

	// Medium priority is only reachable through an explicit override.
	r := mustCreate(t, s, CreateRequest{TransactionID: "txn_ovr", RiskLevel: "low", PriorityOverride: PriorityMedium})
	if r.Priority != PriorityMedium {
		t.Errorf("override: priority = %s, want medium", r.Priority)
	}
}

func TestCreateAppliesTTL(t *testing.T) {
	s := newTestService(t, WithTTL(10*time.Minute))

	r := mustCreate(t, s, CreateRequest{})
	ttl := time.Until(r.ExpiresAt)
	if ttl < 9*time.Minute || ttl > 11*time.Minute {
		t.Errorf("expected ~10m TTL, got %s", ttl)
	}

	r2 := mustCreate(t, s, CreateRequest{TTL: time.Hour})
	if ttl2 := time.Until(r2.ExpiresAt); ttl2 < 59*time.Minute {
		t.Errorf("per-request TTL should win, got %s", ttl2)
	}
}

func TestApproveHappyPath(t *testing.T) {
	s := newTestService(t)
	r := mustCreate(t, s, CreateRequest{RiskScore: 0.7, RiskLevel: "high"})

	got, err := s.Approve(context.Background(), r.ID, "ops@example.com", "looks fine")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.ApprovedBy != "ops@example.com" || got.ApprovedAt == nil {
		t.Error("approver audit fields not set")
	}
	// Risk snapshot stays immutable through the transition.
	if got.RiskScore != 0.7 || got.RiskLevel != "high" {
		t.Errorf("risk snapshot changed: %f %s", got.RiskScore, got.RiskLevel)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	s := newTestService(t)
	r := mustCreate(t, s, CreateRequest{})

	if _, err := s.Reject(context.Background(), r.ID, "ops", ""); !errors.Is(err, ErrNoReason) {
		t.Errorf("expected ErrNoReason, got %v", err)
	}

	got, err := s.Reject(context.Background(), r.ID, "ops", "suspicious destination")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != StatusRejected || got.RejectionReason != "suspicious destination" {
		t.Errorf("unexpected rejected record: %+v", got)
	}
}

func TestTerminalTransitionHappensExactlyOnce(t *testing.T) {
	s := newTestService(t)
	r := mustCreate(t, s, CreateRequest{})

	if _, err := s.Approve(context.Background(), r.ID, "first", ""); err != nil {
		t.Fatalf("first approve: %v", err)
	}

	// Every later decision fails with the current status in the error.
	if _, err := s.Reject(context.Background(), r.ID, "second", "too late"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("reject after approve: expected ErrInvalidState, got %v", err)
	}
	if _, err := s.Approve(context.Background(), r.ID, "second", ""); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double approve: expected ErrInvalidState, got %v", err)
	}
	if _, err := s.Cancel(context.Background(), r.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cancel after approve: expected ErrInvalidState, got %v", err)
	}
}

func TestConcurrentDecisionsOneWinner(t *testing.T) {
	s := newTestService(t)
	r := mustCreate(t, s, CreateRequest{})

	const attempts = 20
	var wg sync.WaitGroup
	wins := make(chan Status, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := s.Approve(context.Background(), r.ID, "racer", ""); err == nil {
					wins <- StatusApproved
				}
			} else {
				if _, err := s.Reject(context.Background(), r.ID, "racer", "race"); err == nil {
					wins <- StatusRejected
				}
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []Status
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("expected exactly one winning transition, got %d: %v", len(winners), winners)
	}

	final, err := s.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != winners[0] {
		t.Errorf("stored status %s does not match winner %s", final.Status, winners[0])
	}
}

func TestApproveExpiredAlwaysFailsExpired(t *testing.T) {
	s := newTestService(t)
	r := mustCreate(t, s, CreateRequest{TTL: time.Millisecond})
	time.Sleep(5 * time.Millisecond)

	if _, err := s.Approve(context.Background(), r.ID, "ops", ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("approving overdue request: expected ErrExpired, got %v", err)
	}

	// The failed attempt flipped the record; a second attempt still reports
	// expired, not invalid state.
	if _, err := s.Approve(context.Background(), r.ID, "ops", ""); !errors.Is(err, ErrExpired) {
		t.Errorf("approving already-expired request: expected ErrExpired, got %v", err)
	}

	got, err := s.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestGetLazilyExpires(t *testing.T) {
	s := newTestService(t)
	r := mustCreate(t, s, CreateRequest{TTL: time.Millisecond})
	time.Sleep(5 * time.Millisecond)

	got, err := s.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("read path should flip overdue record, got %s", got.Status)
	}

	// Idempotent: reading again returns the same terminal record.
	again, err := s.Get(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again.Status != StatusExpired || !again.UpdatedAt.Equal(got.UpdatedAt) {
		t.Error("second read must not re-flip the record")
	}
}

func TestExpireOverdueSweep(t *testing.T) {
	s := newTestService(t)
	mustCreate(t, s, CreateRequest{TransactionID: "txn_1", TTL: time.Millisecond})
	mustCreate(t, s, CreateRequest{TransactionID: "txn_2", TTL: time.Millisecond})
	fresh := mustCreate(t, s, CreateRequest{TransactionID: "txn_3", TTL: time.Hour})
	time.Sleep(5 * time.Millisecond)

	if n := s.ExpireOverdue(context.Background(), 500); n != 2 {
		t.Errorf("expected 2 expired, got %d", n)
	}
	// Redundant sweep is a no-op.
	if n := s.ExpireOverdue(context.Background(), 500); n != 0 {
		t.Errorf("second sweep should expire nothing, got %d", n)
	}

	got, _ := s.Get(context.Background(), fresh.ID)
	if got.Status != StatusPending {
		t.Errorf("fresh request should stay pending, got %s", got.Status)
	}
}

func TestStatsCountsAfterSweep(t *testing.T) {
	s := newTestService(t)
	mustCreate(t, s, CreateRequest{TransactionID: "txn_1", TTL: time.Millisecond})
	live := mustCreate(t, s, CreateRequest{TransactionID: "txn_2", TTL: time.Hour})
	if _, err := s.Approve(context.Background(), live.ID, "ops", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 0 {
		t.Errorf("pending should exclude overdue records, got %d", stats.Pending)
	}
	if stats.Expired != 1 || stats.Approved != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestTransitionHooksFire(t *testing.T) {
	s := newTestService(t)

	type event struct {
		status   Status
		previous Status
	}
	var mu sync.Mutex
	var events []event
	s.OnTransition(func(_ context.Context, r *Request, previous Status) {
		mu.Lock()
		events = append(events, event{r.Status, previous})
		mu.Unlock()
	})

	r := mustCreate(t, s, CreateRequest{})
	if _, err := s.Approve(context.Background(), r.ID, "ops", ""); err != nil {
		t.Fatalf("approve: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("expected creation + approval events, got %d", len(events))
	}
	if events[0].status != StatusPending || events[0].previous != Status("") {
		t.Errorf("creation event: %+v", events[0])
	}
	if events[1].status != StatusApproved || events[1].previous != StatusPending {
		t.Errorf("approval event: %+v", events[1])
	}
}

func TestGetUnknownID(t *testing.T) {
	s := newTestService(t)
	if _, err := s.Get(context.Background(), "apr_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
