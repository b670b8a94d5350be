package transactions

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seed(t *testing.T, s *MemoryStore, id, agentID string, createdAt time.Time) *Transaction {
	t.Helper()
	tx := &Transaction{
		ID:        id,
		AgentID:   agentID,
		To:        "0x1111111111111111111111111111111111111111",
		Value:     "0",
		Status:    StatusQueued,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	if err := s.Create(context.Background(), tx); err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return tx
}

func TestMemoryStoreGet(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "txn_1", "agent_a", time.Now())

	got, err := s.Get(context.Background(), "txn_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "txn_1" || got.Status != StatusQueued {
		t.Errorf("unexpected record: %+v", got)
	}

	if _, err := s.Get(context.Background(), "txn_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCopiesOnReadAndWrite(t *testing.T) {
	s := NewMemoryStore()
	orig := seed(t, s, "txn_1", "agent_a", time.Now())

	// Mutating the caller's struct must not touch the stored record.
	orig.Status = StatusFailed
	got, _ := s.Get(context.Background(), "txn_1")
	if got.Status != StatusQueued {
		t.Error("store shares memory with the caller's struct on create")
	}

	// Mutating a returned struct must not touch the stored record either.
	got.Status = StatusFailed
	again, _ := s.Get(context.Background(), "txn_1")
	if again.Status != StatusQueued {
		t.Error("store shares memory with returned structs")
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := NewMemoryStore()
	tx := seed(t, s, "txn_1", "agent_a", time.Now())

	tx.TxHash = "0xhash"
	tx.Status = StatusConfirmed
	if err := s.Update(context.Background(), tx); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.Get(context.Background(), "txn_1")
	if got.TxHash != "0xhash" || got.Status != StatusConfirmed {
		t.Errorf("update not applied: %+v", got)
	}

	missing := &Transaction{ID: "txn_missing"}
	if err := s.Update(context.Background(), missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreUpdateStatus(t *testing.T) {
	s := NewMemoryStore()
	seed(t, s, "txn_1", "agent_a", time.Now())

	if err := s.UpdateStatus(context.Background(), "txn_1", StatusFailed, "nonce too low"); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, _ := s.Get(context.Background(), "txn_1")
	if got.Status != StatusFailed || got.FailureReason != "nonce too low" {
		t.Errorf("unexpected record: %+v", got)
	}

	// Same status again is a no-op, and must not clear the reason.
	if err := s.UpdateStatus(context.Background(), "txn_1", StatusFailed, ""); err != nil {
		t.Fatalf("idempotent update: %v", err)
	}
	again, _ := s.Get(context.Background(), "txn_1")
	if again.FailureReason != "nonce too low" {
		t.Error("idempotent update must not clear the failure reason")
	}
	if !again.UpdatedAt.Equal(got.UpdatedAt) {
		t.Error("idempotent update must not bump UpdatedAt")
	}

	if err := s.UpdateStatus(context.Background(), "txn_missing", StatusFailed, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListByAgent(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	seed(t, s, "txn_old", "agent_a", base.Add(-2*time.Hour))
	seed(t, s, "txn_new", "agent_a", base)
	seed(t, s, "txn_mid", "agent_a", base.Add(-time.Hour))
	seed(t, s, "txn_other", "agent_b", base)

	list, err := s.ListByAgent(context.Background(), "agent_a", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records for agent_a, got %d", len(list))
	}
	// Newest first.
	want := []string{"txn_new", "txn_mid", "txn_old"}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, list[i].ID, id)
		}
	}

	limited, err := s.ListByAgent(context.Background(), "agent_a", 2)
	if err != nil {
		t.Fatalf("list with limit: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "txn_new" {
		t.Errorf("limit should keep the newest records, got %v", limited)
	}

	empty, err := s.ListByAgent(context.Background(), "agent_z", 10)
	if err != nil {
		t.Fatalf("list unknown agent: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("unknown agent should list nothing, got %d", len(empty))
	}
}
