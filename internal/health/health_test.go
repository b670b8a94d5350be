package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckAllAggregates(t *testing.T) {
	r := NewRegistry()
	r.Register("up", func(ctx context.Context) Status {
		return Status{Name: "up", Healthy: true}
	})
	r.Register("down", func(ctx context.Context) Status {
		return Status{Name: "down", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Error("one failing checker must mark the aggregate unhealthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "up" || !statuses[0].Healthy {
		t.Errorf("unexpected first status: %+v", statuses[0])
	}
	if statuses[1].Detail != "connection refused" {
		t.Errorf("detail not propagated: %+v", statuses[1])
	}
}

func TestCheckAllEmptyRegistryIsHealthy(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy || len(statuses) != 0 {
		t.Errorf("empty registry should be healthy with no statuses, got %v %v", healthy, statuses)
	}
}

func TestCheckAllSharesDeadline(t *testing.T) {
	r := NewRegistry()
	r.Register("deadline", func(ctx context.Context) Status {
		if _, ok := ctx.Deadline(); !ok {
			return Status{Name: "deadline", Healthy: false, Detail: "no deadline on context"}
		}
		return Status{Name: "deadline", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Errorf("checker should see a deadline: %+v", statuses)
	}
}

func TestDatabaseChecker(t *testing.T) {
	ok := DatabaseChecker(func(ctx context.Context) error { return nil })
	if st := ok(context.Background()); !st.Healthy || st.Name != "database" {
		t.Errorf("passing ping: %+v", st)
	}

	bad := DatabaseChecker(func(ctx context.Context) error {
		return errors.New("dial tcp: connection refused")
	})
	st := bad(context.Background())
	if st.Healthy || st.Detail == "" {
		t.Errorf("failing ping should be unhealthy with detail: %+v", st)
	}
}

func TestChainChecker(t *testing.T) {
	up := ChainChecker(func() (bool, time.Duration) { return true, 120 * time.Millisecond })
	st := up(context.Background())
	if !st.Healthy || st.Name != "chain" {
		t.Errorf("healthy chain: %+v", st)
	}
	if st.Detail != "rpc latency 120ms" {
		t.Errorf("latency detail = %q", st.Detail)
	}

	down := ChainChecker(func() (bool, time.Duration) { return false, 0 })
	st = down(context.Background())
	if st.Healthy || st.Detail != "" {
		t.Errorf("unhealthy chain with no latency: %+v", st)
	}
}
