package approval

import (
	"context"
	"sort"
	"time"
)

// DefaultListLimit bounds ListPending when the filter gives no limit.
const DefaultListLimit = 100

// ListPending returns non-expired pending requests matching the filter,
// sorted by priority rank ascending (urgent first) with ties broken by
// most-recent-creation-first.
//
// The newest-first tie-break is deliberate and preserved behavior: the
// queue surfaces what just happened, it does not promise FIFO fairness.
func (s *Service) ListPending(ctx context.Context, f Filter) ([]*Request, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}

	// Proactively flip overdue records so they never show up as pending.
	s.ExpireOverdue(ctx, 500)

	pending, err := s.store.ListPending(ctx, f)
	if err != nil {
		return nil, err
	}

	// The store may still have raced in an overdue record; drop anything
	// no longer actionable rather than flipping it inline here.
	out := pending[:0]
	now := time.Now()
	for _, r := range pending {
		if r.Status == StatusPending && r.ExpiresAt.After(now) {
			out = append(out, r)
		}
	}

	sortQueue(out)

	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// sortQueue orders requests by priority rank ascending, newest first on ties.
func sortQueue(reqs []*Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		ri, rj := reqs[i].Priority.Rank(), reqs[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return reqs[i].CreatedAt.After(reqs[j].CreatedAt)
	})
}
