package decisions

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"routing-backend/internal/rules"
)

// MemoryRepo keeps the ledger in memory.
type MemoryRepo struct {
	mu     sync.RWMutex
	byTeam map[string][]Decision
	Hits   HitRecorder
}

// NewMemoryRepo constructs a MemoryRepo. hits may be nil.
func NewMemoryRepo(hits HitRecorder) *MemoryRepo {
	return &MemoryRepo{
		byTeam: make(map[string][]Decision),
		Hits:   hits,
	}
}

// Append stores the decision and bumps matched rule counters under the ledger
// lock. Cancellation is only honored before anything is written, so a row and
// its counters land together.
func (r *MemoryRepo) Append(ctx context.Context, d Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	d.MatchedRules = append([]string(nil), d.MatchedRules...)
	r.byTeam[d.TeamID] = append(r.byTeam[d.TeamID], d)
	if r.Hits == nil {
		return nil
	}
	hitCtx := context.WithoutCancel(ctx)
	for _, ruleID := range d.MatchedRules {
		err := r.Hits.IncrementHit(hitCtx, d.TeamID, ruleID, d.Decision.Succeeded())
		if err != nil && !errors.Is(err, rules.ErrNotFound) {
			return err
		}
	}
	return nil
}

// ListBetween returns the team's decisions in [from, to), oldest first.
func (r *MemoryRepo) ListBetween(ctx context.Context, teamID string, from, to time.Time) ([]Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]Decision, 0)
	for _, d := range r.byTeam[teamID] {
		if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
			continue
		}
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var _ Repo = (*MemoryRepo)(nil)
