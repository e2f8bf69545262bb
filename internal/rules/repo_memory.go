package rules

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo stores rules in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu     sync.RWMutex
	byID   map[string]RoutingRule
	byTeam map[string][]string
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID:   make(map[string]RoutingRule),
		byTeam: make(map[string][]string),
	}
}

// Create stores the rule.
func (r *MemoryRepo) Create(ctx context.Context, rule RoutingRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insertLocked(rule)
	return nil
}

// CreateBatch stores all rules under one lock so readers never see a partial batch.
func (r *MemoryRepo) CreateBatch(ctx context.Context, batch []RoutingRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range batch {
		r.insertLocked(rule)
	}
	return nil
}

func (r *MemoryRepo) insertLocked(rule RoutingRule) {
	if _, exists := r.byID[rule.ID]; !exists {
		r.byTeam[rule.TeamID] = append(r.byTeam[rule.TeamID], rule.ID)
	}
	r.byID[rule.ID] = rule
}

// GetByID returns a team's rule.
func (r *MemoryRepo) GetByID(ctx context.Context, teamID, ruleID string) (RoutingRule, error) {
	if err := ctx.Err(); err != nil {
		return RoutingRule{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.byID[ruleID]
	if !ok || rule.TeamID != teamID {
		return RoutingRule{}, ErrNotFound
	}
	return rule, nil
}

// ListByTeam returns the team's rules in evaluation order.
func (r *MemoryRepo) ListByTeam(ctx context.Context, teamID string, activeOnly bool) ([]RoutingRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	out := make([]RoutingRule, 0, len(r.byTeam[teamID]))
	for _, id := range r.byTeam[teamID] {
		rule := r.byID[id]
		if activeOnly && !rule.IsActive {
			continue
		}
		out = append(out, rule)
	}
	r.mu.RUnlock()
	SortForEvaluation(out)
	return out, nil
}

// ListByRun returns rules proposed by an analysis run.
func (r *MemoryRepo) ListByRun(ctx context.Context, teamID, runID string) ([]RoutingRule, error) {
	all, err := r.ListByTeam(ctx, teamID, false)
	if err != nil {
		return nil, err
	}
	out := make([]RoutingRule, 0)
	for _, rule := range all {
		if rule.AnalysisRunID == runID {
			out = append(out, rule)
		}
	}
	return out, nil
}

// MaxPriority returns the highest priority in use, or 0.
func (r *MemoryRepo) MaxPriority(ctx context.Context, teamID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, id := range r.byTeam[teamID] {
		if p := r.byID[id].Priority; p > max {
			max = p
		}
	}
	return max, nil
}

// SetActive toggles a rule.
func (r *MemoryRepo) SetActive(ctx context.Context, teamID, ruleID string, active bool) (RoutingRule, error) {
	if err := ctx.Err(); err != nil {
		return RoutingRule{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.byID[ruleID]
	if !ok || rule.TeamID != teamID {
		return RoutingRule{}, ErrNotFound
	}
	rule.IsActive = active
	rule.UpdatedAt = time.Now().UTC()
	r.byID[ruleID] = rule
	return rule, nil
}

// Delete removes a rule.
func (r *MemoryRepo) Delete(ctx context.Context, teamID, ruleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.byID[ruleID]
	if !ok || rule.TeamID != teamID {
		return false, nil
	}
	r.removeLocked(rule)
	return true, nil
}

// DeletePending removes an inactive analysis proposal.
func (r *MemoryRepo) DeletePending(ctx context.Context, teamID, runID, ruleID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.byID[ruleID]
	if !ok || rule.TeamID != teamID || rule.AnalysisRunID != runID || !rule.IsPending() {
		return false, nil
	}
	r.removeLocked(rule)
	return true, nil
}

func (r *MemoryRepo) removeLocked(rule RoutingRule) {
	delete(r.byID, rule.ID)
	ids := r.byTeam[rule.TeamID]
	for i, id := range ids {
		if id == rule.ID {
			r.byTeam[rule.TeamID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

// IncrementHit bumps the rule's counters.
func (r *MemoryRepo) IncrementHit(ctx context.Context, teamID, ruleID string, succeeded bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.byID[ruleID]
	if !ok || rule.TeamID != teamID {
		return ErrNotFound
	}
	rule.HitCount++
	if succeeded {
		rule.SuccessCount++
	}
	rule.UpdatedAt = time.Now().UTC()
	r.byID[ruleID] = rule
	return nil
}

var _ Repo = (*MemoryRepo)(nil)
