package rules

import "context"

// Repo defines persistence operations for routing rules.
type Repo interface {
	Create(ctx context.Context, rule RoutingRule) error
	GetByID(ctx context.Context, teamID, ruleID string) (RoutingRule, error)
	// ListByTeam returns rules in evaluation order.
	ListByTeam(ctx context.Context, teamID string, activeOnly bool) ([]RoutingRule, error)
	ListByRun(ctx context.Context, teamID, runID string) ([]RoutingRule, error)
	MaxPriority(ctx context.Context, teamID string) (int, error)
	SetActive(ctx context.Context, teamID, ruleID string, active bool) (RoutingRule, error)
	Delete(ctx context.Context, teamID, ruleID string) (bool, error)
	// DeletePending removes an analysis proposal only while it is still inactive.
	DeletePending(ctx context.Context, teamID, runID, ruleID string) (bool, error)
	// IncrementHit atomically bumps hit_count and, when succeeded, success_count.
	IncrementHit(ctx context.Context, teamID, ruleID string, succeeded bool) error
}
