package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"routing-backend/internal/shared/telemetry"
)

// Service manages a team's routing rules.
type Service struct {
	Repo Repo
	Now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

// CreateInput describes a manually authored rule.
type CreateInput struct {
	Condition Condition
	Action    Action
	// Priority defaults to one above the team's current maximum.
	Priority *int
	Inactive bool
}

// Proposal is a rule suggested by an analysis run.
type Proposal struct {
	Condition Condition
	Action    Action
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Create validates and stores a manual rule.
func (s *Service) Create(ctx context.Context, teamID string, in CreateInput) (RoutingRule, error) {
	if strings.TrimSpace(teamID) == "" {
		return RoutingRule{}, fmt.Errorf("%w: team id is required", ErrInvalidRule)
	}
	if err := ValidateCondition(in.Condition); err != nil {
		return RoutingRule{}, err
	}
	if err := in.Action.Validate(); err != nil {
		return RoutingRule{}, err
	}

	priority := 0
	if in.Priority != nil {
		priority = *in.Priority
	} else {
		max, err := s.Repo.MaxPriority(ctx, teamID)
		if err != nil {
			return RoutingRule{}, err
		}
		priority = max + 1
	}

	now := s.now()
	rule := RoutingRule{
		ID:        uuid.NewString(),
		TeamID:    teamID,
		RuleType:  RuleTypeFor(in.Condition),
		Source:    SourceManual,
		Condition: in.Condition,
		Action:    in.Action.normalized(),
		Priority:  priority,
		IsActive:  !in.Inactive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.Create(ctx, rule); err != nil {
		return RoutingRule{}, err
	}
	telemetry.Info("rules.created", map[string]any{
		"team_id":  teamID,
		"rule_id":  rule.ID,
		"type":     rule.RuleType,
		"priority": rule.Priority,
	})
	return rule, nil
}

// List returns all of a team's rules in evaluation order.
func (s *Service) List(ctx context.Context, teamID string) ([]RoutingRule, error) {
	return s.Repo.ListByTeam(ctx, teamID, false)
}

// ListActive returns the rules the classifier evaluates.
func (s *Service) ListActive(ctx context.Context, teamID string) ([]RoutingRule, error) {
	return s.Repo.ListByTeam(ctx, teamID, true)
}

// Get returns one rule.
func (s *Service) Get(ctx context.Context, teamID, ruleID string) (RoutingRule, error) {
	return s.Repo.GetByID(ctx, teamID, ruleID)
}

// ListByRun returns the rules an analysis run proposed that still exist.
func (s *Service) ListByRun(ctx context.Context, teamID, runID string) ([]RoutingRule, error) {
	return s.Repo.ListByRun(ctx, teamID, runID)
}

// Toggle enables or disables a rule.
func (s *Service) Toggle(ctx context.Context, teamID, ruleID string, active bool) (RoutingRule, error) {
	return s.Repo.SetActive(ctx, teamID, ruleID, active)
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, teamID, ruleID string) error {
	deleted, err := s.Repo.Delete(ctx, teamID, ruleID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// RecordHit counts a decision that matched the rule.
func (s *Service) RecordHit(ctx context.Context, teamID, ruleID string, succeeded bool) error {
	return s.Repo.IncrementHit(ctx, teamID, ruleID, succeeded)
}

// MaterializePending turns analysis proposals into inactive rules whose
// priorities continue above the team's current maximum. The caller persists them.
func (s *Service) MaterializePending(ctx context.Context, teamID, runID string, proposals []Proposal) ([]RoutingRule, error) {
	if len(proposals) == 0 {
		return nil, nil
	}
	max, err := s.Repo.MaxPriority(ctx, teamID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]RoutingRule, 0, len(proposals))
	for i, p := range proposals {
		if err := ValidateCondition(p.Condition); err != nil {
			return nil, err
		}
		if err := p.Action.Validate(); err != nil {
			return nil, err
		}
		out = append(out, RoutingRule{
			ID:            uuid.NewString(),
			TeamID:        teamID,
			RuleType:      RuleTypeFor(p.Condition),
			Source:        SourceAnalysis,
			Condition:     p.Condition,
			Action:        p.Action.normalized(),
			Priority:      max + len(proposals) - i,
			IsActive:      false,
			AnalysisRunID: runID,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return out, nil
}

// ApprovePending activates a proposal from the given run. Approving an
// already active proposal is a no-op.
func (s *Service) ApprovePending(ctx context.Context, teamID, runID, ruleID string) (RoutingRule, error) {
	rule, err := s.pendingFor(ctx, teamID, runID, ruleID)
	if err != nil {
		return RoutingRule{}, err
	}
	if rule.IsActive {
		return rule, nil
	}
	rule, err = s.Repo.SetActive(ctx, teamID, ruleID, true)
	if err != nil {
		return RoutingRule{}, err
	}
	telemetry.Info("rules.approved", map[string]any{
		"team_id": teamID,
		"run_id":  runID,
		"rule_id": ruleID,
	})
	return rule, nil
}

// RejectOutcome reports what a reject call did.
type RejectOutcome string

const (
	RejectDeleted  RejectOutcome = "rejected"
	RejectApproved RejectOutcome = "approved"
	RejectAbsent   RejectOutcome = "absent"
)

// RejectPending deletes a proposal that has not been approved. Rejecting a
// proposal that is already gone, or already approved, is a no-op and the
// outcome says which.
func (s *Service) RejectPending(ctx context.Context, teamID, runID, ruleID string) (RejectOutcome, error) {
	rule, err := s.pendingFor(ctx, teamID, runID, ruleID)
	if errors.Is(err, ErrNotFound) {
		return RejectAbsent, nil
	}
	if err != nil {
		return "", err
	}
	if rule.IsActive {
		return RejectApproved, nil
	}
	deleted, err := s.Repo.DeletePending(ctx, teamID, runID, ruleID)
	if err != nil {
		return "", err
	}
	if !deleted {
		// Approved or deleted between the read and the delete.
		rule, err := s.pendingFor(ctx, teamID, runID, ruleID)
		if err == nil && rule.IsActive {
			return RejectApproved, nil
		}
		return RejectAbsent, nil
	}
	telemetry.Info("rules.rejected", map[string]any{
		"team_id": teamID,
		"run_id":  runID,
		"rule_id": ruleID,
	})
	return RejectDeleted, nil
}

func (s *Service) pendingFor(ctx context.Context, teamID, runID, ruleID string) (RoutingRule, error) {
	rule, err := s.Repo.GetByID(ctx, teamID, ruleID)
	if err != nil {
		return RoutingRule{}, err
	}
	if rule.Source != SourceAnalysis {
		return RoutingRule{}, ErrNotPending
	}
	if rule.AnalysisRunID != runID {
		return RoutingRule{}, ErrNotFound
	}
	return rule, nil
}
