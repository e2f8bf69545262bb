package rules

import (
	"encoding/json"
	"sort"
	"time"
)

// Source records who created a rule.
type Source string

const (
	SourceManual   Source = "manual"
	SourceAnalysis Source = "analysis"
)

// RuleType mirrors the condition variant.
type RuleType string

const (
	RuleTypeKeyword  RuleType = "keyword"
	RuleTypeCategory RuleType = "category"
)

// RoutingRule is a persistent, team-scoped condition -> action mapping.
type RoutingRule struct {
	ID            string
	TeamID        string
	RuleType      RuleType
	Source        Source
	Condition     Condition
	Action        Action
	Priority      int
	IsActive      bool
	HitCount      int
	SuccessCount  int
	AnalysisRunID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsPending reports whether the rule is an unapproved analysis proposal.
func (r RoutingRule) IsPending() bool {
	return r.Source == SourceAnalysis && !r.IsActive
}

type ruleJSON struct {
	ID            string          `json:"id"`
	TeamID        string          `json:"teamId"`
	RuleType      RuleType        `json:"ruleType"`
	Source        Source          `json:"source"`
	Condition     json.RawMessage `json:"condition"`
	Action        Action          `json:"action"`
	Priority      int             `json:"priority"`
	IsActive      bool            `json:"isActive"`
	HitCount      int             `json:"hitCount"`
	SuccessCount  int             `json:"successCount"`
	AnalysisRunID string          `json:"analysisRunId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// MarshalJSON encodes the condition with its type tag.
func (r RoutingRule) MarshalJSON() ([]byte, error) {
	cond, err := MarshalCondition(r.Condition)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{
		ID:            r.ID,
		TeamID:        r.TeamID,
		RuleType:      r.RuleType,
		Source:        r.Source,
		Condition:     cond,
		Action:        r.Action,
		Priority:      r.Priority,
		IsActive:      r.IsActive,
		HitCount:      r.HitCount,
		SuccessCount:  r.SuccessCount,
		AnalysisRunID: r.AnalysisRunID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	})
}

// UnmarshalJSON decodes a rule, rejecting unknown condition variants.
func (r *RoutingRule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := UnmarshalCondition(raw.Condition)
	if err != nil {
		return err
	}
	*r = RoutingRule{
		ID:            raw.ID,
		TeamID:        raw.TeamID,
		RuleType:      raw.RuleType,
		Source:        raw.Source,
		Condition:     cond,
		Action:        raw.Action,
		Priority:      raw.Priority,
		IsActive:      raw.IsActive,
		HitCount:      raw.HitCount,
		SuccessCount:  raw.SuccessCount,
		AnalysisRunID: raw.AnalysisRunID,
		CreatedAt:     raw.CreatedAt,
		UpdatedAt:     raw.UpdatedAt,
	}
	return nil
}

// SortForEvaluation orders rules highest priority first; equal priorities go
// oldest first, then by id so the order is total.
func SortForEvaluation(rules []RoutingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
