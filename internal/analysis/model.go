// Package analysis mines the decision ledger for routing problems and
// proposes rules to fix them.
package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"routing-backend/internal/rules"
)

// RunType selects the analysis window.
type RunType string

const (
	RunDaily  RunType = "daily"
	RunWeekly RunType = "weekly"
)

// ParseRunType normalizes a run type; empty means weekly.
func ParseRunType(raw string) (RunType, error) {
	switch RunType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RunWeekly:
		return RunWeekly, nil
	case RunDaily:
		return RunDaily, nil
	}
	return "", fmt.Errorf("%w: unknown run type %q", ErrInvalidInput, raw)
}

// Period returns the UTC window [start, end) the run type covers at now.
func (t RunType) Period(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	if t == RunDaily {
		return end.AddDate(0, 0, -1), end
	}
	return end.AddDate(0, 0, -7), end
}

func startOfUTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Status is the run lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// InFlight reports whether the run still holds the team's single run slot.
func (s Status) InFlight() bool {
	return s == StatusPending || s == StatusRunning
}

var (
	ErrNotFound     = errors.New("analysis run not found")
	ErrInvalidInput = errors.New("invalid analysis input")
	ErrNotRunning   = errors.New("analysis run is not running")
	// ErrQuotaExceeded is returned when a new run would exceed the team's
	// daily allowance. Reusing an existing run never consumes allowance.
	ErrQuotaExceeded = errors.New("daily analysis limit reached")
)

// QuotaError carries the allowance and the wait until the next UTC day.
type QuotaError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily analysis limit of %d reached", e.Limit)
}

// Is makes errors.Is(err, ErrQuotaExceeded) match.
func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }

// FindingType classifies a finding.
type FindingType string

const (
	FindingCostSaving     FindingType = "cost_saving"
	FindingRoutingPattern FindingType = "routing_pattern"
	FindingModelMismatch  FindingType = "model_mismatch"
	FindingUnderusedDesk  FindingType = "underused_desk"
	FindingGeneral        FindingType = "general"
)

// Impact grades a finding.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// Finding is one observation about the team's routing.
type Finding struct {
	Type                FindingType `json:"type"`
	Title               string      `json:"title"`
	Description         string      `json:"description"`
	Impact              Impact      `json:"impact"`
	EstimatedSavingsUSD float64     `json:"estimatedSavingsUsd,omitempty"`
	DeskID              string      `json:"deskId,omitempty"`
	TargetDeskID        string      `json:"targetDeskId,omitempty"`
	Category            string      `json:"category,omitempty"`
	ModelID             string      `json:"modelId,omitempty"`
	SuggestedModelID    string      `json:"suggestedModelId,omitempty"`
	SampleSize          int         `json:"sampleSize,omitempty"`
}

// Findings is the persisted report body.
type Findings struct {
	Findings []Finding `json:"findings"`
	Summary  string    `json:"summary,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ProposedRule is a rule suggestion that materializes as a pending rule.
type ProposedRule struct {
	RuleType        rules.RuleType
	Condition       rules.Condition
	Action          rules.Action
	Reasoning       string
	Confidence      float64
	EstimatedImpact Impact
}

type proposedRuleJSON struct {
	RuleType        rules.RuleType  `json:"ruleType"`
	Condition       json.RawMessage `json:"condition"`
	Action          rules.Action    `json:"action"`
	Reasoning       string          `json:"reasoning"`
	Confidence      float64         `json:"confidence"`
	EstimatedImpact Impact          `json:"estimatedImpact"`
}

// MarshalJSON encodes the condition as its tagged form.
func (p ProposedRule) MarshalJSON() ([]byte, error) {
	cond, err := rules.MarshalCondition(p.Condition)
	if err != nil {
		return nil, err
	}
	return json.Marshal(proposedRuleJSON{
		RuleType:        p.RuleType,
		Condition:       cond,
		Action:          p.Action,
		Reasoning:       p.Reasoning,
		Confidence:      p.Confidence,
		EstimatedImpact: p.EstimatedImpact,
	})
}

// UnmarshalJSON decodes the tagged condition.
func (p *ProposedRule) UnmarshalJSON(data []byte) error {
	var raw proposedRuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := rules.UnmarshalCondition(raw.Condition)
	if err != nil {
		return err
	}
	*p = ProposedRule{
		RuleType:        raw.RuleType,
		Condition:       cond,
		Action:          raw.Action,
		Reasoning:       raw.Reasoning,
		Confidence:      raw.Confidence,
		EstimatedImpact: raw.EstimatedImpact,
	}
	return nil
}

// Run is one analysis over a team's ledger.
type Run struct {
	ID                  string         `json:"id"`
	TeamID              string         `json:"teamId"`
	RunType             RunType        `json:"runType"`
	PeriodStart         time.Time      `json:"periodStart"`
	PeriodEnd           time.Time      `json:"periodEnd"`
	Status              Status         `json:"status"`
	AnalysisModel       string         `json:"analysisModel,omitempty"`
	AnalysisCostUSD     float64        `json:"analysisCostUsd"`
	Findings            *Findings      `json:"findings,omitempty"`
	ProposedRules       []ProposedRule `json:"proposedRules,omitempty"`
	RelatedRuleIDs      []string       `json:"relatedRuleIds"`
	TasksAnalyzed       int            `json:"tasksAnalyzed"`
	TotalCostAnalyzed   float64        `json:"totalCostAnalyzed"`
	EstimatedSavingsUSD float64        `json:"estimatedSavingsUsd"`
	UserReviewed        bool           `json:"userReviewed"`
	ReviewedAt          *time.Time     `json:"reviewedAt,omitempty"`
	StartedAt           *time.Time     `json:"startedAt,omitempty"`
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
}

// Terminal reports whether the run has finished.
func (r Run) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}
