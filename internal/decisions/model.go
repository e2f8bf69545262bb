// Package decisions is the append-only ledger of what users did with routing suggestions.
package decisions

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the user's response to a suggestion.
type Kind string

const (
	KindAccepted Kind = "accepted"
	KindRejected Kind = "rejected"
	KindModified Kind = "modified"
	KindSkipped  Kind = "skipped"
)

// ErrInvalidInput marks a decision that fails validation.
var ErrInvalidInput = errors.New("invalid decision")

// Valid reports whether k is a known decision kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAccepted, KindRejected, KindModified, KindSkipped:
		return true
	}
	return false
}

// Succeeded reports whether the decision counts as a rule success.
func (k Kind) Succeeded() bool {
	return k == KindAccepted || k == KindModified
}

// Decision is one ledger row.
type Decision struct {
	ID                  string    `json:"id"`
	TeamID              string    `json:"teamId"`
	TaskID              string    `json:"taskId,omitempty"`
	TaskTitle           string    `json:"taskTitle"`
	TaskDescription     string    `json:"taskDescription,omitempty"`
	SuggestedDeskID     string    `json:"suggestedDeskId,omitempty"`
	SuggestedModelID    string    `json:"suggestedModelId,omitempty"`
	Confidence          *float64  `json:"confidence,omitempty"`
	Reasoning           string    `json:"reasoning,omitempty"`
	Decision            Kind      `json:"decision"`
	FinalDeskID         string    `json:"finalDeskId,omitempty"`
	FinalModelID        string    `json:"finalModelId,omitempty"`
	ClassifierModel     string    `json:"classifierModel,omitempty"`
	ClassifierCostUSD   *float64  `json:"classifierCostUsd,omitempty"`
	ClassifierLatencyMs *int      `json:"classifierLatencyMs,omitempty"`
	MatchedRules        []string  `json:"matchedRules"`
	CreatedAt           time.Time `json:"createdAt"`
}

// UsedLLM reports whether the classifier consulted a model for this task.
func (d Decision) UsedLLM() bool {
	return d.ClassifierModel != ""
}

// EffectiveDeskID is the desk the task ended up on.
func (d Decision) EffectiveDeskID() string {
	if d.FinalDeskID != "" {
		return d.FinalDeskID
	}
	if d.Decision == KindAccepted {
		return d.SuggestedDeskID
	}
	return ""
}

// EffectiveModelID is the model the task ended up on.
func (d Decision) EffectiveModelID() string {
	if d.FinalModelID != "" {
		return d.FinalModelID
	}
	if d.Decision == KindAccepted || (d.Decision == KindModified && d.FinalDeskID == "") {
		return d.SuggestedModelID
	}
	return ""
}

func (d Decision) validate() error {
	if strings.TrimSpace(d.TeamID) == "" {
		return fmt.Errorf("%w: teamId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(d.TaskTitle) == "" {
		return fmt.Errorf("%w: taskTitle is required", ErrInvalidInput)
	}
	if !d.Decision.Valid() {
		return fmt.Errorf("%w: unknown decision %q", ErrInvalidInput, d.Decision)
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("%w: confidence must be within [0,1]", ErrInvalidInput)
	}
	if d.ClassifierCostUSD != nil && *d.ClassifierCostUSD < 0 {
		return fmt.Errorf("%w: classifierCostUsd must be non-negative", ErrInvalidInput)
	}
	return nil
}

// DeskStat summarizes how a desk's suggestions were received.
type DeskStat struct {
	DeskID         string  `json:"deskId"`
	Suggested      int     `json:"suggested"`
	Accepted       int     `json:"accepted"`
	AcceptanceRate float64 `json:"acceptanceRate"`
}

// DailyBucket is one UTC day of activity.
type DailyBucket struct {
	Date     string `json:"date"`
	Total    int    `json:"total"`
	Accepted int    `json:"accepted"`
	UsedLLM  int    `json:"usedLlm"`
}

// Stats is the routing summary over a window of days.
type Stats struct {
	WindowDays        int           `json:"windowDays"`
	From              time.Time     `json:"from"`
	To                time.Time     `json:"to"`
	TotalDecisions    int           `json:"totalDecisions"`
	ByDecision        map[Kind]int  `json:"byDecision"`
	AcceptanceRate    float64       `json:"acceptanceRate"`
	LLMUsageCount     int           `json:"llmUsageCount"`
	ClassifierCostUSD float64       `json:"classifierCostUsd"`
	TopDesks          []DeskStat    `json:"topDesks"`
	Daily             []DailyBucket `json:"daily"`
}
