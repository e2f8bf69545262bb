package classifier

import "errors"

// ErrInvalidInput is the only error Classify returns.
var ErrInvalidInput = errors.New("invalid classify input")

// Task is a draft task to route.
type Task struct {
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	IsCodeTask        bool   `json:"isCodeTask,omitempty"`
	PreSelectedDeskID string `json:"preSelectedDeskId,omitempty"`
	Category          string `json:"category,omitempty"`
}

// Suggestion is one ranked desk/model for a task.
type Suggestion struct {
	DeskID           string   `json:"deskId"`
	AgentName        string   `json:"agentName"`
	ModelID          string   `json:"modelId"`
	ModelName        string   `json:"modelName"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	EstimatedCostUSD float64  `json:"estimatedCostUsd"`
	MatchedCategory  string   `json:"matchedCategory,omitempty"`
	MatchedRuleIDs   []string `json:"matchedRuleIds"`
}

// Result is the outcome of one classification.
type Result struct {
	Suggestions       []Suggestion `json:"suggestions"`
	UsedLLM           bool         `json:"usedLlm"`
	ClassifierModel   string       `json:"classifierModel,omitempty"`
	ClassifierCostUSD float64      `json:"classifierCostUsd"`
	LatencyMs         int64        `json:"latencyMs"`
	MatchedRuleIDs    []string     `json:"matchedRuleIds"`
}
