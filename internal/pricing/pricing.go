// Package pricing holds the per-model token rate table used for cost estimates.
package pricing

import (
	"sort"
	"strings"
)

// ModelPricing defines per-1k token pricing for a model.
type ModelPricing struct {
	Name            string  `yaml:"name,omitempty" json:"name,omitempty"`
	Provider        string  `yaml:"provider,omitempty" json:"provider,omitempty"`
	PromptPer1K     float64 `yaml:"prompt_per_1k,omitempty" json:"promptPer1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k,omitempty" json:"completionPer1k"`
}

// TokenBudget is the assumed token usage of a single task or call.
type TokenBudget struct {
	PromptTokens     int `yaml:"prompt_tokens,omitempty" json:"promptTokens"`
	CompletionTokens int `yaml:"completion_tokens,omitempty" json:"completionTokens"`
}

// Table maps model id -> pricing.
type Table map[string]ModelPricing

// Lookup returns the pricing entry for a model. Lookups are case-insensitive.
func (t Table) Lookup(modelID string) (ModelPricing, bool) {
	if t == nil {
		return ModelPricing{}, false
	}
	id := strings.TrimSpace(modelID)
	if entry, ok := t[id]; ok {
		return entry, true
	}
	lower := strings.ToLower(id)
	for key, entry := range t {
		if strings.ToLower(key) == lower {
			return entry, true
		}
	}
	return ModelPricing{}, false
}

// ModelName returns the display name of a model, falling back to the id.
func (t Table) ModelName(modelID string) string {
	if entry, ok := t.Lookup(modelID); ok && entry.Name != "" {
		return entry.Name
	}
	return modelID
}

// EstimateCost returns the USD cost of the budget on the model. Unknown models cost 0.
func (t Table) EstimateCost(modelID string, budget TokenBudget) float64 {
	entry, ok := t.Lookup(modelID)
	if !ok {
		return 0
	}
	return costOf(entry, budget.PromptTokens, budget.CompletionTokens)
}

// UsageCost returns the USD cost of metered usage on the model.
func (t Table) UsageCost(modelID string, promptTokens, completionTokens int) float64 {
	entry, ok := t.Lookup(modelID)
	if !ok {
		return 0
	}
	return costOf(entry, promptTokens, completionTokens)
}

// Alternative is a cheaper model and its cost under the same budget.
type Alternative struct {
	ModelID string
	CostUSD float64
}

// CheaperThan lists priced models strictly cheaper than modelID under the budget,
// cheapest first. Ties are ordered by model id.
func (t Table) CheaperThan(modelID string, budget TokenBudget) []Alternative {
	base, ok := t.Lookup(modelID)
	if !ok {
		return nil
	}
	baseCost := costOf(base, budget.PromptTokens, budget.CompletionTokens)
	var out []Alternative
	for id, entry := range t {
		if strings.EqualFold(id, modelID) {
			continue
		}
		cost := costOf(entry, budget.PromptTokens, budget.CompletionTokens)
		if cost < baseCost {
			out = append(out, Alternative{ModelID: id, CostUSD: cost})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CostUSD == out[j].CostUSD {
			return out[i].ModelID < out[j].ModelID
		}
		return out[i].CostUSD < out[j].CostUSD
	})
	return out
}

func costOf(entry ModelPricing, promptTokens, completionTokens int) float64 {
	promptCost := (float64(promptTokens) / 1000.0) * entry.PromptPer1K
	completionCost := (float64(completionTokens) / 1000.0) * entry.CompletionPer1K
	cost := promptCost + completionCost
	if cost < 0 {
		return 0
	}
	return cost
}

// DefaultTable returns list prices for the models desks are usually bound to.
func DefaultTable() Table {
	return Table{
		"claude-opus-4-20250514":   {Name: "Claude Opus 4", Provider: "anthropic", PromptPer1K: 0.015, CompletionPer1K: 0.075},
		"claude-sonnet-4-20250514": {Name: "Claude Sonnet 4", Provider: "anthropic", PromptPer1K: 0.003, CompletionPer1K: 0.015},
		"claude-3-5-haiku-latest":  {Name: "Claude Haiku 3.5", Provider: "anthropic", PromptPer1K: 0.0008, CompletionPer1K: 0.004},
		"gpt-4o":                   {Name: "GPT-4o", Provider: "openai", PromptPer1K: 0.0025, CompletionPer1K: 0.01},
		"gpt-4o-mini":              {Name: "GPT-4o mini", Provider: "openai", PromptPer1K: 0.00015, CompletionPer1K: 0.0006},
		"gemini-2.0-flash":         {Name: "Gemini 2.0 Flash", Provider: "google", PromptPer1K: 0.0001, CompletionPer1K: 0.0004},
	}
}
