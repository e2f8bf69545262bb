package analysis

import (
	"time"

	"routing-backend/internal/pricing"
)

// Config holds analysis thresholds. Zero fields take defaults.
type Config struct {
	Timeout              time.Duration       `yaml:"timeout"`
	StaleAfter           time.Duration       `yaml:"stale_after"`
	MinDecisions         int                 `yaml:"min_decisions"`
	MinSuggestions       int                 `yaml:"min_suggestions"`
	UnderusedAcceptance  float64             `yaml:"underused_acceptance"`
	MismatchShare        float64             `yaml:"mismatch_share"`
	SavingsTolerance     float64             `yaml:"savings_tolerance"`
	MinRedirects         int                 `yaml:"min_redirects"`
	HighImpactSavings    float64             `yaml:"high_impact_savings_usd"`
	MediumImpactSavings  float64             `yaml:"medium_impact_savings_usd"`
	ConfidenceHalfSample int                 `yaml:"confidence_half_sample"`
	MaxConfidence        float64             `yaml:"max_confidence"`
	KeywordCount         int                 `yaml:"keyword_count"`
	TaskBudget           pricing.TokenBudget `yaml:"task_budget"`
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		Timeout:              60 * time.Second,
		StaleAfter:           5 * time.Minute,
		MinDecisions:         5,
		MinSuggestions:       10,
		UnderusedAcceptance:  0.3,
		MismatchShare:        0.4,
		SavingsTolerance:     0.05,
		MinRedirects:         3,
		HighImpactSavings:    1.0,
		MediumImpactSavings:  0.1,
		ConfidenceHalfSample: 10,
		MaxConfidence:        0.95,
		KeywordCount:         3,
		TaskBudget:           pricing.TokenBudget{PromptTokens: 2000, CompletionTokens: 800},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.MinDecisions <= 0 {
		c.MinDecisions = d.MinDecisions
	}
	if c.MinSuggestions <= 0 {
		c.MinSuggestions = d.MinSuggestions
	}
	if c.UnderusedAcceptance <= 0 {
		c.UnderusedAcceptance = d.UnderusedAcceptance
	}
	if c.MismatchShare <= 0 {
		c.MismatchShare = d.MismatchShare
	}
	if c.SavingsTolerance <= 0 {
		c.SavingsTolerance = d.SavingsTolerance
	}
	if c.MinRedirects <= 0 {
		c.MinRedirects = d.MinRedirects
	}
	if c.HighImpactSavings <= 0 {
		c.HighImpactSavings = d.HighImpactSavings
	}
	if c.MediumImpactSavings <= 0 {
		c.MediumImpactSavings = d.MediumImpactSavings
	}
	if c.ConfidenceHalfSample <= 0 {
		c.ConfidenceHalfSample = d.ConfidenceHalfSample
	}
	if c.MaxConfidence <= 0 || c.MaxConfidence > 1 {
		c.MaxConfidence = d.MaxConfidence
	}
	if c.KeywordCount <= 0 {
		c.KeywordCount = d.KeywordCount
	}
	if c.TaskBudget.PromptTokens <= 0 && c.TaskBudget.CompletionTokens <= 0 {
		c.TaskBudget = d.TaskBudget
	}
	return c
}

// ProposalConfidence grows with sample size and never exceeds MaxConfidence.
func (c Config) ProposalConfidence(sampleSize int) float64 {
	if sampleSize <= 0 {
		return 0
	}
	conf := float64(sampleSize) / float64(sampleSize+c.ConfidenceHalfSample)
	if conf > c.MaxConfidence {
		return c.MaxConfidence
	}
	return conf
}
