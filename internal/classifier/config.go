package classifier

import (
	"time"

	"routing-backend/internal/pricing"
)

// LLMMode controls when the scorer is consulted.
type LLMMode string

const (
	// LLMFallback consults the scorer only when no rule matched.
	LLMFallback LLMMode = "fallback"
	LLMAlways   LLMMode = "always"
	LLMOff      LLMMode = "off"
)

// Config holds classifier thresholds and the category trigger table.
type Config struct {
	RuleFloor             float64             `yaml:"rule_floor"`
	RuleFloorDecay        float64             `yaml:"rule_floor_decay"`
	RuleFloorMin          float64             `yaml:"rule_floor_min"`
	CategoryConfidence    float64             `yaml:"category_confidence"`
	MinConfidence         float64             `yaml:"min_confidence"`
	PreselectedConfidence float64             `yaml:"preselected_confidence"`
	LLMMode               LLMMode             `yaml:"llm_mode"`
	LLMTimeout            time.Duration       `yaml:"llm_timeout"`
	CodeBudget            pricing.TokenBudget `yaml:"code_budget"`
	DefaultBudget         pricing.TokenBudget `yaml:"default_budget"`
	// Categories maps a category to the trigger words that suggest it.
	Categories map[string][]string `yaml:"categories"`
}

// DefaultConfig returns the stock thresholds and categories.
func DefaultConfig() Config {
	return Config{
		RuleFloor:             0.9,
		RuleFloorDecay:        0.05,
		RuleFloorMin:          0.6,
		CategoryConfidence:    0.7,
		MinConfidence:         0.3,
		PreselectedConfidence: 1.0,
		LLMMode:               LLMFallback,
		LLMTimeout:            5 * time.Second,
		CodeBudget:            pricing.TokenBudget{PromptTokens: 4000, CompletionTokens: 2000},
		DefaultBudget:         pricing.TokenBudget{PromptTokens: 2000, CompletionTokens: 800},
		Categories: map[string][]string{
			"code":     {"bug", "fix", "refactor", "implement", "endpoint", "test", "deploy", "api", "function", "migration"},
			"research": {"research", "investigate", "compare", "analyze", "survey", "benchmark", "evaluate"},
			"writing":  {"write", "draft", "blog", "docs", "documentation", "copy", "email", "announcement"},
			"design":   {"design", "mockup", "wireframe", "ui", "ux", "layout", "figma"},
			"data":     {"sql", "query", "dashboard", "report", "metrics", "csv", "spreadsheet"},
		},
	}
}

// WithDefaults returns DefaultConfig for a zero Config. Otherwise it only
// repairs values that cannot work, so an explicit zero threshold or decay
// survives.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.isZero() {
		return d
	}
	if c.RuleFloor <= 0 {
		c.RuleFloor = d.RuleFloor
	}
	if c.RuleFloorDecay < 0 {
		c.RuleFloorDecay = d.RuleFloorDecay
	}
	if c.RuleFloorMin < 0 || c.RuleFloorMin > c.RuleFloor {
		c.RuleFloorMin = minFloat(d.RuleFloorMin, c.RuleFloor)
	}
	if c.CategoryConfidence < 0 {
		c.CategoryConfidence = d.CategoryConfidence
	}
	if c.MinConfidence < 0 {
		c.MinConfidence = d.MinConfidence
	}
	if c.PreselectedConfidence <= 0 {
		c.PreselectedConfidence = d.PreselectedConfidence
	}
	switch c.LLMMode {
	case LLMFallback, LLMAlways, LLMOff:
	default:
		c.LLMMode = d.LLMMode
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = d.LLMTimeout
	}
	if c.CodeBudget == (pricing.TokenBudget{}) {
		c.CodeBudget = d.CodeBudget
	}
	if c.DefaultBudget == (pricing.TokenBudget{}) {
		c.DefaultBudget = d.DefaultBudget
	}
	if len(c.Categories) == 0 {
		c.Categories = d.Categories
	}
	return c
}

func (c Config) isZero() bool {
	return c.RuleFloor == 0 && c.RuleFloorDecay == 0 && c.RuleFloorMin == 0 &&
		c.CategoryConfidence == 0 && c.MinConfidence == 0 && c.PreselectedConfidence == 0 &&
		c.LLMMode == "" && c.LLMTimeout == 0 &&
		c.CodeBudget == (pricing.TokenBudget{}) && c.DefaultBudget == (pricing.TokenBudget{}) &&
		len(c.Categories) == 0
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
