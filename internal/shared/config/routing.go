package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"routing-backend/internal/analysis"
	"routing-backend/internal/classifier"
	"routing-backend/internal/desks"
	"routing-backend/internal/pricing"
)

// RoutingConfig is the YAML tuning file: desks, prices and thresholds.
type RoutingConfig struct {
	Desks      desks.Config      `yaml:"desks"`
	Pricing    pricing.Table     `yaml:"pricing,omitempty"`
	Classifier classifier.Config `yaml:"classifier,omitempty"`
	Analysis   analysis.Config   `yaml:"analysis,omitempty"`
	LLM        LLMConfig         `yaml:"llm,omitempty"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit,omitempty"`
}

// LLMConfig selects the models used for scoring and summaries.
type LLMConfig struct {
	Provider     string `yaml:"provider,omitempty"`
	ScoreModel   string `yaml:"score_model,omitempty"`
	SummaryModel string `yaml:"summary_model,omitempty"`
	MaxRetries   int    `yaml:"max_retries,omitempty"`
}

// RateLimitConfig caps per-team API traffic and new analysis runs per UTC day.
// Negative values disable the matching limit.
type RateLimitConfig struct {
	AnalysisTriggersPerDay int     `yaml:"analysis_triggers_per_day,omitempty"`
	RequestsPerSecond      float64 `yaml:"requests_per_second,omitempty"`
	Burst                  int     `yaml:"burst,omitempty"`
}

// defaultModels are the cheap models each provider scores and summarizes with.
var defaultModels = map[string]string{
	"anthropic": "claude-3-5-haiku-latest",
	"openai":    "gpt-4o-mini",
	"google":    "gemini-2.0-flash",
	"gemini":    "gemini-2.0-flash",
}

// LoadRoutingConfig reads routing configuration from a YAML file. An empty
// path returns the defaults.
func LoadRoutingConfig(path string) (*RoutingConfig, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRoutingConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRoutingConfig(data)
}

// ParseRoutingConfig decodes YAML and applies defaults. Unknown keys are
// rejected. Classifier keys the file omits keep their defaults, so a key set
// to zero stays zero.
func ParseRoutingConfig(data []byte) (*RoutingConfig, error) {
	var cfg RoutingConfig
	cfg.Classifier = classifier.DefaultConfig()
	cfg.Classifier.Categories = nil
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse routing config: %w", err)
	}
	applyRoutingDefaults(&cfg)
	if _, err := desks.NewStaticRegistry(cfg.Desks); err != nil {
		return nil, fmt.Errorf("routing config desks: %w", err)
	}
	return &cfg, nil
}

// DefaultRoutingConfig returns the built-in roster and thresholds.
func DefaultRoutingConfig() *RoutingConfig {
	cfg := &RoutingConfig{}
	applyRoutingDefaults(cfg)
	return cfg
}

func defaultRoster() []desks.Desk {
	return []desks.Desk{
		{ID: "desk-builder", AgentName: "Builder", ModelID: "claude-sonnet-4-20250514", Description: "Implements and fixes code", Categories: []string{"code"}},
		{ID: "desk-scout", AgentName: "Scout", ModelID: "gemini-2.0-flash", Description: "Researches and compares options", Categories: []string{"research"}},
		{ID: "desk-scribe", AgentName: "Scribe", ModelID: "gpt-4o-mini", Description: "Writes docs and announcements", Categories: []string{"writing"}},
		{ID: "desk-analyst", AgentName: "Analyst", ModelID: "gpt-4o", Description: "Queries data and builds reports", Categories: []string{"data"}},
		{ID: "desk-architect", AgentName: "Architect", ModelID: "claude-opus-4-20250514", Description: "Designs systems and interfaces", Categories: []string{"design"}},
	}
}

func applyRoutingDefaults(cfg *RoutingConfig) {
	if cfg == nil {
		return
	}
	if len(cfg.Desks.Default) == 0 && len(cfg.Desks.Teams) == 0 {
		cfg.Desks.Default = defaultRoster()
	}
	if len(cfg.Pricing) == 0 {
		cfg.Pricing = pricing.DefaultTable()
	}
	cfg.Classifier = cfg.Classifier.WithDefaults()
	cfg.Analysis = cfg.Analysis.WithDefaults()
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.MaxRetries <= 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.RateLimit.AnalysisTriggersPerDay == 0 {
		cfg.RateLimit.AnalysisTriggersPerDay = 1
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = 10
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
}

// ApplyEnv lets process settings override the file. A negative trigger limit
// disables limiting.
func (c *RoutingConfig) ApplyEnv(env Config) {
	if env.LLMProvider != "" {
		c.LLM.Provider = env.LLMProvider
	}
	if env.LLMScoreModel != "" {
		c.LLM.ScoreModel = env.LLMScoreModel
	}
	if env.LLMSummaryModel != "" {
		c.LLM.SummaryModel = env.LLMSummaryModel
	}
	if c.LLM.ScoreModel == "" {
		c.LLM.ScoreModel = defaultModels[c.LLM.Provider]
	}
	if c.LLM.SummaryModel == "" {
		c.LLM.SummaryModel = c.LLM.ScoreModel
	}
	if env.AnalysisTriggersPerDay != 0 {
		c.RateLimit.AnalysisTriggersPerDay = env.AnalysisTriggersPerDay
	}
}
