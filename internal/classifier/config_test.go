package classifier

import (
	"testing"
	"time"
)

func TestWithDefaultsFillsZeroConfig(t *testing.T) {
	got := Config{}.WithDefaults()
	want := DefaultConfig()
	if got.MinConfidence != want.MinConfidence || got.RuleFloorDecay != want.RuleFloorDecay || got.LLMMode != want.LLMMode {
		t.Fatalf("expected stock defaults, got %+v", got)
	}
	if len(got.Categories) != len(want.Categories) {
		t.Fatalf("expected default categories")
	}
}

func TestWithDefaultsKeepsExplicitZeros(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = 0
	cfg.RuleFloorDecay = 0
	cfg.CategoryConfidence = 0
	cfg.RuleFloorMin = 0

	got := cfg.WithDefaults()
	if got.MinConfidence != 0 || got.RuleFloorDecay != 0 || got.CategoryConfidence != 0 || got.RuleFloorMin != 0 {
		t.Fatalf("explicit zeros were overwritten: %+v", got)
	}
}

func TestWithDefaultsRepairsInvalidValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = -1
	cfg.RuleFloorDecay = -0.1
	cfg.RuleFloorMin = 2
	cfg.LLMTimeout = -time.Second
	cfg.LLMMode = "sometimes"

	got := cfg.WithDefaults()
	d := DefaultConfig()
	if got.MinConfidence != d.MinConfidence || got.RuleFloorDecay != d.RuleFloorDecay {
		t.Fatalf("negative thresholds must fall back, got %+v", got)
	}
	if got.RuleFloorMin != d.RuleFloorMin || got.LLMTimeout != d.LLMTimeout || got.LLMMode != d.LLMMode {
		t.Fatalf("invalid values must fall back, got %+v", got)
	}
}

func TestNewKeepsExplicitZeroMinConfidence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = 0
	cfg.LLMMode = LLMOff
	c := New(cfg, nil, nil, nil, nil)
	if c.Config.MinConfidence != 0 {
		t.Fatalf("New must keep the explicit zero, got %v", c.Config.MinConfidence)
	}
}
