package classifier

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"routing-backend/internal/desks"
	"routing-backend/internal/llm"
	"routing-backend/internal/pricing"
	"routing-backend/internal/rules"
	"routing-backend/internal/shared/metrics"
	"routing-backend/internal/shared/telemetry"
)

// RuleSource loads a team's active rules.
type RuleSource interface {
	ListActive(ctx context.Context, teamID string) ([]rules.RoutingRule, error)
}

// Classifier ranks desks for a task. It is safe for concurrent use.
type Classifier struct {
	Config  Config
	Pricing pricing.Table
	// Scorer is optional; nil disables the LLM pass.
	Scorer llm.Scorer
	Rules  RuleSource
	Desks  desks.Registry
	Now    func() time.Time
}

// New constructs a Classifier with defaults applied to cfg.
func New(cfg Config, table pricing.Table, scorer llm.Scorer, ruleSource RuleSource, registry desks.Registry) *Classifier {
	return &Classifier{
		Config:  cfg.WithDefaults(),
		Pricing: table,
		Scorer:  scorer,
		Rules:   ruleSource,
		Desks:   registry,
	}
}

func (c *Classifier) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// ClassifyForTeam loads the team's roster (unless given) and active rules, then classifies.
func (c *Classifier) ClassifyForTeam(ctx context.Context, teamID string, task Task, roster []desks.Desk) (Result, error) {
	if strings.TrimSpace(task.Title) == "" {
		return Result{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if roster == nil && c.Desks != nil {
		loaded, err := c.Desks.Roster(ctx, teamID)
		if err != nil {
			return Result{}, fmt.Errorf("load roster: %w", err)
		}
		roster = loaded
	}
	var active []rules.RoutingRule
	if c.Rules != nil {
		loaded, err := c.Rules.ListActive(ctx, teamID)
		if err != nil {
			return Result{}, fmt.Errorf("load rules: %w", err)
		}
		active = loaded
	}
	res, err := c.Classify(ctx, task, roster, active)
	if err == nil {
		telemetry.Info("classifier.classified", map[string]any{
			"team_id":       teamID,
			"suggestions":   len(res.Suggestions),
			"matched_rules": len(res.MatchedRuleIDs),
			"used_llm":      res.UsedLLM,
			"latency_ms":    res.LatencyMs,
		})
	}
	return res, err
}

type accum struct {
	desk          desks.Desk
	modelOverride string
	confidence    float64
	reasons       []string
	ruleIDs       []string
	category      string
}

func (a *accum) offer(confidence float64, reason string) {
	if confidence > a.confidence {
		a.confidence = confidence
	}
	for _, r := range a.reasons {
		if r == reason {
			return
		}
	}
	a.reasons = append(a.reasons, reason)
}

type board struct {
	order []string
	byID  map[string]*accum
}

func (b *board) get(d desks.Desk) *accum {
	if a, ok := b.byID[d.ID]; ok {
		return a
	}
	a := &accum{desk: d}
	b.byID[d.ID] = a
	b.order = append(b.order, d.ID)
	return a
}

// Classify ranks roster desks for the task using rules, the category
// heuristic and, when configured, the LLM scorer. Scorer failures degrade to
// local results and are never returned.
func (c *Classifier) Classify(ctx context.Context, task Task, roster []desks.Desk, ruleSet []rules.RoutingRule) (Result, error) {
	if strings.TrimSpace(task.Title) == "" {
		return Result{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	cfg := c.Config.WithDefaults()
	start := c.now()
	res := Result{Suggestions: []Suggestion{}, MatchedRuleIDs: []string{}}
	if len(roster) == 0 {
		res.LatencyMs = c.now().Sub(start).Milliseconds()
		return res, nil
	}

	b := &board{byID: make(map[string]*accum, len(roster))}
	subject := rules.Subject{Text: taskText(task), Category: task.Category}
	if subject.Category == "" && task.IsCodeTask {
		subject.Category = "code"
	}

	// Rule pass.
	ordered := make([]rules.RoutingRule, 0, len(ruleSet))
	for _, r := range ruleSet {
		if r.IsActive && r.Condition != nil {
			ordered = append(ordered, r)
		}
	}
	rules.SortForEvaluation(ordered)
	rank := 0
	for _, r := range ordered {
		if !r.Condition.Matches(subject) {
			continue
		}
		targets := resolveTargets(r.Action, roster)
		if len(targets) == 0 {
			continue
		}
		floor := cfg.RuleFloor - float64(rank)*cfg.RuleFloorDecay
		if floor < cfg.RuleFloorMin {
			floor = cfg.RuleFloorMin
		}
		rank++
		res.MatchedRuleIDs = append(res.MatchedRuleIDs, r.ID)
		reason := describeRule(r)
		for _, d := range targets {
			a := b.get(d)
			a.offer(floor, reason)
			a.ruleIDs = append(a.ruleIDs, r.ID)
			if r.Action.DeskID != "" && r.Action.ModelID != "" && a.modelOverride == "" {
				a.modelOverride = r.Action.ModelID
			}
		}
	}

	// Category heuristic.
	category, hasCategory := inferCategory(task, cfg.Categories)
	if hasCategory {
		conf := cfg.CategoryConfidence * (0.5 + 0.5*category.Strength)
		reason := fmt.Sprintf("handles %s tasks", category.Category)
		if len(category.Triggers) > 0 {
			reason = fmt.Sprintf("handles %s tasks (matched %s)", category.Category, strings.Join(category.Triggers, ", "))
		}
		for _, d := range roster {
			if d.HasCategory(category.Category) {
				a := b.get(d)
				a.offer(conf, reason)
				a.category = category.Category
			}
		}
	}

	// LLM pass.
	if c.shouldScore(cfg, task, rank) {
		c.scoreWithLLM(ctx, cfg, task, category.Category, roster, b, &res)
	}

	// Pre-selected desk.
	if id := strings.TrimSpace(task.PreSelectedDeskID); id != "" {
		if d, ok := desks.Find(roster, id); ok {
			b.get(d).offer(cfg.PreselectedConfidence, "pre-selected by user")
		}
	}

	budget := cfg.DefaultBudget
	if task.IsCodeTask || category.Category == "code" {
		budget = cfg.CodeBudget
	}
	for _, id := range b.order {
		a := b.byID[id]
		conf := clamp01(a.confidence)
		if conf < cfg.MinConfidence {
			continue
		}
		modelID := a.desk.ModelID
		if a.modelOverride != "" {
			modelID = a.modelOverride
		}
		ruleIDs := a.ruleIDs
		if ruleIDs == nil {
			ruleIDs = []string{}
		}
		res.Suggestions = append(res.Suggestions, Suggestion{
			DeskID:           a.desk.ID,
			AgentName:        a.desk.AgentName,
			ModelID:          modelID,
			ModelName:        c.Pricing.ModelName(modelID),
			Confidence:       conf,
			Reasoning:        strings.Join(a.reasons, "; "),
			EstimatedCostUSD: c.Pricing.EstimateCost(modelID, budget),
			MatchedCategory:  a.category,
			MatchedRuleIDs:   ruleIDs,
		})
	}
	SortSuggestions(res.Suggestions)

	res.LatencyMs = c.now().Sub(start).Milliseconds()
	metrics.ObserveClassify(float64(res.LatencyMs), res.UsedLLM, len(res.MatchedRuleIDs))
	return res, nil
}

func (c *Classifier) shouldScore(cfg Config, task Task, matchedRules int) bool {
	if c.Scorer == nil || strings.TrimSpace(task.PreSelectedDeskID) != "" {
		return false
	}
	switch cfg.LLMMode {
	case LLMAlways:
		return true
	case LLMFallback:
		return matchedRules == 0
	default:
		return false
	}
}

func (c *Classifier) scoreWithLLM(ctx context.Context, cfg Config, task Task, category string, roster []desks.Desk, b *board, res *Result) {
	candidates := make([]llm.Candidate, 0, len(roster))
	for _, d := range roster {
		candidates = append(candidates, llm.Candidate{
			DeskID:      d.ID,
			AgentName:   d.AgentName,
			ModelID:     d.ModelID,
			Description: d.Description,
			Categories:  d.Categories,
		})
	}

	scoreCtx, cancel := context.WithTimeout(ctx, cfg.LLMTimeout)
	defer cancel()
	scored, err := c.Scorer.Score(scoreCtx, llm.ScoreRequest{
		Title:       task.Title,
		Description: task.Description,
		Category:    category,
		Candidates:  candidates,
	})
	if err != nil {
		metrics.IncClassifyDegraded()
		telemetry.Warn("classifier.llm_degraded", map[string]any{
			"model": scored.Model,
			"error": err.Error(),
		})
		return
	}

	res.UsedLLM = true
	res.ClassifierModel = scored.Model
	res.ClassifierCostUSD = scored.CostUSD
	for _, s := range scored.Scores {
		d, ok := desks.Find(roster, s.DeskID)
		if !ok {
			continue
		}
		reason := "llm: " + s.Reasoning
		if s.Reasoning == "" {
			reason = "llm score"
		}
		b.get(d).offer(clamp01(s.Confidence), reason)
	}
}

// resolveTargets maps a rule action onto roster desks.
func resolveTargets(action rules.Action, roster []desks.Desk) []desks.Desk {
	if action.DeskID != "" {
		if d, ok := desks.Find(roster, action.DeskID); ok {
			return []desks.Desk{d}
		}
		return nil
	}
	if action.ModelID == "" {
		return nil
	}
	var out []desks.Desk
	for _, d := range roster {
		if strings.EqualFold(d.ModelID, action.ModelID) {
			out = append(out, d)
		}
	}
	return out
}

func describeRule(r rules.RoutingRule) string {
	switch cond := r.Condition.(type) {
	case rules.KeywordMatch:
		return fmt.Sprintf("matched keyword rule (%s)", strings.Join(cond.Keywords, ", "))
	case rules.CategoryMatch:
		return fmt.Sprintf("matched category rule (%s)", cond.Category)
	default:
		return "matched rule " + r.ID
	}
}

// SortSuggestions orders by confidence desc, then estimated cost asc, then desk id.
func SortSuggestions(s []Suggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Confidence != s[j].Confidence {
			return s[i].Confidence > s[j].Confidence
		}
		if s[i].EstimatedCostUSD != s[j].EstimatedCostUSD {
			return s[i].EstimatedCostUSD < s[j].EstimatedCostUSD
		}
		return s[i].DeskID < s[j].DeskID
	})
}
