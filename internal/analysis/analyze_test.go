package analysis

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"routing-backend/internal/decisions"
	"routing-backend/internal/desks"
	"routing-backend/internal/pricing"
	"routing-backend/internal/rules"
)

var baseTime = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

func testRoster() []desks.Desk {
	return []desks.Desk{
		{ID: "desk-code", AgentName: "Builder", ModelID: "claude-sonnet-4-20250514", Categories: []string{"code"}},
		{ID: "desk-lite", AgentName: "Fixer", ModelID: "gpt-4o-mini", Categories: []string{"code"}},
		{ID: "desk-finance", AgentName: "Ledger", ModelID: "claude-3-5-haiku-latest", Categories: []string{"finance"}},
	}
}

type rowSpec struct {
	desk, model, title string
	kind               decisions.Kind
	finalDesk          string
	finalModel         string
	count              int
}

func buildRows(specs ...rowSpec) []decisions.Decision {
	var out []decisions.Decision
	i := 0
	for _, s := range specs {
		n := s.count
		if n == 0 {
			n = 1
		}
		for j := 0; j < n; j++ {
			title := s.title
			if title == "" {
				title = "task"
			}
			out = append(out, decisions.Decision{
				ID:               fmt.Sprintf("dec-%03d", i),
				TeamID:           "team-1",
				TaskTitle:        title,
				SuggestedDeskID:  s.desk,
				SuggestedModelID: s.model,
				Decision:         s.kind,
				FinalDeskID:      s.finalDesk,
				FinalModelID:     s.finalModel,
				CreatedAt:        baseTime.Add(time.Duration(i) * time.Minute),
			})
			i++
		}
	}
	return out
}

func findingOf(r Report, typ FindingType, desk string) (Finding, bool) {
	for _, f := range r.Findings {
		if f.Type == typ && f.DeskID == desk {
			return f, true
		}
	}
	return Finding{}, false
}

func TestAnalyzeFlagsUnderusedDesk(t *testing.T) {
	rows := buildRows(
		rowSpec{desk: "desk-finance", model: "claude-3-5-haiku-latest", kind: decisions.KindAccepted, count: 3},
		rowSpec{desk: "desk-finance", model: "claude-3-5-haiku-latest", kind: decisions.KindRejected, count: 17},
	)
	report := Analyze(rows, testRoster(), pricing.DefaultTable(), DefaultConfig())

	f, ok := findingOf(report, FindingUnderusedDesk, "desk-finance")
	if !ok {
		t.Fatalf("expected underused_desk finding, got %+v", report.Findings)
	}
	if f.SampleSize != 20 || f.Category != "finance" {
		t.Fatalf("unexpected finding %+v", f)
	}
	if report.TasksAnalyzed != 20 {
		t.Fatalf("expected 20 tasks analyzed, got %d", report.TasksAnalyzed)
	}
}

func TestAnalyzeFindsCheaperModel(t *testing.T) {
	rows := buildRows(
		rowSpec{desk: "desk-code", model: "claude-sonnet-4-20250514", kind: decisions.KindAccepted, count: 10},
		rowSpec{desk: "desk-lite", model: "gpt-4o-mini", kind: decisions.KindAccepted, count: 6},
	)
	report := Analyze(rows, testRoster(), pricing.DefaultTable(), DefaultConfig())

	f, ok := findingOf(report, FindingCostSaving, "desk-code")
	if !ok {
		t.Fatalf("expected cost_saving finding, got %+v", report.Findings)
	}
	if f.SuggestedModelID != "gpt-4o-mini" || f.Impact != ImpactMedium {
		t.Fatalf("unexpected finding %+v", f)
	}
	if math.Abs(f.EstimatedSavingsUSD-0.1722) > 1e-6 {
		t.Fatalf("expected savings 0.1722, got %v", f.EstimatedSavingsUSD)
	}
	if math.Abs(report.EstimatedSavingsUSD-f.EstimatedSavingsUSD) > 1e-9 {
		t.Fatalf("run savings must equal sum of findings, got %v", report.EstimatedSavingsUSD)
	}
	if math.Abs(report.TotalCostAnalyzed-0.18468) > 1e-6 {
		t.Fatalf("unexpected total cost %v", report.TotalCostAnalyzed)
	}

	if len(report.Proposals) != 1 {
		t.Fatalf("expected one proposal, got %+v", report.Proposals)
	}
	p := report.Proposals[0]
	if cond, ok := p.Condition.(rules.CategoryMatch); !ok || cond.Category != "code" {
		t.Fatalf("expected category condition, got %#v", p.Condition)
	}
	if p.Action != rules.PreferDeskAndModel("desk-code", "gpt-4o-mini") {
		t.Fatalf("unexpected action %+v", p.Action)
	}
	if p.RuleType != rules.RuleTypeCategory || p.Confidence != 6.0/16.0 {
		t.Fatalf("unexpected proposal %+v", p)
	}
}

func TestAnalyzeDetectsModelMismatch(t *testing.T) {
	rows := buildRows(
		rowSpec{desk: "desk-code", model: "claude-sonnet-4-20250514", kind: decisions.KindAccepted, count: 5},
		rowSpec{desk: "desk-code", model: "claude-sonnet-4-20250514", kind: decisions.KindModified, finalModel: "claude-3-5-haiku-latest", count: 5},
	)
	report := Analyze(rows, testRoster(), pricing.DefaultTable(), DefaultConfig())

	f, ok := findingOf(report, FindingModelMismatch, "desk-code")
	if !ok {
		t.Fatalf("expected model_mismatch finding, got %+v", report.Findings)
	}
	if f.SuggestedModelID != "claude-3-5-haiku-latest" || f.SampleSize != 5 {
		t.Fatalf("unexpected finding %+v", f)
	}
	if math.Abs(f.EstimatedSavingsUSD-0.066) > 1e-6 {
		t.Fatalf("expected savings 0.066, got %v", f.EstimatedSavingsUSD)
	}
	if _, dup := findingOf(report, FindingCostSaving, "desk-code"); dup {
		t.Fatalf("cost_saving must not duplicate a model_mismatch on the same desk")
	}
	if len(report.Proposals) != 1 || report.Proposals[0].Action.ModelID != "claude-3-5-haiku-latest" {
		t.Fatalf("unexpected proposals %+v", report.Proposals)
	}
}

func TestMismatchOnUncategorizedDeskStillProposesRule(t *testing.T) {
	roster := append(testRoster(), desks.Desk{ID: "desk-ops", AgentName: "Operator", ModelID: "claude-sonnet-4-20250514"})
	var rows []decisions.Decision
	for i, title := range []string{"Rotate certs", "Patch kernel", "Bump nginx", "Audit IAM", "Renew domain"} {
		rows = append(rows, decisions.Decision{
			ID: fmt.Sprintf("ops-%d", i), TeamID: "team-1", TaskTitle: title,
			SuggestedDeskID: "desk-ops", SuggestedModelID: "claude-sonnet-4-20250514",
			Decision: decisions.KindModified, FinalModelID: "gpt-4o-mini",
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		})
	}
	report := Analyze(rows, roster, pricing.DefaultTable(), DefaultConfig())

	f, ok := findingOf(report, FindingModelMismatch, "desk-ops")
	if !ok || f.Impact == ImpactLow {
		t.Fatalf("expected a model_mismatch above low impact, got %+v", report.Findings)
	}
	if len(report.Proposals) != 1 {
		t.Fatalf("expected exactly one proposal, got %+v", report.Proposals)
	}
	p := report.Proposals[0]
	kw, ok := p.Condition.(rules.KeywordMatch)
	if !ok || len(kw.Keywords) != 1 || kw.Keywords[0] != "audit" {
		t.Fatalf("expected a single keyword fallback condition, got %#v", p.Condition)
	}
	if p.Action.DeskID != "desk-ops" || p.Action.ModelID != "gpt-4o-mini" {
		t.Fatalf("unexpected action %+v", p.Action)
	}
}

func TestFallbackKeywordConditionPrefersLongWords(t *testing.T) {
	cond := fallbackKeywordCondition([]string{"Fix it", "Run db job"})
	kw, ok := cond.(rules.KeywordMatch)
	if !ok || len(kw.Keywords) != 1 || len(kw.Keywords[0]) < 2 {
		t.Fatalf("unexpected condition %#v", cond)
	}
	if fallbackKeywordCondition([]string{"!!!"}) != nil {
		t.Fatalf("expected nil without any word")
	}
}

func TestAnalyzeDetectsRedirectPattern(t *testing.T) {
	rows := []decisions.Decision{}
	for i, title := range []string{"Quarterly invoice export", "Invoice reconciliation", "invoice batch fix", "Monthly invoice report"} {
		rows = append(rows, decisions.Decision{
			ID: "r" + string(rune('a'+i)), TeamID: "team-1", TaskTitle: title,
			SuggestedDeskID: "desk-a", Decision: decisions.KindModified, FinalDeskID: "desk-b",
			CreatedAt: baseTime,
		})
	}
	rows = append(rows, decisions.Decision{ID: "r-e", TeamID: "team-1", TaskTitle: "Unrelated", SuggestedDeskID: "desk-a", Decision: decisions.KindAccepted, CreatedAt: baseTime})

	report := Analyze(rows, nil, pricing.DefaultTable(), DefaultConfig())
	f, ok := findingOf(report, FindingRoutingPattern, "desk-a")
	if !ok || f.TargetDeskID != "desk-b" || f.SampleSize != 4 {
		t.Fatalf("expected routing_pattern desk-a -> desk-b, got %+v", report.Findings)
	}
	if len(report.Proposals) != 1 {
		t.Fatalf("expected one proposal, got %+v", report.Proposals)
	}
	p := report.Proposals[0]
	kw, ok := p.Condition.(rules.KeywordMatch)
	if !ok || !reflect.DeepEqual(kw.Keywords, []string{"invoice"}) {
		t.Fatalf("expected keyword condition on invoice, got %#v", p.Condition)
	}
	if p.Action != rules.PreferDesk("desk-b") {
		t.Fatalf("unexpected action %+v", p.Action)
	}
}

func TestAnalyzeWithLittleHistory(t *testing.T) {
	rows := buildRows(rowSpec{desk: "desk-code", model: "claude-sonnet-4-20250514", kind: decisions.KindRejected, count: 3})
	report := Analyze(rows, testRoster(), pricing.DefaultTable(), DefaultConfig())
	if len(report.Findings) != 1 || report.Findings[0].Type != FindingGeneral {
		t.Fatalf("expected a single general finding, got %+v", report.Findings)
	}
	if len(report.Proposals) != 0 || report.EstimatedSavingsUSD != 0 {
		t.Fatalf("expected no proposals, got %+v", report.Proposals)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	rows := buildRows(
		rowSpec{desk: "desk-code", model: "claude-sonnet-4-20250514", kind: decisions.KindAccepted, count: 10},
		rowSpec{desk: "desk-lite", model: "gpt-4o-mini", kind: decisions.KindAccepted, count: 6},
		rowSpec{desk: "desk-finance", model: "claude-3-5-haiku-latest", kind: decisions.KindRejected, count: 12},
	)
	first := Analyze(rows, testRoster(), pricing.DefaultTable(), DefaultConfig())
	for i := 0; i < 5; i++ {
		if again := Analyze(rows, testRoster(), pricing.DefaultTable(), DefaultConfig()); !reflect.DeepEqual(first, again) {
			t.Fatalf("analysis is not deterministic:\n%+v\n%+v", first, again)
		}
	}
	for i := 1; i < len(first.Findings); i++ {
		if impactRank[first.Findings[i-1].Impact] > impactRank[first.Findings[i].Impact] {
			t.Fatalf("findings not ordered by impact: %+v", first.Findings)
		}
	}
}

func TestProposalConfidenceIsMonotonicAndCapped(t *testing.T) {
	cfg := DefaultConfig()
	prev := 0.0
	for n := 1; n <= 1000; n++ {
		c := cfg.ProposalConfidence(n)
		if c < prev {
			t.Fatalf("confidence decreased at n=%d: %v < %v", n, c, prev)
		}
		if c > cfg.MaxConfidence || c <= 0 {
			t.Fatalf("confidence out of bounds at n=%d: %v", n, c)
		}
		prev = c
	}
	if cfg.ProposalConfidence(10) != 0.5 {
		t.Fatalf("expected n/(n+10) = 0.5 at n=10, got %v", cfg.ProposalConfidence(10))
	}
}

func TestPeriodBoundaries(t *testing.T) {
	now := time.Date(2025, 3, 14, 23, 59, 0, 0, time.UTC)
	start, end := RunDaily.Period(now)
	if !start.Equal(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)) || !end.Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected daily period %s..%s", start, end)
	}
	start, end = RunWeekly.Period(now)
	if !start.Equal(time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)) || end.Sub(start) != 7*24*time.Hour {
		t.Fatalf("unexpected weekly period %s..%s", start, end)
	}
}
