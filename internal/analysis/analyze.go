package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"routing-backend/internal/decisions"
	"routing-backend/internal/desks"
	"routing-backend/internal/pricing"
	"routing-backend/internal/rules"
)

// Report is the outcome of analyzing one window of decisions.
type Report struct {
	Findings            []Finding
	Proposals           []ProposedRule
	TasksAnalyzed       int
	TotalCostAnalyzed   float64
	EstimatedSavingsUSD float64
}

type deskGroup struct {
	id         string
	model      string
	category   string
	rows       []decisions.Decision
	considered int
	accepted   int
	succeeded  int
}

func (g *deskGroup) acceptance() float64 {
	if g.considered == 0 {
		return 0
	}
	return float64(g.accepted) / float64(g.considered)
}

func (g *deskGroup) successRate() float64 {
	if g.considered == 0 {
		return 0
	}
	return float64(g.succeeded) / float64(g.considered)
}

type modelPerf struct {
	trials    int
	successes int
}

func (p modelPerf) rate() float64 {
	if p.trials == 0 {
		return 0
	}
	return float64(p.successes) / float64(p.trials)
}

// Analyze runs the rule-based heuristics over a window of decisions. It is
// deterministic for a given input.
func Analyze(rows []decisions.Decision, roster []desks.Desk, table pricing.Table, cfg Config) Report {
	cfg = cfg.WithDefaults()
	report := Report{TasksAnalyzed: len(rows), Findings: make([]Finding, 0)}

	considered := 0
	for _, d := range rows {
		if d.Decision != decisions.KindSkipped {
			considered++
		}
		if model := d.EffectiveModelID(); model != "" {
			report.TotalCostAnalyzed += table.EstimateCost(model, cfg.TaskBudget)
		}
		if d.ClassifierCostUSD != nil {
			report.TotalCostAnalyzed += *d.ClassifierCostUSD
		}
	}

	if considered < cfg.MinDecisions {
		report.Findings = append(report.Findings, Finding{
			Type:        FindingGeneral,
			Title:       "Not enough routing history",
			Description: fmt.Sprintf("%d decisions in this period; at least %d are needed before routing can be evaluated.", considered, cfg.MinDecisions),
			Impact:      ImpactLow,
			SampleSize:  considered,
		})
		return report
	}

	groups := groupByDesk(rows, roster)
	perf := modelPerformance(rows)

	for _, g := range groups {
		if f, ok := underusedDesk(g, cfg); ok {
			report.Findings = append(report.Findings, f)
		}
		mismatch, hasMismatch := modelMismatch(g, table, cfg)
		if hasMismatch {
			report.Findings = append(report.Findings, mismatch)
		} else if f, ok := costSaving(g, perf, table, cfg); ok {
			report.Findings = append(report.Findings, f)
		}
	}
	report.Findings = append(report.Findings, routingPatterns(rows, groups, cfg)...)

	if len(report.Findings) == 0 {
		report.Findings = append(report.Findings, Finding{
			Type:        FindingGeneral,
			Title:       "Routing looks healthy",
			Description: fmt.Sprintf("No desk fell below the acceptance threshold across %d decisions.", considered),
			Impact:      ImpactLow,
			SampleSize:  considered,
		})
	}
	sortFindings(report.Findings)

	for _, f := range report.Findings {
		report.EstimatedSavingsUSD += f.EstimatedSavingsUSD
	}
	report.Proposals = proposals(report.Findings, groups, rows, cfg)
	return report
}

func groupByDesk(rows []decisions.Decision, roster []desks.Desk) []*deskGroup {
	byID := make(map[string]*deskGroup)
	modelVotes := make(map[string]map[string]int)
	for _, d := range rows {
		if d.SuggestedDeskID == "" {
			continue
		}
		g, ok := byID[d.SuggestedDeskID]
		if !ok {
			g = &deskGroup{id: d.SuggestedDeskID}
			if desk, found := desks.Find(roster, d.SuggestedDeskID); found {
				g.model = desk.ModelID
				g.category = desk.PrimaryCategory()
			}
			byID[d.SuggestedDeskID] = g
			modelVotes[d.SuggestedDeskID] = make(map[string]int)
		}
		g.rows = append(g.rows, d)
		if d.SuggestedModelID != "" {
			modelVotes[d.SuggestedDeskID][d.SuggestedModelID]++
		}
		if d.Decision == decisions.KindSkipped {
			continue
		}
		g.considered++
		if d.Decision == decisions.KindAccepted {
			g.accepted++
		}
		if d.Decision.Succeeded() {
			g.succeeded++
		}
	}

	out := make([]*deskGroup, 0, len(byID))
	for id, g := range byID {
		if g.model == "" {
			g.model = topKey(modelVotes[id])
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// modelPerformance counts, per model, how often a suggestion on that model
// was kept, plus explicit switches to it.
func modelPerformance(rows []decisions.Decision) map[string]modelPerf {
	out := make(map[string]modelPerf)
	for _, d := range rows {
		if d.Decision == decisions.KindSkipped {
			continue
		}
		if d.SuggestedModelID != "" {
			p := out[d.SuggestedModelID]
			p.trials++
			if d.Decision.Succeeded() && (d.FinalModelID == "" || strings.EqualFold(d.FinalModelID, d.SuggestedModelID)) {
				p.successes++
			}
			out[d.SuggestedModelID] = p
		}
		if d.FinalModelID != "" && !strings.EqualFold(d.FinalModelID, d.SuggestedModelID) {
			p := out[d.FinalModelID]
			p.trials++
			p.successes++
			out[d.FinalModelID] = p
		}
	}
	return out
}

func underusedDesk(g *deskGroup, cfg Config) (Finding, bool) {
	if len(g.rows) < cfg.MinSuggestions || g.considered == 0 {
		return Finding{}, false
	}
	rate := g.acceptance()
	if rate >= cfg.UnderusedAcceptance {
		return Finding{}, false
	}
	impact := ImpactMedium
	if rate < cfg.UnderusedAcceptance/2 {
		impact = ImpactHigh
	}
	return Finding{
		Type:  FindingUnderusedDesk,
		Title: fmt.Sprintf("Suggestions for %s are rarely accepted", g.id),
		Description: fmt.Sprintf("%s was suggested %d times and accepted %d times (%.0f%% acceptance).",
			g.id, len(g.rows), g.accepted, rate*100),
		Impact:     impact,
		DeskID:     g.id,
		Category:   g.category,
		ModelID:    g.model,
		SampleSize: len(g.rows),
	}, true
}

func modelMismatch(g *deskGroup, table pricing.Table, cfg Config) (Finding, bool) {
	if g.considered == 0 {
		return Finding{}, false
	}
	switched := make(map[string]int)
	for _, d := range g.rows {
		if d.Decision != decisions.KindModified || d.FinalModelID == "" {
			continue
		}
		if strings.EqualFold(d.FinalModelID, g.model) {
			continue
		}
		switched[d.FinalModelID]++
	}
	target := topKey(switched)
	if target == "" {
		return Finding{}, false
	}
	count := switched[target]
	share := float64(count) / float64(g.considered)
	if count < cfg.MinRedirects || share < cfg.MismatchShare {
		return Finding{}, false
	}

	impact := ImpactMedium
	if share >= math.Min(1, cfg.MismatchShare+0.2) {
		impact = ImpactHigh
	}
	savings := 0.0
	if g.model != "" {
		diff := table.EstimateCost(g.model, cfg.TaskBudget) - table.EstimateCost(target, cfg.TaskBudget)
		if diff > 0 {
			savings = roundUSD(diff * float64(executedOn(g, g.model)))
		}
	}
	return Finding{
		Type:  FindingModelMismatch,
		Title: fmt.Sprintf("Users keep switching %s to %s", g.id, target),
		Description: fmt.Sprintf("%d of %d decisions for %s changed the model from %s to %s.",
			count, g.considered, g.id, displayModel(g.model), target),
		Impact:              impact,
		EstimatedSavingsUSD: savings,
		DeskID:              g.id,
		Category:            g.category,
		ModelID:             g.model,
		SuggestedModelID:    target,
		SampleSize:          count,
	}, true
}

func costSaving(g *deskGroup, perf map[string]modelPerf, table pricing.Table, cfg Config) (Finding, bool) {
	if g.model == "" || g.considered == 0 {
		return Finding{}, false
	}
	tasks := executedOn(g, g.model)
	if tasks == 0 {
		return Finding{}, false
	}
	minTrials := cfg.MinSuggestions / 2
	if minTrials < 1 {
		minTrials = 1
	}
	floor := g.successRate() - cfg.SavingsTolerance
	baseCost := table.EstimateCost(g.model, cfg.TaskBudget)

	for _, alt := range table.CheaperThan(g.model, cfg.TaskBudget) {
		p := perf[alt.ModelID]
		if p.trials < minTrials || p.rate() < floor {
			continue
		}
		savings := roundUSD((baseCost - alt.CostUSD) * float64(tasks))
		return Finding{
			Type:  FindingCostSaving,
			Title: fmt.Sprintf("%s could run on %s", g.id, table.ModelName(alt.ModelID)),
			Description: fmt.Sprintf("%s performed at %.0f%% acceptance over %d decisions against %.0f%% for %s; moving %d tasks saves about $%.2f.",
				alt.ModelID, p.rate()*100, p.trials, g.successRate()*100, displayModel(g.model), tasks, savings),
			Impact:              impactForSavings(savings, cfg),
			EstimatedSavingsUSD: savings,
			DeskID:              g.id,
			Category:            g.category,
			ModelID:             g.model,
			SuggestedModelID:    alt.ModelID,
			SampleSize:          p.trials,
		}, true
	}
	return Finding{}, false
}

func routingPatterns(rows []decisions.Decision, groups []*deskGroup, cfg Config) []Finding {
	type pair struct{ from, to string }
	counts := make(map[pair]int)
	for _, d := range rows {
		if d.SuggestedDeskID == "" || d.FinalDeskID == "" || d.FinalDeskID == d.SuggestedDeskID {
			continue
		}
		if d.Decision != decisions.KindModified && d.Decision != decisions.KindRejected {
			continue
		}
		counts[pair{d.SuggestedDeskID, d.FinalDeskID}]++
	}

	category := make(map[string]string, len(groups))
	for _, g := range groups {
		category[g.id] = g.category
	}

	out := make([]Finding, 0)
	for p, n := range counts {
		if n < cfg.MinRedirects {
			continue
		}
		impact := ImpactMedium
		if n >= 3*cfg.MinRedirects {
			impact = ImpactHigh
		}
		out = append(out, Finding{
			Type:         FindingRoutingPattern,
			Title:        fmt.Sprintf("Tasks suggested for %s are moved to %s", p.from, p.to),
			Description:  fmt.Sprintf("Users redirected %d suggestions from %s to %s.", n, p.from, p.to),
			Impact:       impact,
			DeskID:       p.from,
			TargetDeskID: p.to,
			Category:     category[p.from],
			SampleSize:   n,
		})
	}
	return out
}

func proposals(findings []Finding, groups []*deskGroup, rows []decisions.Decision, cfg Config) []ProposedRule {
	byID := make(map[string]*deskGroup, len(groups))
	for _, g := range groups {
		byID[g.id] = g
	}

	out := make([]ProposedRule, 0)
	seen := make(map[string]struct{})
	for _, f := range findings {
		if f.Impact == ImpactLow {
			continue
		}
		var action rules.Action
		var cond rules.Condition
		switch f.Type {
		case FindingCostSaving, FindingModelMismatch:
			if f.DeskID == "" || f.SuggestedModelID == "" {
				continue
			}
			action = rules.PreferDeskAndModel(f.DeskID, f.SuggestedModelID)
			if f.Category != "" {
				cond = rules.CategoryMatch{Category: f.Category}
				break
			}
			var deskTitles []string
			if g := byID[f.DeskID]; g != nil {
				deskTitles = titles(g.rows, nil)
			} else {
				deskTitles = titles(rows, func(d decisions.Decision) bool { return d.SuggestedDeskID == f.DeskID })
			}
			cond = keywordCondition(deskTitles, cfg.KeywordCount)
			if cond == nil {
				cond = fallbackKeywordCondition(deskTitles)
			}
		case FindingRoutingPattern:
			action = rules.PreferDesk(f.TargetDeskID)
			cond = keywordCondition(titles(rows, func(d decisions.Decision) bool {
				return d.SuggestedDeskID == f.DeskID && d.FinalDeskID == f.TargetDeskID
			}), cfg.KeywordCount)
		default:
			continue
		}
		if cond == nil {
			continue
		}

		key := proposalKey(cond, action)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ProposedRule{
			RuleType:        rules.RuleTypeFor(cond),
			Condition:       cond,
			Action:          action,
			Reasoning:       f.Title + ". " + f.Description,
			Confidence:      cfg.ProposalConfidence(f.SampleSize),
			EstimatedImpact: f.Impact,
		})
	}
	return out
}

func proposalKey(cond rules.Condition, action rules.Action) string {
	c, _ := rules.MarshalCondition(cond)
	a, _ := json.Marshal(action)
	return string(c) + "|" + string(a)
}

func titles(rows []decisions.Decision, keep func(decisions.Decision) bool) []string {
	out := make([]string, 0, len(rows))
	for _, d := range rows {
		if keep == nil || keep(d) {
			out = append(out, d.TaskTitle)
		}
	}
	return out
}

var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "also": {}, "from": {}, "have": {}, "into": {},
	"just": {}, "make": {}, "more": {}, "need": {}, "please": {}, "some": {}, "task": {},
	"that": {}, "their": {}, "them": {}, "then": {}, "there": {}, "these": {}, "this": {},
	"update": {}, "when": {}, "with": {}, "your": {},
}

// keywordCondition picks the most frequent title words that occur in at
// least two titles.
func keywordCondition(texts []string, limit int) rules.Condition {
	counts := make(map[string]int)
	for _, text := range texts {
		seen := make(map[string]struct{})
		for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if len(word) < 4 {
				continue
			}
			if _, stop := stopwords[word]; stop {
				continue
			}
			if _, dup := seen[word]; dup {
				continue
			}
			seen[word] = struct{}{}
			counts[word]++
		}
	}
	type wc struct {
		word  string
		count int
	}
	ranked := make([]wc, 0, len(counts))
	for w, c := range counts {
		if c >= 2 {
			ranked = append(ranked, wc{w, c})
		}
	}
	if len(ranked) == 0 {
		return nil
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	keywords := make([]string, len(ranked))
	for i, r := range ranked {
		keywords[i] = r.word
	}
	return rules.KeywordMatch{Keywords: keywords}
}

// fallbackKeywordCondition picks the most frequent title word when no word is
// shared by two titles. Short words are used only when nothing longer exists.
func fallbackKeywordCondition(texts []string) rules.Condition {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			counts[word]++
		}
	}
	best := ""
	better := func(word string) bool {
		if best == "" {
			return true
		}
		_, stop := stopwords[word]
		_, bestStop := stopwords[best]
		if stop != bestStop {
			return !stop
		}
		if long, bestLong := len(word) >= 4, len(best) >= 4; long != bestLong {
			return long
		}
		if counts[word] != counts[best] {
			return counts[word] > counts[best]
		}
		return word < best
	}
	for word := range counts {
		if better(word) {
			best = word
		}
	}
	if best == "" {
		return nil
	}
	return rules.KeywordMatch{Keywords: []string{best}}
}

func executedOn(g *deskGroup, model string) int {
	n := 0
	for _, d := range g.rows {
		if strings.EqualFold(d.EffectiveModelID(), model) {
			n++
		}
	}
	return n
}

var impactRank = map[Impact]int{ImpactHigh: 0, ImpactMedium: 1, ImpactLow: 2}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if impactRank[a.Impact] != impactRank[b.Impact] {
			return impactRank[a.Impact] < impactRank[b.Impact]
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.DeskID != b.DeskID {
			return a.DeskID < b.DeskID
		}
		return a.TargetDeskID < b.TargetDeskID
	})
}

func impactForSavings(savings float64, cfg Config) Impact {
	switch {
	case savings >= cfg.HighImpactSavings:
		return ImpactHigh
	case savings >= cfg.MediumImpactSavings:
		return ImpactMedium
	default:
		return ImpactLow
	}
}

func topKey(counts map[string]int) string {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

func displayModel(model string) string {
	if model == "" {
		return "its model"
	}
	return model
}

func roundUSD(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
