package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"routing-backend/internal/desks"
	"routing-backend/internal/llm"
	"routing-backend/internal/pricing"
	"routing-backend/internal/queue"
	"routing-backend/internal/rules"
	"routing-backend/internal/shared/metrics"
	"routing-backend/internal/shared/telemetry"
	"routing-backend/internal/shared/util"
)

const (
	failWriteTimeout = 5 * time.Second
	waitPollInterval = 100 * time.Millisecond
)

// Engine runs analyses. Queue and Summarizer are optional.
type Engine struct {
	Config     Config
	Repo       Repo
	Ledger     Ledger
	Rules      *rules.Service
	Desks      desks.Registry
	Pricing    pricing.Table
	Summarizer llm.Summarizer
	Queue      queue.Client
	// RunsPerDay caps new runs per team per UTC day; 0 means unlimited.
	RunsPerDay int
	Now        func() time.Time

	background sync.WaitGroup
}

// NewEngine constructs an Engine with default thresholds applied.
func NewEngine(cfg Config, repo Repo, ledger Ledger, ruleSvc *rules.Service, registry desks.Registry, table pricing.Table) *Engine {
	return &Engine{
		Config:  cfg.WithDefaults(),
		Repo:    repo,
		Ledger:  ledger,
		Rules:   ruleSvc,
		Desks:   registry,
		Pricing: table,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Trigger starts a run, or returns the run already holding the team's slot
// or covering the same period, and executes new runs in the background.
func (e *Engine) Trigger(ctx context.Context, teamID string, runType RunType) (Run, error) {
	run, created, err := e.start(ctx, teamID, runType)
	if err != nil || !created {
		return run, err
	}
	e.dispatch(ctx, run)
	return run, nil
}

// Run starts or reuses a run and waits for it to finish.
func (e *Engine) Run(ctx context.Context, teamID string, runType RunType) (Run, error) {
	run, _, err := e.start(ctx, teamID, runType)
	if err != nil {
		return Run{}, err
	}
	if run.Status == StatusPending {
		if err := e.execute(ctx, run.ID); err != nil && !isRunFailure(err) {
			return Run{}, err
		}
	}
	return e.waitTerminal(ctx, teamID, run.ID)
}

// ProcessRun executes a pending run by id. Runs that already left pending are
// skipped so queue redeliveries are harmless. A run that ends failed is not an
// error here since the failure is recorded on the run.
func (e *Engine) ProcessRun(ctx context.Context, runID string) error {
	run, err := e.Repo.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != StatusPending {
		telemetry.Info("analysis.process.skipped", map[string]any{
			"run_id":  runID,
			"team_id": run.TeamID,
			"status":  run.Status,
		})
		return nil
	}
	if err := e.execute(ctx, runID); err != nil && !isRunFailure(err) {
		return err
	}
	return nil
}

// Wait blocks until background runs started by Trigger have finished.
func (e *Engine) Wait() {
	e.background.Wait()
}

// Get returns a team's run with the ids of its surviving proposed rules.
func (e *Engine) Get(ctx context.Context, teamID, runID string) (Run, error) {
	run, err := e.Repo.GetForTeam(ctx, teamID, runID)
	if err != nil {
		return Run{}, err
	}
	return e.withRelatedRules(ctx, run)
}

// List returns a team's runs, newest first.
func (e *Engine) List(ctx context.Context, teamID string, limit, offset int) ([]Run, error) {
	return e.Repo.ListByTeam(ctx, teamID, limit, offset)
}

// ApproveRule activates a rule proposed by the run and marks the run reviewed.
func (e *Engine) ApproveRule(ctx context.Context, teamID, runID, ruleID string) (rules.RoutingRule, error) {
	if _, err := e.Repo.GetForTeam(ctx, teamID, runID); err != nil {
		return rules.RoutingRule{}, err
	}
	rule, err := e.Rules.ApprovePending(ctx, teamID, runID, ruleID)
	if err != nil {
		return rules.RoutingRule{}, err
	}
	e.markReviewed(ctx, teamID, runID)
	return rule, nil
}

// RejectRule deletes a rule proposed by the run and marks the run reviewed.
// The outcome tells a real rejection from a no-op on an approved or missing rule.
func (e *Engine) RejectRule(ctx context.Context, teamID, runID, ruleID string) (rules.RejectOutcome, error) {
	if _, err := e.Repo.GetForTeam(ctx, teamID, runID); err != nil {
		return "", err
	}
	outcome, err := e.Rules.RejectPending(ctx, teamID, runID, ruleID)
	if err != nil {
		return "", err
	}
	e.markReviewed(ctx, teamID, runID)
	return outcome, nil
}

// MarkReviewed flags the run as seen by a user. Repeat calls are no-ops.
func (e *Engine) MarkReviewed(ctx context.Context, teamID, runID string) (Run, error) {
	run, err := e.Repo.MarkReviewed(ctx, teamID, runID, e.now())
	if err != nil {
		return Run{}, err
	}
	return e.withRelatedRules(ctx, run)
}

// ReapStale fails runs that have been in flight longer than the deadline
// allows, which only happens when the executing process died.
func (e *Engine) ReapStale(ctx context.Context) (int, error) {
	cutoff := e.now().Add(-(e.Config.Timeout + e.Config.StaleAfter))
	n, err := e.Repo.FailStale(ctx, cutoff, "analysis abandoned: exceeded its deadline without completing")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.AddAnalysisFailed(n)
		telemetry.Warn("analysis.reaped", map[string]any{"count": n, "cutoff": cutoff})
	}
	return n, nil
}

func (e *Engine) markReviewed(ctx context.Context, teamID, runID string) {
	if _, err := e.Repo.MarkReviewed(ctx, teamID, runID, e.now()); err != nil {
		telemetry.Warn("analysis.review.mark_failed", map[string]any{
			"team_id": teamID,
			"run_id":  runID,
			"error":   err,
		})
	}
}

func (e *Engine) withRelatedRules(ctx context.Context, run Run) (Run, error) {
	related, err := e.Rules.ListByRun(ctx, run.TeamID, run.ID)
	if err != nil {
		return Run{}, err
	}
	run.RelatedRuleIDs = make([]string, 0, len(related))
	for _, rule := range related {
		run.RelatedRuleIDs = append(run.RelatedRuleIDs, rule.ID)
	}
	return run, nil
}

func (e *Engine) start(ctx context.Context, teamID string, runType RunType) (Run, bool, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return Run{}, false, fmt.Errorf("%w: team id is required", ErrInvalidInput)
	}
	if runType != RunDaily && runType != RunWeekly {
		return Run{}, false, fmt.Errorf("%w: unknown run type %q", ErrInvalidInput, runType)
	}
	if _, err := e.ReapStale(ctx); err != nil {
		telemetry.Warn("analysis.reap_failed", map[string]any{"team_id": teamID, "error": err})
	}

	now := e.now()
	periodStart, periodEnd := runType.Period(now)
	run, created, err := e.Repo.StartOrGet(ctx, Run{
		ID:             uuid.NewString(),
		TeamID:         teamID,
		RunType:        runType,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		Status:         StatusPending,
		RelatedRuleIDs: []string{},
		CreatedAt:      now,
	}, e.RunsPerDay)
	if errors.Is(err, ErrQuotaExceeded) {
		telemetry.Warn("analysis.quota_exceeded", map[string]any{
			"team_id":    teamID,
			"limit":      e.RunsPerDay,
			"request_id": requestIDFromContext(ctx),
		})
		return Run{}, false, &QuotaError{
			Limit:      e.RunsPerDay,
			RetryAfter: startOfUTCDay(now).AddDate(0, 0, 1).Sub(now),
		}
	}
	if err != nil {
		return Run{}, false, err
	}
	fields := map[string]any{
		"team_id":    teamID,
		"run_id":     run.ID,
		"run_type":   run.RunType,
		"status":     run.Status,
		"request_id": requestIDFromContext(ctx),
	}
	if created {
		metrics.IncAnalysisStarted()
		telemetry.Info("analysis.created", fields)
	} else {
		metrics.IncAnalysisReused()
		telemetry.Info("analysis.reused", fields)
	}
	if run.RelatedRuleIDs == nil {
		run.RelatedRuleIDs = []string{}
	}
	return run, created, nil
}

func (e *Engine) dispatch(ctx context.Context, run Run) {
	if e.Queue != nil {
		err := e.Queue.Send(ctx, queue.NewRunMessage(run.ID, run.TeamID, requestIDFromContext(ctx), e.now()))
		if err == nil {
			telemetry.Info("analysis.enqueued", map[string]any{"team_id": run.TeamID, "run_id": run.ID})
			return
		}
		telemetry.Warn("analysis.enqueue_failed", map[string]any{
			"team_id": run.TeamID,
			"run_id":  run.ID,
			"error":   err,
		})
	}

	bg := detach(ctx)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if err := e.execute(bg, run.ID); err != nil && !isRunFailure(err) {
			telemetry.Error("analysis.execute.error", map[string]any{
				"team_id": run.TeamID,
				"run_id":  run.ID,
				"error":   err,
			})
		}
	}()
}

// runFailure wraps errors that were already recorded on the run as failed.
type runFailure struct{ err error }

func (f runFailure) Error() string { return f.err.Error() }
func (f runFailure) Unwrap() error { return f.err }

func isRunFailure(err error) bool {
	var rf runFailure
	return errors.As(err, &rf)
}

// execute claims a pending run and takes it to a terminal state.
func (e *Engine) execute(ctx context.Context, runID string) (err error) {
	started := e.now()
	claimed, err := e.Repo.MarkRunning(ctx, runID, started)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	run, err := e.Repo.GetByID(ctx, runID)
	if err != nil {
		e.fail(ctx, runID, "", err, started)
		return runFailure{err}
	}

	defer func() {
		if p := recover(); p != nil {
			perr := fmt.Errorf("analysis panicked: %v", p)
			e.fail(ctx, run.ID, run.TeamID, perr, started)
			err = runFailure{perr}
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.Config.Timeout)
	defer cancel()

	telemetry.Info("analysis.running", map[string]any{
		"team_id":    run.TeamID,
		"run_id":     run.ID,
		"request_id": requestIDFromContext(ctx),
		"period":     run.PeriodStart.Format("2006-01-02") + ".." + run.PeriodEnd.Format("2006-01-02"),
	})

	if err := e.analyze(runCtx, &run); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("analysis timed out after %s: %w", e.Config.Timeout, err)
		}
		e.fail(ctx, run.ID, run.TeamID, err, started)
		return runFailure{err}
	}

	elapsed := float64(e.now().Sub(started).Milliseconds())
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDurationMs(elapsed)
	telemetry.Info("analysis.completed", map[string]any{
		"team_id":           run.TeamID,
		"run_id":            run.ID,
		"tasks_analyzed":    run.TasksAnalyzed,
		"findings":          len(run.Findings.Findings),
		"proposed_rules":    len(run.ProposedRules),
		"estimated_savings": run.EstimatedSavingsUSD,
		"duration_ms":       elapsed,
	})
	return nil
}

func (e *Engine) analyze(ctx context.Context, run *Run) error {
	rows, err := e.Ledger.ListBetween(ctx, run.TeamID, run.PeriodStart, run.PeriodEnd)
	if err != nil {
		return fmt.Errorf("load decisions: %w", err)
	}

	var roster []desks.Desk
	if e.Desks != nil {
		roster, err = e.Desks.Roster(ctx, run.TeamID)
		if err != nil {
			telemetry.Warn("analysis.roster_unavailable", map[string]any{
				"team_id": run.TeamID,
				"run_id":  run.ID,
				"error":   err,
			})
			roster = nil
		}
	}

	report := Analyze(rows, roster, e.Pricing, e.Config)
	findings := &Findings{Findings: report.Findings, Summary: localSummary(report)}
	if e.Summarizer != nil && len(rows) > 0 {
		summary, err := e.Summarizer.Summarize(ctx, llm.SummaryRequest{
			RunType:       string(run.RunType),
			TasksAnalyzed: report.TasksAnalyzed,
			TotalCostUSD:  report.TotalCostAnalyzed,
			Facts:         summaryFacts(report.Findings),
		})
		run.AnalysisCostUSD += summary.CostUSD
		if err != nil {
			findings.Error = "summary unavailable: " + util.SanitizeDiagnostic(err)
			telemetry.Warn("analysis.summary_failed", map[string]any{
				"team_id": run.TeamID,
				"run_id":  run.ID,
				"error":   err,
			})
		} else {
			findings.Summary = summary.Text
			run.AnalysisModel = summary.Model
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	proposals := make([]rules.Proposal, len(report.Proposals))
	for i, p := range report.Proposals {
		proposals[i] = rules.Proposal{Condition: p.Condition, Action: p.Action}
	}
	pending, err := e.Rules.MaterializePending(ctx, run.TeamID, run.ID, proposals)
	if err != nil {
		return fmt.Errorf("materialize proposals: %w", err)
	}

	completedAt := e.now()
	run.Findings = findings
	run.ProposedRules = report.Proposals
	run.TasksAnalyzed = report.TasksAnalyzed
	run.TotalCostAnalyzed = report.TotalCostAnalyzed
	run.EstimatedSavingsUSD = report.EstimatedSavingsUSD
	run.CompletedAt = &completedAt
	if err := e.Repo.Complete(ctx, *run, pending); err != nil {
		return fmt.Errorf("persist analysis: %w", err)
	}
	run.Status = StatusCompleted
	run.RelatedRuleIDs = make([]string, len(pending))
	for i, rule := range pending {
		run.RelatedRuleIDs[i] = rule.ID
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, runID, teamID string, cause error, started time.Time) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failWriteTimeout)
	defer cancel()

	diagnostic := util.SanitizeDiagnostic(cause)
	if err := e.Repo.Fail(writeCtx, runID, diagnostic, e.now()); err != nil {
		telemetry.Error("analysis.fail.persist_failed", map[string]any{
			"team_id": teamID,
			"run_id":  runID,
			"error":   err,
			"cause":   diagnostic,
		})
	}
	metrics.IncAnalysisFailed()
	metrics.ObserveAnalysisDurationMs(float64(e.now().Sub(started).Milliseconds()))
	telemetry.Error("analysis.failed", map[string]any{
		"team_id": teamID,
		"run_id":  runID,
		"error":   diagnostic,
	})
}

func (e *Engine) waitTerminal(ctx context.Context, teamID, runID string) (Run, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		run, err := e.Get(ctx, teamID, runID)
		if err != nil {
			return Run{}, err
		}
		if run.Terminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}

func summaryFacts(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, fmt.Sprintf("[%s/%s] %s: %s", f.Type, f.Impact, f.Title, f.Description))
	}
	return out
}

func localSummary(r Report) string {
	if r.TasksAnalyzed == 0 {
		return "No routing decisions were recorded in this period."
	}
	return fmt.Sprintf("Analyzed %d tasks costing about $%.2f; %d findings, %d proposed rules, estimated savings $%.2f.",
		r.TasksAnalyzed, r.TotalCostAnalyzed, len(r.Findings), len(r.Proposals), r.EstimatedSavingsUSD)
}
