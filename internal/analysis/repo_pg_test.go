package analysis

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"routing-backend/internal/rules"
)

var runColumnNames = []string{
	"id", "team_id", "run_type", "period_start", "period_end", "status", "analysis_model", "analysis_cost_usd",
	"findings", "proposed_rules", "tasks_analyzed", "total_cost_analyzed", "estimated_savings_usd",
	"user_reviewed", "reviewed_at", "started_at", "completed_at", "created_at",
}

const (
	testRunID  = "9b2e7c10-44d1-4f3a-8e6b-1c0d5a7f2b01"
	testRuleID = "6f1c2a4e-0b7d-4c55-9a1e-3d2f8b7c1a01"
)

func newMockRepo(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func sampleRun() Run {
	start, end := RunWeekly.Period(engineNow)
	return Run{
		ID:          testRunID,
		TeamID:      "team-1",
		RunType:     RunWeekly,
		PeriodStart: start,
		PeriodEnd:   end,
		Status:      StatusPending,
		CreatedAt:   engineNow,
	}
}

func pendingRow(run Run, id, status string) *sqlmock.Rows {
	return sqlmock.NewRows(runColumnNames).AddRow(
		id, run.TeamID, string(run.RunType), run.PeriodStart, run.PeriodEnd, status, nil, 0.0,
		nil, nil, 0, 0.0, 0.0,
		false, nil, nil, nil, run.CreatedAt,
	)
}

func TestPGRepoStartOrGetInsertsWhenNothingReusable(t *testing.T) {
	repo, mock := newMockRepo(t)
	run := sampleRun()

	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs")).
		WithArgs("team-1", "weekly", run.PeriodStart).
		WillReturnRows(sqlmock.NewRows(runColumnNames))
	mock.ExpectExec("INSERT INTO analysis_runs").
		WithArgs(testRunID, "team-1", "weekly", run.PeriodStart, run.PeriodEnd, "pending", run.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	got, created, err := repo.StartOrGet(context.Background(), run, 0)
	if err != nil {
		t.Fatalf("StartOrGet: %v", err)
	}
	if !created || got.ID != testRunID || got.Status != StatusPending {
		t.Fatalf("unexpected result %+v created=%v", got, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoStartOrGetReturnsWinnerOnConflict(t *testing.T) {
	repo, mock := newMockRepo(t)
	run := sampleRun()

	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs")).
		WillReturnRows(sqlmock.NewRows(runColumnNames))
	mock.ExpectExec("INSERT INTO analysis_runs").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "analysis_runs_one_in_flight"})
	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs")).
		WillReturnRows(pendingRow(run, "run-winner", "running"))

	got, created, err := repo.StartOrGet(context.Background(), run, 0)
	if err != nil {
		t.Fatalf("StartOrGet: %v", err)
	}
	if created || got.ID != "run-winner" || got.Status != StatusRunning {
		t.Fatalf("expected the concurrent winner, got %+v created=%v", got, created)
	}
	if len(got.RelatedRuleIDs) != 0 || got.RelatedRuleIDs == nil {
		t.Fatalf("expected empty related rule ids")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoStartOrGetSurfacesInsertErrors(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs")).
		WillReturnRows(sqlmock.NewRows(runColumnNames))
	mock.ExpectExec("INSERT INTO analysis_runs").
		WillReturnError(errors.New("disk full"))

	if _, _, err := repo.StartOrGet(context.Background(), sampleRun(), 0); err == nil {
		t.Fatalf("expected insert error")
	}
}

func TestPGRepoStartOrGetEnforcesDailyQuota(t *testing.T) {
	repo, mock := newMockRepo(t)
	run := sampleRun()

	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs")).
		WillReturnRows(sqlmock.NewRows(runColumnNames))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM analysis_runs")).
		WithArgs("team-1", startOfUTCDay(run.CreatedAt)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	if _, _, err := repo.StartOrGet(context.Background(), run, 2); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoStartOrGetReusesBeforeCountingQuota(t *testing.T) {
	repo, mock := newMockRepo(t)
	run := sampleRun()

	mock.ExpectQuery(regexp.QuoteMeta("FROM analysis_runs")).
		WillReturnRows(pendingRow(run, testRunID, "running"))

	got, created, err := repo.StartOrGet(context.Background(), run, 1)
	if err != nil {
		t.Fatalf("StartOrGet: %v", err)
	}
	if created || got.ID != testRunID {
		t.Fatalf("expected the in-flight run, got %+v created=%v", got, created)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoMarkRunningOnlyClaimsPending(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := engineNow

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'pending'")).
		WithArgs(testRunID, at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'pending'")).
		WithArgs(testRunID, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := repo.MarkRunning(context.Background(), testRunID, at)
	if err != nil || !first {
		t.Fatalf("expected first claim to succeed, got %v %v", first, err)
	}
	second, err := repo.MarkRunning(context.Background(), testRunID, at)
	if err != nil || second {
		t.Fatalf("expected second claim to be refused, got %v %v", second, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCompleteWritesRunAndRulesTogether(t *testing.T) {
	repo, mock := newMockRepo(t)
	run := sampleRun()
	run.Status = StatusRunning
	run.Findings = &Findings{Summary: "ok"}
	pending := []rules.RoutingRule{{
		ID:            testRuleID,
		TeamID:        "team-1",
		RuleType:      rules.RuleTypeFor(rules.CategoryMatch{Category: "code"}),
		Source:        rules.SourceAnalysis,
		Condition:     rules.CategoryMatch{Category: "code"},
		Action:        rules.PreferDeskAndModel("desk-code", "gpt-4o-mini"),
		Priority:      3,
		AnalysisRunID: testRunID,
		CreatedAt:     engineNow,
		UpdatedAt:     engineNow,
	}}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'running'")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO routing_rules").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Complete(context.Background(), run, pending); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoCompleteRefusesRunThatLeftRunning(t *testing.T) {
	repo, mock := newMockRepo(t)
	run := sampleRun()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'running'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Complete(context.Background(), run, []rules.RoutingRule{{ID: testRuleID}})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetForTeamDecodesFindings(t *testing.T) {
	repo, mock := newMockRepo(t)
	run := sampleRun()
	completed := engineNow.Add(time.Minute)
	rows := sqlmock.NewRows(runColumnNames).AddRow(
		run.ID, run.TeamID, "weekly", run.PeriodStart, run.PeriodEnd, "completed", "gpt-4o-mini", 0.0004,
		[]byte(`{"findings":[{"type":"cost_saving","title":"t","description":"d","impact":"medium","estimatedSavingsUsd":0.17,"deskId":"desk-code"}],"summary":"s"}`),
		[]byte(`[{"condition":{"type":"category_match","category":"code"},"action":{"deskId":"desk-code","modelId":"gpt-4o-mini"},"ruleType":"category_match","reasoning":"cheaper","confidence":0.375,"estimatedImpact":"medium"}]`),
		16, 0.18468, 0.1722,
		true, completed, engineNow, completed, run.CreatedAt,
	)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND team_id = $2")).
		WithArgs(testRunID, "team-1").
		WillReturnRows(rows)

	got, err := repo.GetForTeam(context.Background(), "team-1", testRunID)
	if err != nil {
		t.Fatalf("GetForTeam: %v", err)
	}
	if got.Findings == nil || len(got.Findings.Findings) != 1 || got.Findings.Findings[0].DeskID != "desk-code" {
		t.Fatalf("unexpected findings %+v", got.Findings)
	}
	if len(got.ProposedRules) != 1 {
		t.Fatalf("expected one proposed rule, got %+v", got.ProposedRules)
	}
	if cond, ok := got.ProposedRules[0].Condition.(rules.CategoryMatch); !ok || cond.Category != "code" {
		t.Fatalf("unexpected condition %#v", got.ProposedRules[0].Condition)
	}
	if got.AnalysisModel != "gpt-4o-mini" || !got.UserReviewed || got.CompletedAt == nil || got.StartedAt == nil {
		t.Fatalf("unexpected run %+v", got)
	}
}

func TestPGRepoGetForTeamNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND team_id = $2")).
		WillReturnRows(sqlmock.NewRows(runColumnNames))

	if _, err := repo.GetForTeam(context.Background(), "team-2", testRunID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoMalformedRunIDIsNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	if _, err := repo.GetForTeam(ctx, "team-1", "run-x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetForTeam: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetByID(ctx, "run-x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.MarkReviewed(ctx, "team-1", "run-x", engineNow); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkReviewed: expected ErrNotFound, got %v", err)
	}
	if claimed, err := repo.MarkRunning(ctx, "run-x", engineNow); err != nil || claimed {
		t.Fatalf("MarkRunning: expected no claim, got %v %v", claimed, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("malformed ids must not reach the database: %v", err)
	}
}

func TestPGRepoFailStaleCountsRows(t *testing.T) {
	repo, mock := newMockRepo(t)
	cutoff := engineNow.Add(-time.Hour)
	mock.ExpectExec(regexp.QuoteMeta("COALESCE(started_at, created_at) < $1")).
		WithArgs(cutoff, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.FailStale(context.Background(), cutoff, "abandoned")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 reaped runs, got %d %v", n, err)
	}
}
