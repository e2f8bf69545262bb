package rules

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

const (
	testRuleID = "6f1c2a4e-0b7d-4c55-9a1e-3d2f8b7c1a01"
	testRunID  = "9b2e7c10-44d1-4f3a-8e6b-1c0d5a7f2b01"
	goneRuleID = "6f1c2a4e-0b7d-4c55-9a1e-3d2f8b7c1a99"
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

var ruleColumns = []string{
	"id", "team_id", "rule_type", "source", "condition", "action", "priority", "is_active",
	"hit_count", "success_count", "analysis_run_id", "created_at", "updated_at",
}

func TestPGRepoCreateEncodesTaggedCondition(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	rule := RoutingRule{
		ID:        testRuleID,
		TeamID:    "team-1",
		RuleType:  RuleTypeKeyword,
		Source:    SourceManual,
		Condition: KeywordMatch{Keywords: []string{"bug"}},
		Action:    PreferDesk("desk-code"),
		Priority:  3,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO routing_rules").
		WithArgs(
			rule.ID,
			rule.TeamID,
			rule.RuleType,
			rule.Source,
			[]byte(`{"type":"keyword_match","keywords":["bug"]}`),
			[]byte(`{"deskId":"desk-code"}`),
			rule.Priority,
			rule.IsActive,
			0,
			0,
			sqlmock.AnyArg(), // analysis_run_id
			now,
			now,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.Create(context.Background(), rule); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoListActiveUsesEvaluationOrder(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows(ruleColumns).
		AddRow("rule-2", "team-1", "category", "analysis", []byte(`{"type":"category_match","category":"design"}`),
			[]byte(`{"modelId":"claude-haiku"}`), 5, true, 4, 3, testRunID, now, now).
		AddRow(testRuleID, "team-1", "keyword", "manual", []byte(`{"type":"keyword_match","keywords":["bug"]}`),
			[]byte(`{"deskId":"desk-code"}`), 1, true, 0, 0, nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE team_id = $1 AND is_active ORDER BY priority DESC, created_at ASC, id ASC")).
		WithArgs("team-1").
		WillReturnRows(rows)

	list, err := repo.ListByTeam(context.Background(), "team-1", true)
	if err != nil {
		t.Fatalf("ListByTeam: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(list))
	}
	if _, ok := list[0].Condition.(CategoryMatch); !ok {
		t.Fatalf("expected category condition, got %#v", list[0].Condition)
	}
	if list[0].AnalysisRunID != testRunID || list[0].Action.ModelID != "claude-haiku" {
		t.Fatalf("unexpected first rule %+v", list[0])
	}
	if list[1].AnalysisRunID != "" {
		t.Fatalf("expected empty run id, got %q", list[1].AnalysisRunID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoIncrementHitIsSingleStatement(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("SET hit_count = hit_count + 1")).
		WithArgs(testRuleID, "team-1", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.IncrementHit(context.Background(), "team-1", testRuleID, true); err != nil {
		t.Fatalf("IncrementHit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoIncrementHitMissingRule(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("UPDATE routing_rules").
		WithArgs(goneRuleID, "team-1", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.IncrementHit(context.Background(), "team-1", goneRuleID, false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoDeletePendingOnlyTouchesInactiveProposals(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("source = 'analysis' AND NOT is_active")).
		WithArgs(testRuleID, "team-1", testRunID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.DeletePending(context.Background(), "team-1", testRunID, testRuleID)
	if err != nil {
		t.Fatalf("DeletePending: %v", err)
	}
	if deleted {
		t.Fatalf("expected no rows deleted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetByIDNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("FROM routing_rules").
		WithArgs(goneRuleID, "team-1").
		WillReturnRows(sqlmock.NewRows(ruleColumns))

	if _, err := repo.GetByID(context.Background(), "team-1", goneRuleID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoMalformedIDsAreNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "team-1", "rule-x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetByID: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.SetActive(ctx, "team-1", "rule-x", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetActive: expected ErrNotFound, got %v", err)
	}
	if deleted, err := repo.Delete(ctx, "team-1", "rule-x"); err != nil || deleted {
		t.Fatalf("Delete: expected nothing deleted, got %v %v", deleted, err)
	}
	if deleted, err := repo.DeletePending(ctx, "team-1", "run-x", testRuleID); err != nil || deleted {
		t.Fatalf("DeletePending: expected nothing deleted, got %v %v", deleted, err)
	}
	if err := repo.IncrementHit(ctx, "team-1", "rule-x", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("IncrementHit: expected ErrNotFound, got %v", err)
	}
	if list, err := repo.ListByRun(ctx, "team-1", "run-x"); err != nil || len(list) != 0 {
		t.Fatalf("ListByRun: expected empty, got %v %v", list, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("malformed ids must not reach the database: %v", err)
	}
}
