package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	clock := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	svc := NewService(repo)
	svc.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, repo
}

func TestCreateAssignsNextPriority(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Create(ctx, "team-1", CreateInput{
		Condition: KeywordMatch{Keywords: []string{"bug"}},
		Action:    PreferDesk("desk-code"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := svc.Create(ctx, "team-1", CreateInput{
		Condition: CategoryMatch{Category: "design"},
		Action:    PreferDesk("desk-design"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Priority != 1 || second.Priority != 2 {
		t.Fatalf("expected priorities 1,2 got %d,%d", first.Priority, second.Priority)
	}
	if second.RuleType != RuleTypeCategory || second.Source != SourceManual || !second.IsActive {
		t.Fatalf("unexpected rule %+v", second)
	}

	list, err := svc.List(ctx, "team-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID {
		t.Fatalf("expected highest priority first, got %+v", list)
	}
}

func TestCreateRejectsInvalidRule(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Create(context.Background(), "team-1", CreateInput{
		Condition: KeywordMatch{Keywords: []string{"bug"}},
	})
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	_, err = svc.Create(context.Background(), "team-1", CreateInput{Action: PreferDesk("desk-1")})
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
}

func TestSortForEvaluationBreaksTies(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	list := []RoutingRule{
		{ID: "c", Priority: 5, CreatedAt: base.Add(time.Minute)},
		{ID: "b", Priority: 5, CreatedAt: base},
		{ID: "a", Priority: 5, CreatedAt: base},
		{ID: "z", Priority: 9, CreatedAt: base.Add(time.Hour)},
	}
	SortForEvaluation(list)
	got := []string{list[0].ID, list[1].ID, list[2].ID, list[3].ID}
	want := []string{"z", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRecordHitConcurrentIncrementsAreNotLost(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	rule, err := svc.Create(ctx, "team-1", CreateInput{
		Condition: KeywordMatch{Keywords: []string{"bug"}},
		Action:    PreferDesk("desk-code"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := svc.RecordHit(ctx, "team-1", rule.ID, i%2 == 0); err != nil {
				t.Errorf("RecordHit: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := repo.GetByID(ctx, "team-1", rule.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.HitCount != 50 || got.SuccessCount != 25 {
		t.Fatalf("expected 50 hits / 25 successes, got %d / %d", got.HitCount, got.SuccessCount)
	}
}

func seedPending(t *testing.T, svc *Service, repo *MemoryRepo, runID string) RoutingRule {
	t.Helper()
	ctx := context.Background()
	pending, err := svc.MaterializePending(ctx, "team-1", runID, []Proposal{{
		Condition: KeywordMatch{Keywords: []string{"typo"}},
		Action:    PreferModel("claude-haiku"),
	}})
	if err != nil {
		t.Fatalf("MaterializePending: %v", err)
	}
	if err := repo.CreateBatch(ctx, pending); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return pending[0]
}

func TestMaterializePendingCreatesInactiveAnalysisRules(t *testing.T) {
	svc, repo := newTestService()
	rule := seedPending(t, svc, repo, "run-1")
	if rule.IsActive || rule.Source != SourceAnalysis || rule.AnalysisRunID != "run-1" {
		t.Fatalf("unexpected pending rule %+v", rule)
	}
	active, err := svc.ListActive(context.Background(), "team-1")
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("pending rules must not be active, got %d", len(active))
	}
}

func TestApprovePendingIsIdempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	rule := seedPending(t, svc, repo, "run-1")

	for i := 0; i < 2; i++ {
		got, err := svc.ApprovePending(ctx, "team-1", "run-1", rule.ID)
		if err != nil {
			t.Fatalf("ApprovePending #%d: %v", i, err)
		}
		if !got.IsActive {
			t.Fatalf("expected active rule")
		}
	}
	outcome, err := svc.RejectPending(ctx, "team-1", "run-1", rule.ID)
	if err != nil {
		t.Fatalf("RejectPending after approve: %v", err)
	}
	if outcome != RejectApproved {
		t.Fatalf("expected approved outcome, got %q", outcome)
	}
	if _, err := repo.GetByID(ctx, "team-1", rule.ID); err != nil {
		t.Fatalf("approved rule must survive reject: %v", err)
	}
}

func TestRejectPendingDeletesAndIsIdempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	rule := seedPending(t, svc, repo, "run-1")

	want := []RejectOutcome{RejectDeleted, RejectAbsent}
	for i := 0; i < 2; i++ {
		outcome, err := svc.RejectPending(ctx, "team-1", "run-1", rule.ID)
		if err != nil {
			t.Fatalf("RejectPending #%d: %v", i, err)
		}
		if outcome != want[i] {
			t.Fatalf("RejectPending #%d: expected %q, got %q", i, want[i], outcome)
		}
	}
	if _, err := repo.GetByID(ctx, "team-1", rule.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rule deleted, got %v", err)
	}
}

func TestApprovePendingRejectsManualRulesAndOtherRuns(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	manual, err := svc.Create(ctx, "team-1", CreateInput{
		Condition: KeywordMatch{Keywords: []string{"bug"}},
		Action:    PreferDesk("desk-code"),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.ApprovePending(ctx, "team-1", "run-1", manual.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}

	pending := seedPending(t, svc, repo, "run-1")
	if _, err := svc.ApprovePending(ctx, "team-1", "run-2", pending.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other run, got %v", err)
	}
	if _, err := svc.ApprovePending(ctx, "team-2", "run-1", pending.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other team, got %v", err)
	}
}
