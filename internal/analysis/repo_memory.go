package analysis

import (
	"context"
	"sort"
	"sync"
	"time"

	"routing-backend/internal/rules"
)

// MemoryRepo keeps runs in memory. Pending rules go to Rules under the run lock.
type MemoryRepo struct {
	mu    sync.Mutex
	runs  map[string]Run
	Rules RuleWriter
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo(ruleWriter RuleWriter) *MemoryRepo {
	return &MemoryRepo{runs: make(map[string]Run), Rules: ruleWriter}
}

// StartOrGet implements Repo.
func (r *MemoryRepo) StartOrGet(ctx context.Context, run Run, dailyLimit int) (Run, bool, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.runs {
		if existing.TeamID != run.TeamID {
			continue
		}
		if existing.Status.InFlight() {
			return cloneRun(existing), false, nil
		}
	}
	for _, existing := range r.runs {
		if existing.TeamID == run.TeamID && existing.RunType == run.RunType &&
			existing.PeriodStart.Equal(run.PeriodStart) && existing.Status != StatusFailed {
			return cloneRun(existing), false, nil
		}
	}
	if dailyLimit > 0 {
		dayStart := startOfUTCDay(run.CreatedAt)
		used := 0
		for _, existing := range r.runs {
			if existing.TeamID == run.TeamID && existing.Status != StatusFailed && !existing.CreatedAt.Before(dayStart) {
				used++
			}
		}
		if used >= dailyLimit {
			return Run{}, false, ErrQuotaExceeded
		}
	}
	r.runs[run.ID] = cloneRun(run)
	return cloneRun(run), true, nil
}

// GetByID implements Repo.
func (r *MemoryRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return cloneRun(run), nil
}

// GetForTeam implements Repo.
func (r *MemoryRepo) GetForTeam(ctx context.Context, teamID, runID string) (Run, error) {
	run, err := r.GetByID(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if run.TeamID != teamID {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// ListByTeam returns the team's runs, newest first.
func (r *MemoryRepo) ListByTeam(ctx context.Context, teamID string, limit, offset int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	out := make([]Run, 0)
	for _, run := range r.runs {
		if run.TeamID == teamID {
			out = append(out, cloneRun(run))
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if offset >= len(out) {
		return []Run{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// MarkRunning implements Repo.
func (r *MemoryRepo) MarkRunning(ctx context.Context, runID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return false, ErrNotFound
	}
	if run.Status != StatusPending {
		return false, nil
	}
	run.Status = StatusRunning
	run.StartedAt = &at
	r.runs[runID] = run
	return true, nil
}

// Complete implements Repo.
func (r *MemoryRepo) Complete(ctx context.Context, run Run, pending []rules.RoutingRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != StatusRunning {
		return ErrNotRunning
	}
	if len(pending) > 0 && r.Rules != nil {
		if err := r.Rules.CreateBatch(ctx, pending); err != nil {
			return err
		}
	}
	run.Status = StatusCompleted
	run.RelatedRuleIDs = nil
	r.runs[run.ID] = cloneRun(run)
	return nil
}

// Fail implements Repo. Terminal runs are left alone.
func (r *MemoryRepo) Fail(ctx context.Context, runID, diagnostic string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return ErrNotFound
	}
	if !run.Status.InFlight() {
		return nil
	}
	failLocked(&run, diagnostic, at)
	r.runs[runID] = run
	return nil
}

// MarkReviewed implements Repo.
func (r *MemoryRepo) MarkReviewed(ctx context.Context, teamID, runID string, at time.Time) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok || run.TeamID != teamID {
		return Run{}, ErrNotFound
	}
	if !run.UserReviewed {
		run.UserReviewed = true
		run.ReviewedAt = &at
		r.runs[runID] = run
	}
	return cloneRun(run), nil
}

// FailStale implements Repo.
func (r *MemoryRepo) FailStale(ctx context.Context, cutoff time.Time, diagnostic string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, run := range r.runs {
		if !run.Status.InFlight() {
			continue
		}
		started := run.CreatedAt
		if run.StartedAt != nil {
			started = *run.StartedAt
		}
		if !started.Before(cutoff) {
			continue
		}
		failLocked(&run, diagnostic, cutoff)
		r.runs[id] = run
		n++
	}
	return n, nil
}

func failLocked(run *Run, diagnostic string, at time.Time) {
	run.Status = StatusFailed
	run.CompletedAt = &at
	findings := Findings{Findings: []Finding{}}
	if run.Findings != nil {
		findings = *run.Findings
	}
	findings.Error = diagnostic
	run.Findings = &findings
	run.ProposedRules = nil
}

func cloneRun(run Run) Run {
	if run.Findings != nil {
		f := *run.Findings
		f.Findings = append([]Finding(nil), f.Findings...)
		run.Findings = &f
	}
	run.ProposedRules = append([]ProposedRule(nil), run.ProposedRules...)
	run.RelatedRuleIDs = append([]string{}, run.RelatedRuleIDs...)
	return run
}

var _ Repo = (*MemoryRepo)(nil)
