package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"routing-backend/internal/rules"
	"routing-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres. The single in-flight run per team
// is enforced by partial unique indexes.
type PGRepo struct {
	DB *sql.DB
}

const runColumns = `
SELECT id, team_id, run_type, period_start, period_end, status, analysis_model, analysis_cost_usd,
       findings, proposed_rules, tasks_analyzed, total_cost_analyzed, estimated_savings_usd,
       user_reviewed, reviewed_at, started_at, completed_at, created_at
FROM analysis_runs`

// StartOrGet implements Repo.
func (r *PGRepo) StartOrGet(ctx context.Context, run Run, dailyLimit int) (Run, bool, error) {
	existing, err := r.findReusable(ctx, run)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Run{}, false, err
	}
	if dailyLimit > 0 {
		// The in-flight unique index serializes creators per team, so the
		// count cannot be raced past the limit.
		var used int
		err := r.DB.QueryRowContext(ctx, `
SELECT COUNT(*) FROM analysis_runs
WHERE team_id = $1 AND created_at >= $2 AND status <> 'failed'`, run.TeamID, startOfUTCDay(run.CreatedAt)).Scan(&used)
		if err != nil {
			return Run{}, false, fmt.Errorf("count analysis runs: %w", err)
		}
		if used >= dailyLimit {
			return Run{}, false, ErrQuotaExceeded
		}
	}

	const insert = `
INSERT INTO analysis_runs (id, team_id, run_type, period_start, period_end, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	_, err = r.DB.ExecContext(ctx, insert,
		run.ID,
		run.TeamID,
		string(run.RunType),
		run.PeriodStart,
		run.PeriodEnd,
		string(StatusPending),
		run.CreatedAt,
	)
	if err == nil {
		run.Status = StatusPending
		return run, true, nil
	}
	if !db.IsUniqueViolation(err) {
		return Run{}, false, fmt.Errorf("insert analysis run: %w", err)
	}

	// Another instance won the race; return its run.
	existing, err = r.findReusable(ctx, run)
	if err != nil {
		return Run{}, false, fmt.Errorf("re-read analysis run after conflict: %w", err)
	}
	return existing, false, nil
}

func (r *PGRepo) findReusable(ctx context.Context, run Run) (Run, error) {
	query := runColumns + `
WHERE team_id = $1
  AND (status IN ('pending', 'running')
       OR (run_type = $2 AND period_start = $3 AND status <> 'failed'))
ORDER BY CASE WHEN status IN ('pending', 'running') THEN 0 ELSE 1 END, created_at DESC
LIMIT 1`
	found, err := scanRun(r.DB.QueryRowContext(ctx, query, run.TeamID, string(run.RunType), run.PeriodStart))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return found, err
}

// GetByID implements Repo.
func (r *PGRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	if !isUUID(runID) {
		return Run{}, ErrNotFound
	}
	run, err := scanRun(r.DB.QueryRowContext(ctx, runColumns+` WHERE id = $1`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

// GetForTeam implements Repo.
func (r *PGRepo) GetForTeam(ctx context.Context, teamID, runID string) (Run, error) {
	if !isUUID(runID) {
		return Run{}, ErrNotFound
	}
	run, err := scanRun(r.DB.QueryRowContext(ctx, runColumns+` WHERE id = $1 AND team_id = $2`, runID, teamID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return run, err
}

// ListByTeam implements Repo.
func (r *PGRepo) ListByTeam(ctx context.Context, teamID string, limit, offset int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, runColumns+`
WHERE team_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3`, teamID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// MarkRunning implements Repo.
func (r *PGRepo) MarkRunning(ctx context.Context, runID string, at time.Time) (bool, error) {
	if !isUUID(runID) {
		return false, nil
	}
	res, err := r.DB.ExecContext(ctx, `
UPDATE analysis_runs
SET status = 'running', started_at = $2, updated_at = $2
WHERE id = $1 AND status = 'pending'`, runID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Complete implements Repo.
func (r *PGRepo) Complete(ctx context.Context, run Run, pending []rules.RoutingRule) error {
	findings, err := json.Marshal(findingsOrEmpty(run.Findings))
	if err != nil {
		return err
	}
	proposed, err := json.Marshal(proposalsOrEmpty(run.ProposedRules))
	if err != nil {
		return err
	}
	completedAt := time.Now().UTC()
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}

	return db.InTx(ctx, r.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE analysis_runs
SET status = 'completed',
    analysis_model = $2,
    analysis_cost_usd = $3,
    findings = $4,
    proposed_rules = $5,
    tasks_analyzed = $6,
    total_cost_analyzed = $7,
    estimated_savings_usd = $8,
    completed_at = $9,
    updated_at = $9
WHERE id = $1 AND status = 'running'`,
			run.ID,
			nullString(run.AnalysisModel),
			run.AnalysisCostUSD,
			findings,
			proposed,
			run.TasksAnalyzed,
			run.TotalCostAnalyzed,
			run.EstimatedSavingsUSD,
			completedAt,
		)
		if err != nil {
			return fmt.Errorf("complete analysis run: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotRunning
		}
		for _, rule := range pending {
			if err := rules.InsertWith(ctx, tx, rule); err != nil {
				return fmt.Errorf("insert proposed rule: %w", err)
			}
		}
		return nil
	})
}

// Fail implements Repo. Terminal runs are left alone.
func (r *PGRepo) Fail(ctx context.Context, runID, diagnostic string, at time.Time) error {
	if !isUUID(runID) {
		return nil
	}
	payload, err := json.Marshal(Findings{Findings: []Finding{}, Error: diagnostic})
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
UPDATE analysis_runs
SET status = 'failed', findings = $2, proposed_rules = NULL, completed_at = $3, updated_at = $3
WHERE id = $1 AND status IN ('pending', 'running')`, runID, payload, at)
	return err
}

// MarkReviewed implements Repo.
func (r *PGRepo) MarkReviewed(ctx context.Context, teamID, runID string, at time.Time) (Run, error) {
	if !isUUID(runID) {
		return Run{}, ErrNotFound
	}
	if _, err := r.DB.ExecContext(ctx, `
UPDATE analysis_runs
SET user_reviewed = TRUE, reviewed_at = $3, updated_at = $3
WHERE id = $1 AND team_id = $2 AND NOT user_reviewed`, runID, teamID, at); err != nil {
		return Run{}, err
	}
	return r.GetForTeam(ctx, teamID, runID)
}

// FailStale implements Repo.
func (r *PGRepo) FailStale(ctx context.Context, cutoff time.Time, diagnostic string) (int, error) {
	payload, err := json.Marshal(Findings{Findings: []Finding{}, Error: diagnostic})
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx, `
UPDATE analysis_runs
SET status = 'failed', findings = $2, completed_at = now(), updated_at = now()
WHERE status IN ('pending', 'running') AND COALESCE(started_at, created_at) < $1`, cutoff, payload)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var runType, status string
	var model sql.NullString
	var findings, proposed []byte
	var reviewedAt, startedAt, completedAt sql.NullTime
	if err := row.Scan(
		&run.ID,
		&run.TeamID,
		&runType,
		&run.PeriodStart,
		&run.PeriodEnd,
		&status,
		&model,
		&run.AnalysisCostUSD,
		&findings,
		&proposed,
		&run.TasksAnalyzed,
		&run.TotalCostAnalyzed,
		&run.EstimatedSavingsUSD,
		&run.UserReviewed,
		&reviewedAt,
		&startedAt,
		&completedAt,
		&run.CreatedAt,
	); err != nil {
		return Run{}, err
	}
	run.RunType = RunType(runType)
	run.RelatedRuleIDs = []string{}
	run.Status = Status(status)
	run.AnalysisModel = model.String
	if len(findings) > 0 {
		var f Findings
		if err := json.Unmarshal(findings, &f); err != nil {
			return Run{}, fmt.Errorf("run %s findings: %w", run.ID, err)
		}
		run.Findings = &f
	}
	if len(proposed) > 0 {
		if err := json.Unmarshal(proposed, &run.ProposedRules); err != nil {
			return Run{}, fmt.Errorf("run %s proposed rules: %w", run.ID, err)
		}
	}
	run.ReviewedAt = timePtr(reviewedAt)
	run.StartedAt = timePtr(startedAt)
	run.CompletedAt = timePtr(completedAt)
	return run, nil
}

func findingsOrEmpty(f *Findings) Findings {
	if f == nil {
		return Findings{Findings: []Finding{}}
	}
	if f.Findings == nil {
		out := *f
		out.Findings = []Finding{}
		return out
	}
	return *f
}

func proposalsOrEmpty(p []ProposedRule) []ProposedRule {
	if p == nil {
		return []ProposedRule{}
	}
	return p
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repo = (*PGRepo)(nil)
