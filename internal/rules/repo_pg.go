package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Execer is satisfied by *sql.DB and *sql.Tx so other repos can write rules
// inside their own transactions.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectColumns = `
SELECT id, team_id, rule_type, source, condition, action, priority, is_active,
       hit_count, success_count, analysis_run_id, created_at, updated_at
FROM routing_rules`

const evaluationOrder = ` ORDER BY priority DESC, created_at ASC, id ASC`

// Create inserts a rule.
func (r *PGRepo) Create(ctx context.Context, rule RoutingRule) error {
	return InsertWith(ctx, r.DB, rule)
}

// InsertWith inserts a rule using the given executor.
func InsertWith(ctx context.Context, ex Execer, rule RoutingRule) error {
	const query = `
INSERT INTO routing_rules (
	id, team_id, rule_type, source, condition, action, priority, is_active,
	hit_count, success_count, analysis_run_id, created_at, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	condition, err := MarshalCondition(rule.Condition)
	if err != nil {
		return err
	}
	action, err := json.Marshal(rule.Action)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, query,
		rule.ID,
		rule.TeamID,
		rule.RuleType,
		rule.Source,
		condition,
		action,
		rule.Priority,
		rule.IsActive,
		rule.HitCount,
		rule.SuccessCount,
		nullString(rule.AnalysisRunID),
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	return err
}

// GetByID returns a team's rule.
func (r *PGRepo) GetByID(ctx context.Context, teamID, ruleID string) (RoutingRule, error) {
	if !isUUID(ruleID) {
		return RoutingRule{}, ErrNotFound
	}
	rule, err := scanRule(r.DB.QueryRowContext(ctx, selectColumns+` WHERE id = $1 AND team_id = $2`, ruleID, teamID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RoutingRule{}, ErrNotFound
		}
		return RoutingRule{}, err
	}
	return rule, nil
}

// ListByTeam returns the team's rules in evaluation order.
func (r *PGRepo) ListByTeam(ctx context.Context, teamID string, activeOnly bool) ([]RoutingRule, error) {
	query := selectColumns + ` WHERE team_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	return listRules(ctx, r.DB, query+evaluationOrder, teamID)
}

// ListByRun returns rules proposed by an analysis run.
func (r *PGRepo) ListByRun(ctx context.Context, teamID, runID string) ([]RoutingRule, error) {
	if !isUUID(runID) {
		return []RoutingRule{}, nil
	}
	return listRules(ctx, r.DB, selectColumns+` WHERE team_id = $1 AND analysis_run_id = $2`+evaluationOrder, teamID, runID)
}

// MaxPriority returns the highest priority in use, or 0.
func (r *PGRepo) MaxPriority(ctx context.Context, teamID string) (int, error) {
	var max int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(priority), 0) FROM routing_rules WHERE team_id = $1`, teamID).Scan(&max)
	return max, err
}

// SetActive toggles a rule.
func (r *PGRepo) SetActive(ctx context.Context, teamID, ruleID string, active bool) (RoutingRule, error) {
	if !isUUID(ruleID) {
		return RoutingRule{}, ErrNotFound
	}
	const query = `
UPDATE routing_rules
SET is_active = $3, updated_at = now()
WHERE id = $1 AND team_id = $2
RETURNING id, team_id, rule_type, source, condition, action, priority, is_active,
          hit_count, success_count, analysis_run_id, created_at, updated_at`
	rule, err := scanRule(r.DB.QueryRowContext(ctx, query, ruleID, teamID, active))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RoutingRule{}, ErrNotFound
		}
		return RoutingRule{}, err
	}
	return rule, nil
}

// Delete removes a rule.
func (r *PGRepo) Delete(ctx context.Context, teamID, ruleID string) (bool, error) {
	if !isUUID(ruleID) {
		return false, nil
	}
	res, err := r.DB.ExecContext(ctx, `DELETE FROM routing_rules WHERE id = $1 AND team_id = $2`, ruleID, teamID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeletePending removes an analysis proposal only while it is still inactive.
func (r *PGRepo) DeletePending(ctx context.Context, teamID, runID, ruleID string) (bool, error) {
	if !isUUID(ruleID) || !isUUID(runID) {
		return false, nil
	}
	const query = `
DELETE FROM routing_rules
WHERE id = $1 AND team_id = $2 AND analysis_run_id = $3 AND source = 'analysis' AND NOT is_active`
	res, err := r.DB.ExecContext(ctx, query, ruleID, teamID, runID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// IncrementHit bumps the rule's counters in a single statement.
func (r *PGRepo) IncrementHit(ctx context.Context, teamID, ruleID string, succeeded bool) error {
	return IncrementHitWith(ctx, r.DB, teamID, ruleID, succeeded)
}

// IncrementHitWith bumps counters using the given executor. Ids that are not
// UUIDs cannot name a stored rule and report ErrNotFound.
func IncrementHitWith(ctx context.Context, ex Execer, teamID, ruleID string, succeeded bool) error {
	if !isUUID(ruleID) {
		return ErrNotFound
	}
	const query = `
UPDATE routing_rules
SET hit_count = hit_count + 1,
    success_count = success_count + CASE WHEN $3 THEN 1 ELSE 0 END,
    updated_at = now()
WHERE id = $1 AND team_id = $2`
	res, err := ex.ExecContext(ctx, query, ruleID, teamID, succeeded)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func listRules(ctx context.Context, q queryer, query string, args ...any) ([]RoutingRule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RoutingRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (RoutingRule, error) {
	var rule RoutingRule
	var condition []byte
	var action []byte
	var runID sql.NullString
	if err := row.Scan(
		&rule.ID,
		&rule.TeamID,
		&rule.RuleType,
		&rule.Source,
		&condition,
		&action,
		&rule.Priority,
		&rule.IsActive,
		&rule.HitCount,
		&rule.SuccessCount,
		&runID,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return RoutingRule{}, err
	}
	cond, err := UnmarshalCondition(condition)
	if err != nil {
		return RoutingRule{}, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	rule.Condition = cond
	if err := json.Unmarshal(action, &rule.Action); err != nil {
		return RoutingRule{}, fmt.Errorf("rule %s action: %w", rule.ID, err)
	}
	if runID.Valid {
		rule.AnalysisRunID = runID.String
	}
	return rule, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// isUUID reports whether id can be compared against a UUID column.
func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ Repo = (*PGRepo)(nil)
