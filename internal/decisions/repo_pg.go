package decisions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"routing-backend/internal/rules"
	"routing-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Append inserts the decision and increments matched rule counters in one transaction.
func (r *PGRepo) Append(ctx context.Context, d Decision) error {
	const query = `
INSERT INTO routing_decisions (
	id, team_id, task_id, task_title, task_description, suggested_desk_id, suggested_model_id,
	confidence, reasoning, decision, final_desk_id, final_model_id, classifier_model,
	classifier_cost_usd, classifier_latency_ms, matched_rules, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	matched := d.MatchedRules
	if matched == nil {
		matched = []string{}
	}
	matchedJSON, err := json.Marshal(matched)
	if err != nil {
		return err
	}

	return db.InTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query,
			d.ID,
			d.TeamID,
			nullString(d.TaskID),
			d.TaskTitle,
			nullString(d.TaskDescription),
			nullString(d.SuggestedDeskID),
			nullString(d.SuggestedModelID),
			nullFloat(d.Confidence),
			nullString(d.Reasoning),
			string(d.Decision),
			nullString(d.FinalDeskID),
			nullString(d.FinalModelID),
			nullString(d.ClassifierModel),
			nullFloat(d.ClassifierCostUSD),
			nullInt(d.ClassifierLatencyMs),
			matchedJSON,
			d.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert decision: %w", err)
		}

		for _, ruleID := range d.MatchedRules {
			err := rules.IncrementHitWith(ctx, tx, d.TeamID, ruleID, d.Decision.Succeeded())
			if err != nil && !errors.Is(err, rules.ErrNotFound) {
				return fmt.Errorf("increment rule %s: %w", ruleID, err)
			}
		}
		return nil
	})
}

// ListBetween returns the team's decisions in [from, to), oldest first.
func (r *PGRepo) ListBetween(ctx context.Context, teamID string, from, to time.Time) ([]Decision, error) {
	const query = `
SELECT id, team_id, task_id, task_title, task_description, suggested_desk_id, suggested_model_id,
       confidence, reasoning, decision, final_desk_id, final_model_id, classifier_model,
       classifier_cost_usd, classifier_latency_ms, matched_rules, created_at
FROM routing_decisions
WHERE team_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, teamID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Decision, 0)
	for rows.Next() {
		var d Decision
		var taskID, description, suggestedDesk, suggestedModel sql.NullString
		var reasoning, finalDesk, finalModel, classifierModel sql.NullString
		var confidence, classifierCost sql.NullFloat64
		var latency sql.NullInt64
		var kind string
		var matched []byte
		if err := rows.Scan(
			&d.ID,
			&d.TeamID,
			&taskID,
			&d.TaskTitle,
			&description,
			&suggestedDesk,
			&suggestedModel,
			&confidence,
			&reasoning,
			&kind,
			&finalDesk,
			&finalModel,
			&classifierModel,
			&classifierCost,
			&latency,
			&matched,
			&d.CreatedAt,
		); err != nil {
			return nil, err
		}
		d.TaskID = taskID.String
		d.TaskDescription = description.String
		d.SuggestedDeskID = suggestedDesk.String
		d.SuggestedModelID = suggestedModel.String
		d.Reasoning = reasoning.String
		d.Decision = Kind(kind)
		d.FinalDeskID = finalDesk.String
		d.FinalModelID = finalModel.String
		d.ClassifierModel = classifierModel.String
		if confidence.Valid {
			v := confidence.Float64
			d.Confidence = &v
		}
		if classifierCost.Valid {
			v := classifierCost.Float64
			d.ClassifierCostUSD = &v
		}
		if latency.Valid {
			v := int(latency.Int64)
			d.ClassifierLatencyMs = &v
		}
		if len(matched) > 0 {
			if err := json.Unmarshal(matched, &d.MatchedRules); err != nil {
				return nil, fmt.Errorf("decision %s matched_rules: %w", d.ID, err)
			}
		}
		if d.MatchedRules == nil {
			d.MatchedRules = []string{}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

var _ Repo = (*PGRepo)(nil)
