package decisions

import (
	"context"
	"time"
)

// Repo persists ledger rows. Append must bump the counters of every matched
// rule in the same unit of work as the insert.
type Repo interface {
	Append(ctx context.Context, d Decision) error
	ListBetween(ctx context.Context, teamID string, from, to time.Time) ([]Decision, error)
}

// HitRecorder bumps rule counters. rules.Repo satisfies it.
type HitRecorder interface {
	IncrementHit(ctx context.Context, teamID, ruleID string, succeeded bool) error
}
