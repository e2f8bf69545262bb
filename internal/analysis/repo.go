package analysis

import (
	"context"
	"time"

	"routing-backend/internal/decisions"
	"routing-backend/internal/rules"
)

// Repo persists analysis runs.
type Repo interface {
	// StartOrGet returns the team's in-flight run, or a non-failed run for the
	// same period, or inserts run as pending. created reports which happened.
	// With dailyLimit > 0 the insert is refused with ErrQuotaExceeded once the
	// team has that many non-failed runs created on run.CreatedAt's UTC day.
	StartOrGet(ctx context.Context, run Run, dailyLimit int) (Run, bool, error)
	GetByID(ctx context.Context, runID string) (Run, error)
	GetForTeam(ctx context.Context, teamID, runID string) (Run, error)
	ListByTeam(ctx context.Context, teamID string, limit, offset int) ([]Run, error)
	// MarkRunning moves a pending run to running and reports whether it did.
	MarkRunning(ctx context.Context, runID string, at time.Time) (bool, error)
	// Complete stores the final report and the pending rules atomically. It
	// returns ErrNotRunning when the run has left the running state.
	Complete(ctx context.Context, run Run, pending []rules.RoutingRule) error
	Fail(ctx context.Context, runID, diagnostic string, at time.Time) error
	MarkReviewed(ctx context.Context, teamID, runID string, at time.Time) (Run, error)
	// FailStale fails runs still in flight that started before cutoff.
	FailStale(ctx context.Context, cutoff time.Time, diagnostic string) (int, error)
}

// RuleWriter stores a batch of rules. rules.MemoryRepo satisfies it.
type RuleWriter interface {
	CreateBatch(ctx context.Context, batch []rules.RoutingRule) error
}

// Ledger reads decisions for the analysis window.
type Ledger interface {
	ListBetween(ctx context.Context, teamID string, from, to time.Time) ([]decisions.Decision, error)
}
