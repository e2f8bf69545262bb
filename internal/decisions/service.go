package decisions

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"routing-backend/internal/shared/metrics"
	"routing-backend/internal/shared/telemetry"
)

const (
	DefaultStatsDays = 30
	MaxStatsDays     = 365
	topDeskLimit     = 5
)

// Service records decisions and summarizes them.
type Service struct {
	Repo Repo
	Now  func() time.Time
}

// NewService constructs a Service.
func NewService(repo Repo) *Service {
	return &Service{Repo: repo}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Record validates and appends a decision. The returned decision carries its id and timestamp.
func (s *Service) Record(ctx context.Context, d Decision) (Decision, error) {
	d.TeamID = strings.TrimSpace(d.TeamID)
	d.TaskTitle = strings.TrimSpace(d.TaskTitle)
	d.Decision = Kind(strings.ToLower(strings.TrimSpace(string(d.Decision))))
	if err := d.validate(); err != nil {
		return Decision{}, err
	}
	d.ID = uuid.NewString()
	d.CreatedAt = s.now()
	d.MatchedRules = uniqueNonEmpty(d.MatchedRules)

	if err := s.Repo.Append(ctx, d); err != nil {
		telemetry.Error("decision.record.failed", map[string]any{
			"team_id": d.TeamID,
			"error":   err,
		})
		return Decision{}, err
	}
	metrics.IncDecision(string(d.Decision))
	telemetry.Info("decision.recorded", map[string]any{
		"team_id":       d.TeamID,
		"decision_id":   d.ID,
		"decision":      d.Decision,
		"matched_rules": len(d.MatchedRules),
	})
	return d, nil
}

// ListBetween returns the team's decisions in [from, to).
func (s *Service) ListBetween(ctx context.Context, teamID string, from, to time.Time) ([]Decision, error) {
	return s.Repo.ListBetween(ctx, teamID, from, to)
}

// Stats summarizes the last days UTC calendar days, today included.
func (s *Service) Stats(ctx context.Context, teamID string, days int) (Stats, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	if days > MaxStatsDays {
		days = MaxStatsDays
	}
	today := startOfDay(s.now())
	from := today.AddDate(0, 0, -(days - 1))
	to := today.AddDate(0, 0, 1)

	rows, err := s.Repo.ListBetween(ctx, teamID, from, to)
	if err != nil {
		return Stats{}, err
	}
	stats := Summarize(rows, from, days)
	stats.To = to
	return stats, nil
}

// Summarize aggregates decisions into Stats with one zero-filled bucket per day from from.
func Summarize(rows []Decision, from time.Time, days int) Stats {
	stats := Stats{
		WindowDays: days,
		From:       from,
		To:         from.AddDate(0, 0, days),
		ByDecision: map[Kind]int{
			KindAccepted: 0,
			KindRejected: 0,
			KindModified: 0,
			KindSkipped:  0,
		},
		TopDesks: make([]DeskStat, 0),
		Daily:    make([]DailyBucket, days),
	}
	index := make(map[string]int, days)
	for i := 0; i < days; i++ {
		date := from.AddDate(0, 0, i).Format("2006-01-02")
		stats.Daily[i] = DailyBucket{Date: date}
		index[date] = i
	}

	desks := make(map[string]*DeskStat)
	considered := 0
	succeeded := 0
	for _, d := range rows {
		stats.TotalDecisions++
		stats.ByDecision[d.Decision]++
		if d.Decision != KindSkipped {
			considered++
			if d.Decision.Succeeded() {
				succeeded++
			}
		}
		if d.UsedLLM() {
			stats.LLMUsageCount++
		}
		if d.ClassifierCostUSD != nil {
			stats.ClassifierCostUSD += *d.ClassifierCostUSD
		}
		if d.SuggestedDeskID != "" {
			ds, ok := desks[d.SuggestedDeskID]
			if !ok {
				ds = &DeskStat{DeskID: d.SuggestedDeskID}
				desks[d.SuggestedDeskID] = ds
			}
			ds.Suggested++
			if d.Decision == KindAccepted {
				ds.Accepted++
			}
		}
		if i, ok := index[d.CreatedAt.UTC().Format("2006-01-02")]; ok {
			stats.Daily[i].Total++
			if d.Decision.Succeeded() {
				stats.Daily[i].Accepted++
			}
			if d.UsedLLM() {
				stats.Daily[i].UsedLLM++
			}
		}
	}
	if considered > 0 {
		stats.AcceptanceRate = float64(succeeded) / float64(considered)
	}

	for _, ds := range desks {
		ds.AcceptanceRate = float64(ds.Accepted) / float64(ds.Suggested)
		stats.TopDesks = append(stats.TopDesks, *ds)
	}
	sort.Slice(stats.TopDesks, func(i, j int) bool {
		a, b := stats.TopDesks[i], stats.TopDesks[j]
		if a.Suggested != b.Suggested {
			return a.Suggested > b.Suggested
		}
		return a.DeskID < b.DeskID
	})
	if len(stats.TopDesks) > topDeskLimit {
		stats.TopDesks = stats.TopDesks[:topDeskLimit]
	}
	return stats
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func uniqueNonEmpty(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
