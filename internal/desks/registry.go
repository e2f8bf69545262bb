// Package desks provides the desk roster each team routes tasks to.
package desks

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrInvalidDesk is returned when a desk is missing required fields.
var ErrInvalidDesk = errors.New("invalid desk")

// Registry resolves the desk roster of a team.
type Registry interface {
	Roster(ctx context.Context, teamID string) ([]Desk, error)
}

// StaticRegistry serves rosters from configuration. Teams without an explicit
// roster get the default roster. It is safe for concurrent use.
type StaticRegistry struct {
	mu       sync.RWMutex
	fallback []Desk
	teams    map[string][]Desk
}

// NewStaticRegistry constructs a registry from configuration.
func NewStaticRegistry(cfg Config) (*StaticRegistry, error) {
	r := &StaticRegistry{teams: make(map[string][]Desk)}
	if err := validateAll(cfg.Default); err != nil {
		return nil, err
	}
	r.fallback = cloneDesks(cfg.Default)
	for team, roster := range cfg.Teams {
		if err := validateAll(roster); err != nil {
			return nil, err
		}
		r.teams[strings.TrimSpace(team)] = cloneDesks(roster)
	}
	return r, nil
}

// Roster returns a copy of the team roster.
func (r *StaticRegistry) Roster(ctx context.Context, teamID string) ([]Desk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if roster, ok := r.teams[teamID]; ok {
		return cloneDesks(roster), nil
	}
	return cloneDesks(r.fallback), nil
}

// SetRoster replaces the roster of a team.
func (r *StaticRegistry) SetRoster(teamID string, roster []Desk) error {
	if err := validateAll(roster); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teams[teamID] = cloneDesks(roster)
	return nil
}

// Find returns the desk with the given id from a roster.
func Find(roster []Desk, deskID string) (Desk, bool) {
	for _, d := range roster {
		if d.ID == deskID {
			return d, true
		}
	}
	return Desk{}, false
}

func validateAll(roster []Desk) error {
	seen := make(map[string]struct{}, len(roster))
	for _, d := range roster {
		if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.ModelID) == "" {
			return ErrInvalidDesk
		}
		if _, dup := seen[d.ID]; dup {
			return ErrInvalidDesk
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}

func cloneDesks(in []Desk) []Desk {
	out := make([]Desk, len(in))
	for i, d := range in {
		d.Categories = append([]string(nil), d.Categories...)
		out[i] = d
	}
	return out
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
