// Package cli implements routerctl, the operator CLI for routing rules,
// decisions and analysis runs.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"routing-backend/internal/bootstrap"
	"routing-backend/internal/shared/config"
)

// BuildFunc wires the application the commands operate on.
type BuildFunc func(ctx context.Context) (*bootstrap.App, error)

// DefaultBuild loads configuration from the environment and connects to the
// configured database without the HTTP router.
func DefaultBuild(ctx context.Context) (*bootstrap.App, error) {
	return bootstrap.Build(ctx, config.Load(), bootstrap.Options{WithQueue: true})
}

type session struct {
	build  BuildFunc
	app    *bootstrap.App
	team   string
	asJSON bool
}

func (s *session) App(ctx context.Context) (*bootstrap.App, error) {
	if s.app != nil {
		return s.app, nil
	}
	app, err := s.build(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	s.app = app
	return app, nil
}

func (s *session) Team() (string, error) {
	team := strings.TrimSpace(s.team)
	if team == "" {
		return "", fmt.Errorf("team is required (--team or ROUTER_TEAM_ID)")
	}
	return team, nil
}

func (s *session) close() {
	if s.app != nil {
		_ = s.app.Close()
	}
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCmd builds the routerctl command tree.
func NewRootCmd(build BuildFunc) *cobra.Command {
	s := &session{build: build}

	root := &cobra.Command{
		Use:           "routerctl",
		Short:         "routerctl - inspect and tune task routing",
		Long:          "routerctl classifies tasks, manages routing rules, and runs routing analyses against the configured store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			s.close()
		},
	}
	root.PersistentFlags().StringVar(&s.team, "team", os.Getenv("ROUTER_TEAM_ID"), "Team id to act as")
	root.PersistentFlags().BoolVar(&s.asJSON, "json", false, "Print JSON instead of tables")

	root.AddCommand(classifyCmd(s))
	root.AddCommand(rulesCmd(s))
	root.AddCommand(analysisCmd(s))
	root.AddCommand(statsCmd(s))
	root.AddCommand(migrateCmd(s))
	root.AddCommand(tokenCmd(s))
	return root
}
