package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"routing-backend/internal/shared/storage/db"
)

func migrateCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(migrateStep(s, "up", "Apply pending migrations", db.RunMigrations))
	cmd.AddCommand(migrateStep(s, "down", "Roll back the latest migration", db.RollbackMigration))
	cmd.AddCommand(migrateStep(s, "status", "Print migration status", db.MigrationStatus))
	return cmd
}

func migrateStep(s *session, use, short string, step func(context.Context, *sql.DB) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			if app.DB == nil {
				return fmt.Errorf("migrate %s: DATABASE_URL is not configured", use)
			}
			if err := step(cmd.Context(), app.DB); err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			version, err := db.SchemaVersion(cmd.Context(), app.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema version %d\n", color.New(color.FgGreen).Sprint("OK"), version)
			return nil
		},
	}
}
