package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"routing-backend/internal/shared/auth"
)

// tokenCmd mints a bearer token for the API. It signs with JWT_SECRET and
// never touches the store.
func tokenCmd(s *session) *cobra.Command {
	var (
		subject string
		role    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator token for the routing API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := s.Team()
			if err != nil {
				return err
			}
			subject = strings.TrimSpace(subject)
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}
			claims := auth.NewClaims(subject, team, strings.TrimSpace(role), ttl)
			token, err := auth.SignJWT(claims)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if s.asJSON {
				return writeJSON(out, map[string]any{
					"token":     token,
					"team":      team,
					"subject":   subject,
					"expiresAt": claims.ExpiresAt.Time,
				})
			}
			fmt.Fprintln(out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject, usually the operator's email")
	cmd.Flags().StringVar(&role, "role", "", "Optional role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "Token lifetime")
	return cmd
}
