package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"routing-backend/internal/decisions"
)

func statsCmd(s *session) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize routing decisions over a trailing window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := s.Team()
			if err != nil {
				return err
			}
			app, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			st, err := app.Decisions.Stats(cmd.Context(), team, days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if s.asJSON {
				return writeJSON(out, st)
			}

			fmt.Fprintf(out, "Window:      %d day(s), %s..%s\n", st.WindowDays, st.From.Format("2006-01-02"), st.To.Format("2006-01-02"))
			fmt.Fprintf(out, "Decisions:   %d (%s accepted)\n", st.TotalDecisions, percent(st.AcceptanceRate))
			fmt.Fprintf(out, "LLM scoring: %d call(s), %s\n", st.LLMUsageCount, usd(st.ClassifierCostUSD))

			kinds := make([]string, 0, len(st.ByDecision))
			for k := range st.ByDecision {
				kinds = append(kinds, string(k))
			}
			sort.Strings(kinds)
			for _, k := range kinds {
				fmt.Fprintf(out, "  %-9s %d\n", k, st.ByDecision[decisions.Kind(k)])
			}

			if len(st.TopDesks) > 0 {
				fmt.Fprintln(out)
				w := newTable(out)
				fmt.Fprintln(w, "DESK\tSUGGESTED\tACCEPTED\tRATE")
				fmt.Fprintln(w, "----\t---------\t--------\t----")
				for _, d := range st.TopDesks {
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", d.DeskID, d.Suggested, d.Accepted, percent(d.AcceptanceRate))
				}
				return w.Flush()
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "Trailing window in days")
	return cmd
}
