package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"routing-backend/internal/analysis"
)

func analysisCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analysis",
		Short: "Run and inspect routing analyses",
	}
	cmd.AddCommand(analysisRunCmd(s))
	cmd.AddCommand(analysisListCmd(s))
	cmd.AddCommand(analysisShowCmd(s))
	return cmd
}

func analysisRunCmd(s *session) *cobra.Command {
	var runType string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Analyze recent decisions and wait for the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := s.Team()
			if err != nil {
				return err
			}
			rt, err := analysis.ParseRunType(runType)
			if err != nil {
				return err
			}
			app, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			run, err := app.Analysis.Run(cmd.Context(), team, rt)
			if err != nil {
				return err
			}
			if s.asJSON {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			return printRun(cmd.OutOrStdout(), run)
		},
	}
	cmd.Flags().StringVar(&runType, "type", string(analysis.RunWeekly), "Run type: daily or weekly")
	return cmd
}

func analysisListCmd(s *session) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the team's analysis runs",
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
			runs, err := app.Analysis.List(cmd.Context(), team, limit, offset)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if s.asJSON {
				if runs == nil {
					runs = []analysis.Run{}
				}
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No analysis runs.")
				return nil
			}
			w := newTable(out)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tPERIOD\tTASKS\tSAVINGS\tREVIEWED")
			fmt.Fprintln(w, "--\t----\t------\t------\t-----\t-------\t--------")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%t\n",
					r.ID, r.RunType, statusLabel(r.Status), period(r),
					r.TasksAnalyzed, usd(r.EstimatedSavingsUSD), r.UserReviewed)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Runs to skip")
	return cmd
}

func analysisShowCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's findings and proposed rules",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := s.Team()
			if err != nil {
				return err
			}
			app, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			run, err := app.Analysis.Get(cmd.Context(), team, args[0])
			if err != nil {
				return err
			}
			if s.asJSON {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			return printRun(cmd.OutOrStdout(), run)
		},
	}
}

func period(r analysis.Run) string {
	return r.PeriodStart.Format("2006-01-02") + ".." + r.PeriodEnd.Format("2006-01-02")
}

func printRun(out io.Writer, run analysis.Run) error {
	fmt.Fprintf(out, "Run %s (%s) %s\n", run.ID, run.RunType, statusLabel(run.Status))
	fmt.Fprintf(out, "Period:   %s\n", period(run))
	fmt.Fprintf(out, "Tasks:    %d analyzed, %s spent, %s estimated savings\n",
		run.TasksAnalyzed, usd(run.TotalCostAnalyzed), usd(run.EstimatedSavingsUSD))
	if run.AnalysisModel != "" {
		fmt.Fprintf(out, "Model:    %s (%s)\n", run.AnalysisModel, usd(run.AnalysisCostUSD))
	}
	if run.Findings == nil {
		return nil
	}
	if run.Findings.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", run.Findings.Error)
	}
	if run.Findings.Summary != "" {
		fmt.Fprintf(out, "\n%s\n", run.Findings.Summary)
	}

	if len(run.Findings.Findings) > 0 {
		fmt.Fprintln(out, "\nFindings:")
		w := newTable(out)
		fmt.Fprintln(w, "IMPACT\tTYPE\tTITLE\tSAVINGS")
		fmt.Fprintln(w, "------\t----\t-----\t-------")
		for _, f := range run.Findings.Findings {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", impactLabel(f.Impact), f.Type, f.Title, usd(f.EstimatedSavingsUSD))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(run.ProposedRules) > 0 {
		fmt.Fprintln(out, "\nProposed rules:")
		w := newTable(out)
		fmt.Fprintln(w, "CONDITION\tACTION\tCONFIDENCE\tIMPACT")
		fmt.Fprintln(w, "---------\t------\t----------\t------")
		for _, p := range run.ProposedRules {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				describeCondition(p.Condition), describeAction(p.Action), percent(p.Confidence), impactLabel(p.EstimatedImpact))
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
	if len(run.RelatedRuleIDs) > 0 {
		fmt.Fprintf(out, "\nRules awaiting review: %s\n", strings.Join(run.RelatedRuleIDs, ", "))
	}
	return nil
}
