package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"routing-backend/internal/classifier"
)

func classifyCmd(s *session) *cobra.Command {
	var task classifier.Task

	cmd := &cobra.Command{
		Use:   "classify <title>",
		Short: "Rank desks for a draft task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := s.Team()
			if err != nil {
				return err
			}
			app, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			task.Title = strings.Join(args, " ")
			res, err := app.Classifier.ClassifyForTeam(cmd.Context(), team, task, nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if s.asJSON {
				return writeJSON(out, res)
			}

			w := newTable(out)
			fmt.Fprintln(w, "RANK\tDESK\tMODEL\tCONFIDENCE\tEST. COST\tREASONING")
			fmt.Fprintln(w, "----\t----\t-----\t----------\t---------\t---------")
			for i, sug := range res.Suggestions {
				rank := fmt.Sprint(i + 1)
				if i == 0 {
					rank = color.New(color.FgGreen, color.Bold).Sprint(rank)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					rank, sug.DeskID, sug.ModelName, percent(sug.Confidence), usd(sug.EstimatedCostUSD), sug.Reasoning)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			mode := "heuristic"
			if res.UsedLLM {
				mode = "llm:" + res.ClassifierModel
			}
			fmt.Fprintf(out, "\n%d suggestion(s), %s, %dms, %d rule(s) matched, classifier cost %s\n",
				len(res.Suggestions), mode, res.LatencyMs, len(res.MatchedRuleIDs), usd(res.ClassifierCostUSD))
			return nil
		},
	}
	cmd.Flags().StringVar(&task.Description, "description", "", "Task description")
	cmd.Flags().StringVar(&task.Category, "category", "", "Explicit category")
	cmd.Flags().BoolVar(&task.IsCodeTask, "code", false, "Mark the task as a code task")
	cmd.Flags().StringVar(&task.PreSelectedDeskID, "desk", "", "Desk the user already picked")
	return cmd
}
