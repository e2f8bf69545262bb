package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"routing-backend/internal/rules"
)

func rulesCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage routing rules",
	}
	cmd.AddCommand(rulesListCmd(s))
	cmd.AddCommand(rulesCreateCmd(s))
	cmd.AddCommand(rulesToggleCmd(s))
	cmd.AddCommand(rulesDeleteCmd(s))
	cmd.AddCommand(rulesApproveCmd(s))
	cmd.AddCommand(rulesRejectCmd(s))
	return cmd
}

func describeCondition(c rules.Condition) string {
	switch cond := c.(type) {
	case rules.KeywordMatch:
		return "keywords: " + strings.Join(cond.Keywords, ", ")
	case rules.CategoryMatch:
		return "category: " + cond.Category
	case nil:
		return "-"
	default:
		return string(c.Kind())
	}
}

func describeAction(a rules.Action) string {
	switch {
	case a.DeskID != "" && a.ModelID != "":
		return a.DeskID + " @ " + a.ModelID
	case a.DeskID != "":
		return a.DeskID
	case a.ModelID != "":
		return "model " + a.ModelID
	default:
		return "-"
	}
}

func printRules(s *session, cmd *cobra.Command, list []rules.RoutingRule) error {
	out := cmd.OutOrStdout()
	if s.asJSON {
		if list == nil {
			list = []rules.RoutingRule{}
		}
		return writeJSON(out, list)
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No rules.")
		return nil
	}
	w := newTable(out)
	fmt.Fprintln(w, "ID\tPRIORITY\tSTATE\tSOURCE\tCONDITION\tACTION\tHITS")
	fmt.Fprintln(w, "--\t--------\t-----\t------\t---------\t------\t----")
	for _, r := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%d/%d\n",
			r.ID, r.Priority, activeLabel(r.IsActive), r.Source,
			describeCondition(r.Condition), describeAction(r.Action), r.SuccessCount, r.HitCount)
	}
	return w.Flush()
}

func rulesListCmd(s *session) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the team's rules in evaluation order",
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
			var list []rules.RoutingRule
			if activeOnly {
				list, err = app.Rules.ListActive(cmd.Context(), team)
			} else {
				list, err = app.Rules.List(cmd.Context(), team)
			}
			if err != nil {
				return err
			}
			return printRules(s, cmd, list)
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only active rules")
	return cmd
}

func rulesCreateCmd(s *session) *cobra.Command {
	var (
		keywords []string
		category string
		deskID   string
		modelID  string
		priority int
		inactive bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a manual rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := s.Team()
			if err != nil {
				return err
			}
			in := rules.CreateInput{
				Action:   rules.Action{DeskID: deskID, ModelID: modelID},
				Inactive: inactive,
			}
			switch {
			case len(keywords) > 0 && category != "":
				return fmt.Errorf("use either --keyword or --category, not both")
			case len(keywords) > 0:
				in.Condition = rules.KeywordMatch{Keywords: keywords}
			case category != "":
				in.Condition = rules.CategoryMatch{Category: category}
			default:
				return fmt.Errorf("a condition is required (--keyword or --category)")
			}
			if cmd.Flags().Changed("priority") {
				in.Priority = &priority
			}

			app, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			rule, err := app.Rules.Create(cmd.Context(), team, in)
			if err != nil {
				return err
			}
			if s.asJSON {
				return writeJSON(cmd.OutOrStdout(), rule)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rule %s (priority %d)\n",
				color.New(color.FgGreen).Sprint("Created"), rule.ID, rule.Priority)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "Keyword to match (repeatable)")
	cmd.Flags().StringVar(&category, "category", "", "Category to match")
	cmd.Flags().StringVar(&deskID, "desk", "", "Preferred desk")
	cmd.Flags().StringVar(&modelID, "model", "", "Preferred model")
	cmd.Flags().IntVar(&priority, "priority", 0, "Evaluation priority (default: above current max)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the rule disabled")
	return cmd
}

func rulesToggleCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <rule-id> <on|off>",
		Short: "Enable or disable a rule",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := s.Team()
			if err != nil {
				return err
			}
			active, err := parseSwitch(args[1])
			if err != nil {
				return err
			}
			app, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			rule, err := app.Rules.Toggle(cmd.Context(), team, args[0], active)
			if err != nil {
				return err
			}
			if s.asJSON {
				return writeJSON(cmd.OutOrStdout(), rule)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rule %s is now %s\n", rule.ID, activeLabel(rule.IsActive))
			return nil
		},
	}
}

func parseSwitch(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "on", "enable", "active":
		return true, nil
	case "off", "disable", "inactive":
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", raw)
	}
	return v, nil
}

func rulesDeleteCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule",
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
			if err := app.Rules.Delete(cmd.Context(), team, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rule %s\n", color.New(color.FgRed).Sprint("Deleted"), args[0])
			return nil
		},
	}
}

func rulesApproveCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <run-id> <rule-id>",
		Short: "Activate a rule proposed by an analysis run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := s.Team()
			if err != nil {
				return err
			}
			app, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			rule, err := app.Analysis.ApproveRule(cmd.Context(), team, args[0], args[1])
			if err != nil {
				return err
			}
			if s.asJSON {
				return writeJSON(cmd.OutOrStdout(), rule)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rule %s (%s -> %s)\n",
				color.New(color.FgGreen).Sprint("Approved"), rule.ID,
				describeCondition(rule.Condition), describeAction(rule.Action))
			return nil
		},
	}
}

func rulesRejectCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <run-id> <rule-id>",
		Short: "Discard a rule proposed by an analysis run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := s.Team()
			if err != nil {
				return err
			}
			app, err := s.App(cmd.Context())
			if err != nil {
				return err
			}
			outcome, err := app.Analysis.RejectRule(cmd.Context(), team, args[0], args[1])
			if err != nil {
				return err
			}
			switch outcome {
			case rules.RejectDeleted:
				fmt.Fprintf(cmd.OutOrStdout(), "%s rule %s\n", color.New(color.FgRed).Sprint("Rejected"), args[1])
			case rules.RejectApproved:
				fmt.Fprintf(cmd.OutOrStdout(), "Rule %s was already approved; nothing rejected\n", args[1])
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Rule %s no longer exists; nothing rejected\n", args[1])
			}
			return nil
		},
	}
}
