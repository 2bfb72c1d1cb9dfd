package main

import (
	"fmt"
	"time"

	"hoard-go/internal/retention"

	"github.com/spf13/cobra"
)

// retention command
var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Plan and apply tiered retention",
}

var retentionPlanCmd = &cobra.Command{
	Use:   "plan TYPE NAME",
	Short: "Show which backups retention would keep and delete",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "retention-plan")
		if err != nil {
			return err
		}
		defer a.Close()

		plan, err := a.RetentionPlan(args[0], args[1])
		if err != nil {
			return err
		}
		for _, d := range plan.Decisions {
			action := "keep  "
			if !d.Keep {
				action = "delete"
			}
			fmt.Printf("%s  %-13s  %-45s  %s\n", action, d.Tier, d.Record.BackupName, d.Reason)
		}
		fmt.Printf("\n%d kept, %d to delete, %s to recover\n",
			len(plan.Keep), len(plan.Delete), formatSize(plan.BytesToRecover()))
		return nil
	},
}

var retentionApplyCmd = &cobra.Command{
	Use:   "apply [TYPE NAME]",
	Short: "Delete backups outside the retention policy (every item when none is given)",
	Args:  cobra.MatchAll(cobra.MaximumNArgs(2), func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return fmt.Errorf("both TYPE and NAME are required")
		}
		return nil
	}),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if len(args) == 0 {
			a, err := newApp(cmd.Context(), "retention-all")
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.RetentionApplyAll(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			return printBatch(results)
		}

		a, err := newApp(cmd.Context(), "retention")
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.RetentionApply(cmd.Context(), args[0], args[1], dryRun)
		if rep != nil {
			printReport(rep)
		}
		return err
	},
}

func printReport(rep *retention.Report) {
	verb := "Deleted"
	if rep.DryRun {
		verb = "Would delete"
	}
	for _, name := range rep.Deleted {
		fmt.Printf("%s %s\n", verb, name)
	}
	fmt.Printf("%d kept, %d deleted, %s recovered\n", rep.Kept, len(rep.Deleted), formatSize(rep.BytesRecovered))
	for _, err := range rep.Errors {
		fmt.Printf("  error: %v\n", err)
	}
}

var retentionSuggestCmd = &cobra.Command{
	Use:   "suggest TYPE NAME",
	Short: "Propose tiers from how often the item is backed up",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "retention-suggest")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Suggest(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Mean interval between backups: %s\n\n", s.MeanInterval.Round(time.Second))
		fmt.Println("Suggested tiers:")
		for _, t := range s.Tiers {
			fmt.Printf("  %-8s keep %3d  max age %3d\n", t.Name, t.Keep, t.MaxAge)
		}
		fmt.Printf("\nNow:   %d backups, %s\n", s.CurrentCount, formatSize(s.CurrentSize))
		fmt.Printf("After: %d backups, %s\n", s.AfterCount, formatSize(s.AfterSize))
		return nil
	},
}

func init() {
	retentionApplyCmd.Flags().Bool("dry-run", false, "Report what would be deleted without deleting")

	retentionCmd.AddCommand(retentionPlanCmd)
	retentionCmd.AddCommand(retentionApplyCmd)
	retentionCmd.AddCommand(retentionSuggestCmd)
	rootCmd.AddCommand(retentionCmd)
}
