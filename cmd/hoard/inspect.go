package main

import (
	"fmt"
	"sort"
	"strings"

	"hoard-go/internal/checksum"
	"hoard-go/internal/record"

	"github.com/spf13/cobra"
)

// list command
var listCmd = &cobra.Command{
	Use:   "list TYPE NAME",
	Short: "List the backups of an item (TYPE is project, database or git)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "list")
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.List(args[0], args[1])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No backups.")
			return nil
		}
		for _, r := range records {
			printRecordLine(r)
		}
		return nil
	},
}

func printRecordLine(r *record.Record) {
	flags := protectionFlags(r)
	if !r.Verifiable() {
		flags = append(flags, "unverifiable")
	}
	extra := ""
	if len(flags) > 0 {
		extra = "  [" + strings.Join(flags, ",") + "]"
	}
	fmt.Printf("%-45s  %s  %-11s  %9s%s\n",
		r.BackupName,
		r.Timestamp.Local().Format("2006-01-02 15:04:05"),
		r.BackupType,
		formatSize(r.SizeBytes),
		extra,
	)
	if r.Description != "" {
		fmt.Printf("    %s\n", r.Description)
	}
}

func protectionFlags(r *record.Record) []string {
	var flags []string
	if r.KeepForever {
		flags = append(flags, "keep-forever")
	} else if r.Pinned {
		flags = append(flags, "pinned")
	}
	if r.Importance == record.ImportanceCritical || r.Importance == record.ImportanceHigh {
		flags = append(flags, string(r.Importance))
	}
	for _, t := range r.Tags {
		flags = append(flags, "#"+t)
	}
	return flags
}

// contents command
var contentsCmd = &cobra.Command{
	Use:   "contents NAME [BACKUP]",
	Short: "List the files inside a project backup",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		patterns, _ := cmd.Flags().GetStringSlice("pattern")

		a, err := newApp(cmd.Context(), "contents")
		if err != nil {
			return err
		}
		defer a.Close()

		members, err := a.Contents(args[0], optionalArg(args, 1), patterns)
		if err != nil {
			return err
		}
		var total int64
		for _, m := range members {
			if m.Dir {
				continue
			}
			total += m.Size
			fmt.Printf("%9s  %s  %s\n", formatSize(m.Size), m.ModTime.Local().Format("2006-01-02 15:04"), m.Path)
		}
		fmt.Printf("\n%d member(s), %s\n", len(members), formatSize(total))
		return nil
	},
}

// preview command
var previewCmd = &cobra.Command{
	Use:   "preview NAME BACKUP PATH",
	Short: "Print the first lines of a text file inside a project backup",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")

		a, err := newApp(cmd.Context(), "preview")
		if err != nil {
			return err
		}
		defer a.Close()

		text, err := a.Preview(args[0], args[1], args[2], lines)
		if err != nil {
			return err
		}
		fmt.Print(text)
		if !strings.HasSuffix(text, "\n") {
			fmt.Println()
		}
		return nil
	},
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify TYPE NAME [BACKUP]",
	Short: "Check backup checksums (all backups of the item when BACKUP is omitted)",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "verify")
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.Verify(args[0], args[1], optionalArg(args, 2))
		for _, r := range results {
			fmt.Printf("%-12s  %-45s  %s\n", r.Outcome, r.Backup, r.Message())
		}
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Outcome == checksum.Corrupted {
				return fmt.Errorf("%s is corrupted", r.Backup)
			}
		}
		return nil
	},
}

// backfill command
var backfillCmd = &cobra.Command{
	Use:   "backfill TYPE NAME",
	Short: "Add checksums to backups created without one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "backfill")
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.Backfill(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Updated %d record(s), created %d record(s)\n", len(rep.Updated), len(rep.Created))
		return nil
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status [TYPE [NAME]]",
	Short: "Summarize backups per item",
	Args:  cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "status")
		if err != nil {
			return err
		}
		defer a.Close()

		statuses, err := a.Status(optionalArg(args, 0), optionalArg(args, 1))
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			fmt.Println("No backups.")
			return nil
		}
		for _, st := range statuses {
			latest := "-"
			if st.Latest != nil {
				latest = st.Latest.Timestamp.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("%-8s  %-20s  %3d backups  %9s  latest %s  protected %d  unverifiable %d\n",
				st.Type, st.Item, st.Count, formatSize(st.TotalSize), latest, st.Protected, st.Unverifiable)
			if len(st.Distribution) > 0 {
				tiers := make([]string, 0, len(st.Distribution))
				for tier, n := range st.Distribution {
					tiers = append(tiers, fmt.Sprintf("%s=%d", tier, n))
				}
				sort.Strings(tiers)
				fmt.Printf("          %s\n", strings.Join(tiers, " "))
			}
		}
		return nil
	},
}

func init() {
	contentsCmd.Flags().StringSliceP("pattern", "p", nil, "Only list paths matching this pattern (repeatable)")
	previewCmd.Flags().IntP("lines", "n", 50, "Maximum number of lines to print")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(contentsCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(statusCmd)
}
