package main

import (
	"fmt"
	"sort"

	"hoard-go/internal/app"
	"hoard-go/internal/hoard"
	"hoard-go/internal/record"

	"github.com/spf13/cobra"
)

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create backups",
}

var backupProjectCmd = &cobra.Command{
	Use:   "project NAME",
	Short: "Archive a project directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		incremental, _ := cmd.Flags().GetBool("incremental")
		complete, _ := cmd.Flags().GetBool("complete")
		return runBackup(cmd, record.ItemProject, args[0], hoard.BackupRequest{
			Incremental: incremental,
			Complete:    complete,
		})
	},
}

var backupDatabaseCmd = &cobra.Command{
	Use:     "db NAME",
	Aliases: []string{"database"},
	Short:   "Dump a MySQL database",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd, record.ItemDatabase, args[0], hoard.BackupRequest{})
	},
}

var backupGitCmd = &cobra.Command{
	Use:   "git NAME",
	Short: "Bundle the git repository of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(cmd, record.ItemGit, args[0], hoard.BackupRequest{})
	},
}

func runBackup(cmd *cobra.Command, t record.ItemType, item string, req hoard.BackupRequest) error {
	req.Description, _ = cmd.Flags().GetString("description")
	req.SkipIfToday, _ = cmd.Flags().GetBool("skip-today")

	a, err := newApp(cmd.Context(), "backup")
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Backup(cmd.Context(), string(t), item, req)
	if err != nil {
		return err
	}
	printBackupResult(res)
	return nil
}

func printBackupResult(res *hoard.BackupResult) {
	if res.Skipped {
		fmt.Println("Skipped: already backed up today")
		return
	}
	r := res.Record
	fmt.Printf("Created %s (%s, %s)\n", r.BackupName, r.BackupType, formatSize(r.SizeBytes))
	fmt.Printf("  sha256: %s\n", r.Checksum)
	if res.Degraded {
		fmt.Printf("  full backup taken instead of incremental: %s\n", res.DegradedReason)
	}
	if r.BackupType == record.KindIncremental {
		fmt.Printf("  %d added, %d unchanged, %d deleted\n", r.FilesAdded, r.FilesSkipped, len(r.FilesDeleted))
	}
	if r.Branch != "" {
		fmt.Printf("  %s @ %s\n", r.Branch, shortHash(r.Commit))
	}
	if len(res.Ignored) > 0 {
		fmt.Printf("  %d symlinks or special files skipped\n", len(res.Ignored))
	}
	if res.Mirrored {
		fmt.Println("  copied to mirror")
	}
	if rep := res.Retention; rep != nil && len(rep.Deleted) > 0 {
		fmt.Printf("  retention removed %d backup(s), %s recovered\n", len(rep.Deleted), formatSize(rep.BytesRecovered))
	}
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}

var backupAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Back up every enabled item in parallel",
	RunE: func(cmd *cobra.Command, args []string) error {
		scope, _ := cmd.Flags().GetString("scope")
		incremental, _ := cmd.Flags().GetBool("incremental")
		skipToday, _ := cmd.Flags().GetBool("skip-today")

		a, err := newApp(cmd.Context(), "backup-all")
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := a.BackupAll(cmd.Context(), scope, incremental, skipToday)
		if err != nil {
			return err
		}
		return printBatch(results)
	},
}

// printBatch prints one line per item and fails when any item failed.
func printBatch(results map[string]hoard.BatchResult) error {
	if len(results) == 0 {
		fmt.Println("Nothing to do.")
		return nil
	}
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	failed := 0
	for _, k := range keys {
		r := results[k]
		status := "ok  "
		if !r.OK {
			status = "FAIL"
			failed++
		}
		fmt.Printf("%s  %-30s  %s\n", status, k, r.Message)
	}
	fmt.Printf("\n%d ok, %d failed\n", len(results)-failed, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d items failed", failed, len(results))
	}
	return nil
}

func init() {
	backupCmd.PersistentFlags().StringP("description", "d", "", "Description stored with the backup")
	backupCmd.PersistentFlags().Bool("skip-today", false, "Do nothing if the item was already backed up today")

	backupProjectCmd.Flags().BoolP("incremental", "i", false, "Archive only files changed since the last full backup")
	backupProjectCmd.Flags().Bool("complete", false, "Archive the whole tree, including hidden files, into the complete backup")
	backupProjectCmd.MarkFlagsMutuallyExclusive("incremental", "complete")

	backupAllCmd.Flags().String("scope", app.ScopeAll, "One of projects, complete, databases, git, all")
	backupAllCmd.Flags().BoolP("incremental", "i", false, "Take incremental project backups")

	backupCmd.AddCommand(backupProjectCmd)
	backupCmd.AddCommand(backupDatabaseCmd)
	backupCmd.AddCommand(backupGitCmd)
	backupCmd.AddCommand(backupAllCmd)
	rootCmd.AddCommand(backupCmd)
}
