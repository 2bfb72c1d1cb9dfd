package main

import (
	"fmt"

	"hoard-go/internal/hoard"

	"github.com/spf13/cobra"
)

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore backups",
}

var restoreProjectCmd = &cobra.Command{
	Use:   "project NAME [BACKUP]",
	Short: "Restore a project backup, replaying incrementals onto their base",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		patterns, _ := cmd.Flags().GetStringSlice("pattern")
		flatten, _ := cmd.Flags().GetBool("flatten")
		force, _ := cmd.Flags().GetBool("allow-unverifiable")

		a, err := newApp(cmd.Context(), "restore")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Restore(cmd.Context(), hoard.RestoreRequest{
			Item:              args[0],
			Backup:            optionalArg(args, 1),
			Target:            target,
			Patterns:          patterns,
			Flatten:           flatten,
			AllowUnverifiable: force,
		})
		if err != nil {
			return err
		}
		printRestoreResult(res)
		return nil
	},
}

func printRestoreResult(res *hoard.RestoreResult) {
	if res.MovedAside != "" {
		fmt.Printf("Moved existing %s to %s\n", res.Target, res.MovedAside)
	}
	for _, name := range res.Chain {
		fmt.Printf("Applied %s\n", name)
	}
	fmt.Printf("Restored %d file(s) to %s\n", len(res.Files), res.Target)
	if len(res.Removed) > 0 {
		fmt.Printf("Removed %d file(s) deleted after the base backup\n", len(res.Removed))
	}
	if len(res.Skipped) > 0 {
		fmt.Printf("Skipped %d link(s)\n", len(res.Skipped))
	}
}

var restoreDatabaseCmd = &cobra.Command{
	Use:     "db NAME [BACKUP]",
	Aliases: []string{"database"},
	Short:   "Load a dump back into its database",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("allow-unverifiable")

		a, err := newApp(cmd.Context(), "restore")
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.RestoreDatabase(cmd.Context(), hoard.DatabaseRestoreRequest{
			Item:              args[0],
			Backup:            optionalArg(args, 1),
			AllowUnverifiable: force,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Restored database %s from %s\n", args[0], r.BackupName)
		return nil
	},
}

var restoreGitCmd = &cobra.Command{
	Use:   "git NAME [BACKUP]",
	Short: "Clone or fetch from a git bundle",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		mode, _ := cmd.Flags().GetString("mode")
		force, _ := cmd.Flags().GetBool("allow-unverifiable")

		a, err := newApp(cmd.Context(), "restore")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.RestoreGit(cmd.Context(), args[0], optionalArg(args, 1), target, mode, force)
		if err != nil {
			return err
		}
		if res.MovedAside != "" {
			fmt.Printf("Moved existing %s to %s\n", res.Target, res.MovedAside)
		}
		fmt.Printf("%s %s from %s\n", gitVerb(mode), res.Target, res.Chain[len(res.Chain)-1])
		return nil
	},
}

func gitVerb(mode string) string {
	if mode == string(hoard.GitFetch) {
		return "Fetched into"
	}
	return "Cloned"
}

func optionalArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func init() {
	restoreCmd.PersistentFlags().Bool("allow-unverifiable", false, "Restore backups that carry no checksum")

	restoreProjectCmd.Flags().StringP("target", "t", "", "Directory to restore into (default: the project path)")
	restoreProjectCmd.Flags().StringSliceP("pattern", "p", nil, "Restore only paths matching this pattern (repeatable)")
	restoreProjectCmd.Flags().Bool("flatten", false, "Write selected files directly into the target")

	restoreGitCmd.Flags().StringP("target", "t", "", "Repository directory to clone into or fetch into")
	restoreGitCmd.Flags().String("mode", string(hoard.GitClone), "clone or fetch")
	restoreGitCmd.MarkFlagRequired("target")

	restoreCmd.AddCommand(restoreProjectCmd)
	restoreCmd.AddCommand(restoreDatabaseCmd)
	restoreCmd.AddCommand(restoreGitCmd)
	rootCmd.AddCommand(restoreCmd)
}
