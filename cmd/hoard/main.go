package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hoard-go/internal/app"
	"hoard-go/internal/config"
	"hoard-go/internal/hoard"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps error kinds to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, hoard.ErrConfiguration), errors.Is(err, hoard.ErrValidation):
		return 2
	case errors.Is(err, hoard.ErrPrecondition):
		return 3
	case errors.Is(err, hoard.ErrIntegrity):
		return 4
	}
	return 1
}

var (
	configPath string
	verbose    bool
)

// loadConfig reads the config from --config or the default location.
func loadConfig() (*config.Config, string, error) {
	paths, err := app.DefaultPaths()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	path := configPath
	if path == "" {
		path = paths.ConfigPath
	}
	cfg, err := config.Load(path, paths.BaseDir)
	if err != nil {
		return nil, path, hoard.NewError(hoard.ErrConfiguration, "", "", err)
	}
	return cfg, path, nil
}

// newApp reads the config and creates a HoardApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "backup", "restore").
func newApp(ctx context.Context, operation string) (*app.HoardApp, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewHoardApp(ctx, cfg, operation, app.Options{Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:           "hoard",
	Short:         "Backups of projects, MySQL databases and git repositories",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := app.DefaultPaths()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		path := configPath
		if path == "" {
			path = paths.ConfigPath
		}

		cfg := paths.NewConfig()
		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", path)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Store:    %s\n", cfg.Storage.LocalRoot)
		if cfg.Mirror.Type != "" {
			fmt.Printf("Mirror:   %s\n", cfg.Mirror.Root)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Store:    %s\n", cfg.Storage.LocalRoot)
		mirrorType := cfg.Mirror.Type
		if mirrorType == "" {
			mirrorType = "none"
		}
		fmt.Printf("Mirror:   %s\n", mirrorType)
		fmt.Printf("Parallel: %d\n", cfg.System.MaxParallel)

		fmt.Printf("\nProjects (%d):\n", len(cfg.Projects))
		for _, p := range cfg.Projects {
			fmt.Printf("  %-20s %s%s\n", p.Name, p.Path, disabledMark(p.IsEnabled()))
		}
		fmt.Printf("\nDatabases (%d):\n", len(cfg.Databases))
		for _, d := range cfg.Databases {
			fmt.Printf("  %-20s %s@%s:%d%s\n", d.Name, d.User, d.Host, d.Port, disabledMark(d.IsEnabled()))
		}
		return nil
	},
}

var configCheckMirrorCmd = &cobra.Command{
	Use:   "check-mirror",
	Short: "Verify the mirror is reachable and writable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "check-mirror")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CheckMirror(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Mirror OK")
		return nil
	},
}

func disabledMark(enabled bool) string {
	if enabled {
		return ""
	}
	return "  (disabled)"
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history [ITEM]",
	Short: "View operation history",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd.Context(), "history")
		if err != nil {
			return err
		}
		defer a.Close()

		item := ""
		if len(args) > 0 {
			item = args[0]
		}
		ops, err := a.History(item, limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.Duration().Truncate(time.Millisecond).String()
			}
			target := op.ItemName
			if op.ItemType != "" {
				target = op.ItemType + "/" + op.ItemName
			}
			fmt.Printf("#%d  %-12s  %-24s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				target,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Message,
			)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $HOARD_CONFIG_PATH or ~/.config/hoard.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configCheckMirrorCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
