// Package main is the branchmindd entry point: a cobra root command with
// serve/migrate/version subcommands (global flags on main.go, one
// cmd_*.go per subcommand family).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"branchmind/internal/config"
	"branchmind/internal/logging"
)

// version is the release version reported by the version subcommand. It
// is a constant, so it cannot be overridden at link time.
const version = "0.1.0"

var (
	workspace  string
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "branchmindd",
	Short: "branchmindd serves the BranchMind agent task/reasoning workspace",
	Long: `branchmindd is the BranchMind server: a single-writer-per-workspace
SQLite-backed store of plans, tasks, steps, anchors, reasoning cards, doc
streams, and jobs, exposed to agents as a small set of tool calls.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ws := workspace
		if ws == "" {
			var err error
			ws, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve workspace: %w", err)
			}
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		// File logging is config-gated (debug_mode); the zap console
		// logger above always runs regardless.
		logging.Configure(ws, cfg.Logging.DebugMode || verbose, level, cfg.Logging.Categories)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = "branchmind.yaml"
	}
	return config.Load(path)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to branchmind.yaml (default: ./branchmind.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd, migrateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
