package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"branchmind/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create or upgrade the workspace database schema",
	Long: `migrate opens (creating if absent) the workspace's SQLite database
and applies the current schema. store.Open's initSchema is idempotent, so
running migrate against an up-to-date database is a no-op.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ws := workspace
	if ws == "" {
		ws, err = os.Getwd()
		if err != nil {
			return err
		}
	}

	dbPath := cfg.Store.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(ws, dbPath)
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer s.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "schema up to date at %s\n", dbPath)
	return nil
}
