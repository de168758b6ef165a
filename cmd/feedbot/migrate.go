package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"feedbot/internal/config"
	"feedbot/internal/storage"
	logx "feedbot/pkg/logx"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Create the database or apply pending schema migrations",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfigManager(cfgPath).LoadOrDefault()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		path := cfg.Storage.Path
		if path == "" {
			path = config.DefaultStoragePath
		}
		busy := config.DurationOrDefault(cfg.Storage.BusyTimeout, config.DefaultBusyTimeout)
		db, err := storage.Open(cmd.Context(), storage.Config{Path: path, BusyTimeout: busy}, logx.NewConsole(logLevel))
		if err != nil {
			return err
		}
		defer db.Close()

		version, dirty, err := db.SchemaVersion()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"path": path, "version": version, "dirty": dirty})
		}
		fmt.Fprintf(stdout, "%s: schema version %d (dirty=%t)\n", path, version, dirty)
		return nil
	},
}
