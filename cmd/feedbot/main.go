// Command feedbot runs the pet feeder service and manages its schedules and
// dispense log from the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"feedbot/internal/app"
	"feedbot/internal/config"
	logx "feedbot/pkg/logx"
)

var (
	cfgPath    string
	jsonOutput bool
	actorID    int64
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "feedbot <command>",
	Short:         "Scheduled pet feeder with Telegram control",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "path to config file (yaml or json)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().Int64VarP(&actorID, "user", "u", 0, "acting user id (default: first admin)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for one-shot commands")

	rootCmd.AddGroup(
		&cobra.Group{ID: "feeding", Title: "Feeding:"},
		&cobra.Group{ID: "system", Title: "System:"},
	)

	rootCmd.AddCommand(dispenseCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(ratioCmd)
	rootCmd.AddCommand(convertCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func defaultConfigPath() string {
	if s := os.Getenv("FEEDBOT_CONFIG"); s != "" {
		return s
	}
	return "./config.yaml"
}

// withCore loads the config, opens the database and runs fn. Timers built
// here are never started; a running server picks CLI changes up on its
// next resync.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, c *app.Core, cfg *config.Config) error) error {
	cfg, err := config.NewConfigManager(cfgPath).LoadOrDefault()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logx.NewConsole(logLevel)
	ctx := cmd.Context()
	core, err := app.BuildCore(ctx, cfg, nil, log)
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(ctx, core, cfg)
}

// actor resolves --user, falling back to the first configured admin.
func actor(cfg *config.Config) (int64, error) {
	if actorID != 0 {
		return actorID, nil
	}
	if len(cfg.Access.AdminUserIDs) > 0 {
		return cfg.Access.AdminUserIDs[0], nil
	}
	return 0, errors.New("--user is required when access.admin_user_ids is empty")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
