package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"feedbot/internal/app"
	"feedbot/internal/config"
	"feedbot/internal/feeding"
)

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"schedules"},
	Short:   "Manage daily feeding schedules",
	GroupID: "feeding",
}

func parseScheduleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &feeding.ValidationError{Field: "id", Reason: "must be a positive schedule id"}
	}
	return id, nil
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <HH:MM> <grams>",
	Short: "Create a daily schedule owned by the acting user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, err := feeding.ParseTimeOfDay(args[0])
		if err != nil {
			return err
		}
		grams, err := parseIntArg("grams", args[1])
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			name = "Feeding " + at.String()
		}
		return withCore(cmd, func(ctx context.Context, c *app.Core, cfg *config.Config) error {
			user, err := actor(cfg)
			if err != nil {
				return err
			}
			sc, err := c.Feeder.CreateSchedule(ctx, feeding.NewSchedule{Name: name, At: at, AmountGrams: grams, OwnerID: user})
			if err != nil {
				return err
			}
			return printSchedule(sc)
		})
	},
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the acting user's schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		return withCore(cmd, func(ctx context.Context, c *app.Core, cfg *config.Config) error {
			user, err := actor(cfg)
			if err != nil {
				return err
			}
			var list []feeding.Schedule
			if all {
				if !c.Auth.IsAdmin(user) {
					return feeding.ErrUnauthorized
				}
				list, err = c.Feeder.ListAllSchedules(ctx)
			} else {
				list, err = c.Feeder.ListSchedulesForOwner(ctx, user)
			}
			if err != nil {
				return err
			}
			return printSchedules(list)
		})
	},
}

var scheduleEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change a schedule's name, time or amount",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseScheduleID(args[0])
		if err != nil {
			return err
		}
		var edit feeding.ScheduleEdit
		if cmd.Flags().Changed("name") {
			name, _ := cmd.Flags().GetString("name")
			edit.Name = &name
		}
		if cmd.Flags().Changed("time") {
			raw, _ := cmd.Flags().GetString("time")
			at, err := feeding.ParseTimeOfDay(raw)
			if err != nil {
				return err
			}
			edit.At = &at
		}
		if cmd.Flags().Changed("grams") {
			grams, _ := cmd.Flags().GetInt("grams")
			edit.AmountGrams = &grams
		}
		return withCore(cmd, func(ctx context.Context, c *app.Core, cfg *config.Config) error {
			user, err := actor(cfg)
			if err != nil {
				return err
			}
			sc, err := c.Feeder.EditSchedule(ctx, id, user, edit)
			if err != nil {
				return err
			}
			return printSchedule(sc)
		})
	},
}

var scheduleToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Flip a schedule between active and inactive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseScheduleID(args[0])
		if err != nil {
			return err
		}
		return withCore(cmd, func(ctx context.Context, c *app.Core, cfg *config.Config) error {
			user, err := actor(cfg)
			if err != nil {
				return err
			}
			sc, err := c.Feeder.ToggleSchedule(ctx, id, user)
			if err != nil {
				return err
			}
			return printSchedule(sc)
		})
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a schedule",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseScheduleID(args[0])
		if err != nil {
			return err
		}
		return withCore(cmd, func(ctx context.Context, c *app.Core, cfg *config.Config) error {
			user, err := actor(cfg)
			if err != nil {
				return err
			}
			sc, err := c.Feeder.DeleteSchedule(ctx, id, user)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(sc)
			}
			fmt.Fprintf(stdout, "deleted schedule #%d\n", sc.ID)
			return nil
		})
	},
}

func init() {
	scheduleAddCmd.Flags().String("name", "", "schedule name (default: \"Feeding HH:MM\")")
	scheduleListCmd.Flags().Bool("all", false, "list every user's schedules (admin)")
	scheduleEditCmd.Flags().String("name", "", "new name")
	scheduleEditCmd.Flags().String("time", "", "new time of day, HH:MM")
	scheduleEditCmd.Flags().Int("grams", 0, "new amount in grams")

	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleEditCmd)
	scheduleCmd.AddCommand(scheduleToggleCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)
}
