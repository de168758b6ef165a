package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"feedbot/internal/app"
	"feedbot/internal/config"
	"feedbot/internal/feeding"
)

func parseIntArg(name, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &feeding.ValidationError{Field: name, Reason: fmt.Sprintf("%q is not a number", raw)}
	}
	return n, nil
}

var dispenseCmd = &cobra.Command{
	Use:     "dispense <grams>",
	Short:   "Dispense food now",
	GroupID: "feeding",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		grams, err := parseIntArg("grams", args[0])
		if err != nil {
			return err
		}
		return withCore(cmd, func(ctx context.Context, c *app.Core, cfg *config.Config) error {
			user, err := actor(cfg)
			if err != nil {
				return err
			}
			res, err := c.Feeder.ManualDispense(ctx, grams, user)
			if err != nil {
				return err
			}
			return printResult(res)
		})
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show today and 7-day dispense totals",
	GroupID: "feeding",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *app.Core, _ *config.Config) error {
			d, err := c.Feeder.Dashboard(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(d)
			}
			fmt.Fprintf(stdout, "today (since %s): %d g, %d ok, %d failed\n",
				d.TodayStart.Format(time.DateOnly), d.Today.TotalGrams, d.Today.SuccessCount, d.Today.FailureCount)
			fmt.Fprintf(stdout, "week  (since %s): %d g, %d ok, %d failed\n",
				d.WeekStart.Format(time.DateOnly), d.Week.TotalGrams, d.Week.SuccessCount, d.Week.FailureCount)
			fmt.Fprintf(stdout, "active schedules: %d\n", len(d.Active))
			return nil
		})
	},
}

var logsCmd = &cobra.Command{
	Use:     "logs",
	Short:   "List dispense log entries, newest first",
	GroupID: "feeding",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		limit, _ := cmd.Flags().GetInt("limit")
		return withCore(cmd, func(ctx context.Context, c *app.Core, _ *config.Config) error {
			recs, err := c.Feeder.RecentLogs(ctx, page, limit)
			if err != nil {
				return err
			}
			return printRecords(recs, c.Scheduler.Location())
		})
	},
}

var ratioCmd = &cobra.Command{
	Use:     "ratio",
	Short:   "Show or change the pellet-to-gram ratio",
	GroupID: "feeding",
}

var ratioGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current ratio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, c *app.Core, _ *config.Config) error {
			r, err := c.Feeder.FeedRatio(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(r)
			}
			fmt.Fprintf(stdout, "%d pellets = %s g\n", r.Pellets, strconv.FormatFloat(r.Grams, 'f', -1, 64))
			return nil
		})
	},
}

var ratioSetCmd = &cobra.Command{
	Use:   "set <pellets> <grams>",
	Short: "Store a new ratio (admin)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pellets, err := parseIntArg("pellets", args[0])
		if err != nil {
			return err
		}
		grams, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return &feeding.ValidationError{Field: "grams", Reason: fmt.Sprintf("%q is not a number", args[1])}
		}
		return withCore(cmd, func(ctx context.Context, c *app.Core, cfg *config.Config) error {
			user, err := actor(cfg)
			if err != nil {
				return err
			}
			r, err := c.Feeder.SetFeedRatio(ctx, user, feeding.FeedRatio{Pellets: pellets, Grams: grams})
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(r)
			}
			fmt.Fprintf(stdout, "ratio set: %d pellets = %s g\n", r.Pellets, strconv.FormatFloat(r.Grams, 'f', -1, 64))
			return nil
		})
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert [pellets]",
	Short: "Convert a pellet count (or a photo with --image) to grams",
	Long: "Converts pellets to grams with the stored ratio and compares the result " +
		"with the acting user's next feeding today.",
	GroupID: "feeding",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")
		if (image == "") == (len(args) == 0) {
			return fmt.Errorf("give either a pellet count or --image")
		}
		return withCore(cmd, func(ctx context.Context, c *app.Core, cfg *config.Config) error {
			user, err := actor(cfg)
			if err != nil {
				return err
			}
			if image != "" {
				f, err := os.Open(image)
				if err != nil {
					return err
				}
				defer f.Close()
				conv, err := c.Feeder.CountAndConvert(ctx, f, filepath.Base(image), user)
				if err != nil {
					return err
				}
				return printConversion(conv)
			}
			n, err := parseIntArg("pellets", args[0])
			if err != nil {
				return err
			}
			conv, err := c.Feeder.ConvertPelletsToGrams(ctx, n, user)
			if err != nil {
				return err
			}
			return printConversion(conv)
		})
	},
}

func init() {
	logsCmd.Flags().Int("page", 1, "page number, starting at 1")
	logsCmd.Flags().Int("limit", 20, "entries per page")

	convertCmd.Flags().String("image", "", "photo of the food to count pellets in")

	ratioCmd.AddCommand(ratioGetCmd)
	ratioCmd.AddCommand(ratioSetCmd)
}
