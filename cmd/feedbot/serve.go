package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"feedbot/internal/app"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run timers, the Telegram bot and the ops server",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stopTimeout, _ := cmd.Flags().GetDuration("stop-timeout")

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		a, err := app.NewApp(cfgPath)
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}
		// No-op outside systemd.
		_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

		var reason app.StopReason
		select {
		case sig := <-sigs:
			reason = app.StopSIGINT
			if sig == syscall.SIGTERM {
				reason = app.StopSIGTERM
			}
		case <-a.Done():
			reason = app.StopFatalError
		}
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		if err := a.Stop(stopCtx, reason); err != nil {
			return err
		}
		return a.Err()
	},
}

func init() {
	serveCmd.Flags().Duration("stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
}
