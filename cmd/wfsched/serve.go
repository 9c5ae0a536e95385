package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"wfsched/internal/app"
	logx "wfsched/pkg/logx"
)

var stopTimeout time.Duration

func init() {
	serveCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 20*time.Second, "upper bound for graceful shutdown")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, executor and admin API until signaled",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		ctx := cmd.Context()
		a, err := app.NewApp(ctx, cfgPath, app.WithVersion(version))
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}
		log := a.Logger()
		notify(log, daemon.SdNotifyReady)

		reason := app.StopUnknown
		select {
		case sig := <-sigs:
			reason = stopReason(sig)
		case <-a.Done():
			reason = app.StopFatalError
		}

		notify(log, daemon.SdNotifyStopping)
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		runErr := a.Err()
		if err := a.Stop(stopCtx, reason); err != nil {
			return err
		}
		if reason == app.StopFatalError {
			return runErr
		}
		return nil
	},
}

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

func stopReason(sig os.Signal) app.StopReason {
	switch sig {
	case os.Interrupt:
		return app.StopSIGINT
	case syscall.SIGTERM:
		return app.StopSIGTERM
	default:
		return app.StopUnknown
	}
}
