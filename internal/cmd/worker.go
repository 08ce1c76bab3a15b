package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/AlloPay/accountd/internal/app"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the proposal pipeline worker",
	Long: `Runs the full pipeline: the queue consumer processing simulation,
execution and confirmation jobs, the confirmed-log listener feeding chain
events back into state, and the periodic orphaned-job recovery pass.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		application, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer application.Close()

		color.Green("accountd worker starting (chain %d)", application.Config.ChainID)

		errs := make(chan error, 2)
		go func() { errs <- application.Consumer.Run(ctx) }()
		go func() { errs <- application.Listener.Run(ctx) }()

		// Run one recovery pass at startup, then on the configured interval.
		runRecovery(ctx, application)
		ticker := time.NewTicker(application.Config.RecoveryInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				application.Log.Info("shutting down")
				return nil
			case err := <-errs:
				if ctx.Err() != nil {
					return nil
				}
				return err
			case <-ticker.C:
				runRecovery(ctx, application)
			}
		}
	},
}

func runRecovery(ctx context.Context, application *app.App) {
	recovered, err := application.RecoverJobs.Run(ctx)
	if err != nil {
		application.Log.Error("recovery pass failed", "err", err)
		return
	}
	if recovered > 0 {
		application.Log.Info("recovery pass complete", "recovered", recovered)
	}
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
