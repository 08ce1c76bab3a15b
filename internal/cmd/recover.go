package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run one orphaned-job recovery pass",
	Long: `Scans proposals without a terminal receipt and re-enqueues the jobs
their pipelines are missing. A no-op when another instance holds the
recovery lock.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer application.Close()

		recovered, err := application.RecoverJobs.Run(cmd.Context())
		if err != nil {
			return err
		}

		if recovered == 0 {
			color.Green("✓ No orphaned jobs")
		} else {
			color.Yellow("Re-enqueued %d orphaned job(s)", recovered)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
