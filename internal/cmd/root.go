// Package cmd defines the accountd command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AlloPay/accountd/internal/app"
	"github.com/AlloPay/accountd/internal/config"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "accountd",
	Short: "Control plane for smart-contract account policies and proposals",
	Long: `accountd runs the server side of a policy-based smart account: it
collects transaction proposals and approvals, decides which policy can
execute them, and drives execution through simulation, submission and
confirmation.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Local .env augments the environment before viper reads it.
	_ = godotenv.Load()

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug output")
}

// initApp resolves configuration and wires the application.
func initApp(cmd *cobra.Command) (*app.App, error) {
	v := config.SetupViper(cmd.Flags())
	cfg, err := config.Provider(v)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Debug = true
	}
	return app.InitApp(cmd.Context(), cfg)
}

func checkError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
