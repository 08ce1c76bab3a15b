package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show accountd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("accountd version 0.1.0")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
