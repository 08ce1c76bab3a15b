package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var bestPolicyCmd = &cobra.Command{
	Use:   "best-policy <proposal-id>",
	Short: "Show the policy that would execute a proposal",
	Long: `Ranks the account's policies against the proposal and its verified
approvals, and prints the pick with any outstanding violations.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proposalID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid proposal id %q: %w", args[0], err)
		}

		application, err := initApp(cmd)
		if err != nil {
			return err
		}
		defer application.Close()

		result, err := application.BestPolicy.Run(cmd.Context(), proposalID)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bestPolicyCmd)
}
