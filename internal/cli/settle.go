package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"godshand-relief/internal/settlement"
)

var (
	settleClaimID  string
	settleDisaster string
	settleDecision string
)

var settleCmd = &cobra.Command{
	Use:   "settle",
	Short: "Apply a vote decision to a claim",
	RunE: func(cmd *cobra.Command, args []string) error {
		if settleClaimID == "" {
			return fmt.Errorf("--claim is required")
		}

		decision, err := settlement.ParseDecision(settleDecision)
		if err != nil {
			return err
		}

		outcome, err := getApp().Settle(cmd.Context(), settleClaimID, settleDisaster, decision)
		if err != nil {
			return err
		}

		encoded, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		return nil
	},
}

func init() {
	settleCmd.Flags().StringVar(&settleClaimID, "claim", "", "Claim identifier")
	settleCmd.Flags().StringVar(&settleDisaster, "disaster", "", "Disaster hash the claim belongs to")
	settleCmd.Flags().StringVar(&settleDecision, "decision", "", "Vote decision: approve, reject, higher, or lower")
}
