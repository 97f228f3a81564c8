package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry settlement for claims stuck between vote and ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		outcomes, err := getApp().Reconcile(cmd.Context())
		if err != nil {
			return err
		}

		encoded, err := json.MarshalIndent(outcomes, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		return nil
	},
}
