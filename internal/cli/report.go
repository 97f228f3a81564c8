package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"godshand-relief/internal/app"
)

var (
	reportFrom      string
	reportTo        string
	reportPNG       string
	reportCSV       string
	reportMaxPoints int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export settled disbursements as CSV and/or PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReportOptions{
			PNGPath:   reportPNG,
			CSVPath:   reportCSV,
			MaxPoints: reportMaxPoints,
		}

		if reportFrom != "" {
			from, err := time.Parse(time.RFC3339, reportFrom)
			if err != nil {
				return fmt.Errorf("parse --from: %w", err)
			}
			opts.From = &from
		}
		if reportTo != "" {
			to, err := time.Parse(time.RFC3339, reportTo)
			if err != nil {
				return fmt.Errorf("parse --to: %w", err)
			}
			opts.To = &to
		}

		return getApp().Report(cmd.Context(), opts)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "Window start (RFC3339), defaults to three months ago")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "Window end (RFC3339), defaults to now")
	reportCmd.Flags().StringVar(&reportPNG, "png", "", "Write a PNG chart to this path")
	reportCmd.Flags().StringVar(&reportCSV, "csv", "", "Write a CSV file to this path")
	reportCmd.Flags().IntVar(&reportMaxPoints, "max-points", 0, "Maximum claims to include (0 uses config default)")
}
