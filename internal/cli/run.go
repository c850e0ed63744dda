package cli

import (
	"github.com/spf13/cobra"

	"streamwatcher/internal/app"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduled alert workflow and the optional HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var (
	scanOrganization string
	scanDryRun       bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run the alert workflow once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Scan(cmd.Context(), app.ScanOptions{
			OrganizationID: scanOrganization,
			DryRun:         scanDryRun,
		})
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanOrganization, "org", "", "Limit the run to one organization")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", false, "Classify streams without writing alerts")
}
