package cli

import (
	"github.com/spf13/cobra"

	"streamwatcher/internal/app"
)

var (
	exportOrganization string
	exportPNGPath      string
	exportCSVPath      string
	exportMaxRows      int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stream accrual and runway as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			OrganizationID: exportOrganization,
			PNGPath:        exportPNGPath,
			CSVPath:        exportCSVPath,
			MaxRows:        exportMaxRows,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOrganization, "org", "", "Organization id (defaults to all streams)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG runway chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxRows, "max-rows", 0, "Maximum streams to export (defaults to config)")
}
