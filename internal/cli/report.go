package cli

import (
	"github.com/spf13/cobra"

	"streamwatcher/internal/app"
)

var (
	reportJSON      bool
	accrualEmployee string
)

var overviewCmd = &cobra.Command{
	Use:   "overview <organization-id>",
	Short: "Show organization metrics and risk rollups",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Overview(cmd.Context(), app.ReportOptions{OrganizationID: args[0], JSON: reportJSON})
	},
}

var accrualCmd = &cobra.Command{
	Use:   "accrual [stream-id]",
	Short: "Show earned and available amounts for a stream or an employee",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ReportOptions{EmployeeID: accrualEmployee, JSON: reportJSON}
		if len(args) == 1 {
			opts.StreamID = args[0]
		}
		return getApp().Accrual(cmd.Context(), opts)
	},
}

var countdownCmd = &cobra.Command{
	Use:   "countdown <stream-id>",
	Short: "Show days until the employer may emergency-withdraw a stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Countdown(cmd.Context(), app.ReportOptions{StreamID: args[0], JSON: reportJSON})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{overviewCmd, accrualCmd, countdownCmd} {
		cmd.Flags().BoolVar(&reportJSON, "json", false, "Print JSON instead of a table")
	}
	accrualCmd.Flags().StringVar(&accrualEmployee, "employee", "", "Employee id; shows every stream paying the employee")
}
