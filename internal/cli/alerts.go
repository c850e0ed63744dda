package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"streamwatcher/internal/app"
	"streamwatcher/internal/risk"
	"streamwatcher/internal/storage"
)

var (
	alertsOrganization string
	alertsStatus       string
	alertsLimit        int
	autoResolveTypes   []string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and manage persisted alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ListAlerts(cmd.Context(), app.AlertsOptions{
			OrganizationID: alertsOrganization,
			Status:         alertsStatus,
			Limit:          alertsLimit,
		})
	},
}

func transitionCmd(t storage.Transition, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <alert-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return getApp().TransitionAlert(cmd.Context(), args[0], t)
		},
	}
}

var autoResolveCmd = &cobra.Command{
	Use:   "auto-resolve <organization-id> <stream-id>",
	Short: "Resolve a stream's open and acknowledged alerts of the given types",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		types := make([]risk.Type, 0, len(autoResolveTypes))
		for _, raw := range autoResolveTypes {
			types = append(types, risk.Type(raw))
		}
		if len(types) == 0 {
			return fmt.Errorf("--type must be provided at least once")
		}
		return getApp().AutoResolveAlerts(cmd.Context(), args[0], args[1], types)
	},
}

func init() {
	alertsCmd.Flags().StringVar(&alertsOrganization, "org", "", "Organization id")
	alertsCmd.Flags().StringVar(&alertsStatus, "status", "", "open, acknowledged, resolved or dismissed (default open and acknowledged)")
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 50, "Number of alerts to display")

	autoResolveCmd.Flags().StringSliceVar(&autoResolveTypes, "type", nil, "Alert type to resolve (repeatable)")

	alertsCmd.AddCommand(
		transitionCmd(storage.TransitionAcknowledge, "ack", "Acknowledge an open alert"),
		transitionCmd(storage.TransitionResolve, "resolve", "Resolve an open or acknowledged alert"),
		transitionCmd(storage.TransitionDismiss, "dismiss", "Dismiss an open alert"),
		autoResolveCmd,
	)
}
