package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"streamwatcher/internal/app"
)

var (
	projectFrom string
	projectTo   string
	projectStep time.Duration
)

var projectCmd = &cobra.Command{
	Use:   "project <stream-id>",
	Short: "Project a stream's hourly accrual over a time range",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()
		from, to := now, now.Add(24*time.Hour)

		if projectFrom != "" {
			parsed, err := time.Parse(time.RFC3339, projectFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			from = parsed
		}

		if projectTo != "" {
			parsed, err := time.Parse(time.RFC3339, projectTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			to = parsed
		}

		if to.Before(from) {
			return fmt.Errorf("--from must not be after --to")
		}

		return getApp().Project(cmd.Context(), app.ProjectOptions{
			StreamID: args[0],
			From:     from,
			To:       to,
			Step:     projectStep,
		})
	},
}

func init() {
	projectCmd.Flags().StringVar(&projectFrom, "from", "", "Start timestamp (RFC3339, defaults to now)")
	projectCmd.Flags().StringVar(&projectTo, "to", "", "End timestamp (RFC3339, inclusive, defaults to now+24h)")
	projectCmd.Flags().DurationVar(&projectStep, "step", time.Hour, "Projection step")
}
