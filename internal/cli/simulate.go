package cli

import (
	"github.com/spf13/cobra"

	"streamwatcher/internal/app"
)

var (
	simulateFixture string
	simulateNotify  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "基于 YAML 夹具在内存中模拟一次告警流程",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			FixturePath: simulateFixture,
			Notify:      simulateNotify,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFixture, "fixture", "", "YAML 夹具路径")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "将新告警发送到已配置的通知渠道")
}
