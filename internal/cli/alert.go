package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"otc-risk-shield/internal/app"
)

var (
	alertToken     string
	alertPrevious  float64
	alertCurrent   float64
	alertThreshold float64
	alertDirection string
)

var simulateAlertCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Feed a price pair through the alert system and configured channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alertPrevious <= 0 || alertCurrent <= 0 {
			return errors.New("--previous and --current must be greater than zero")
		}

		opts := app.AlertOptions{
			Token:        alertToken,
			Previous:     alertPrevious,
			Current:      alertCurrent,
			ThresholdPct: alertThreshold,
			Direction:    alertDirection,
		}

		_, err := getApp().SimulateAlert(cmd.Context(), opts)
		return err
	},
}

func init() {
	simulateAlertCmd.Flags().StringVar(&alertToken, "token", "", "Token symbol (defaults to config)")
	simulateAlertCmd.Flags().Float64Var(&alertPrevious, "previous", 0, "Reference price")
	simulateAlertCmd.Flags().Float64Var(&alertCurrent, "current", 0, "Current price")
	simulateAlertCmd.Flags().Float64Var(&alertThreshold, "threshold-pct", 0, "Alert threshold in percent (defaults to config)")
	simulateAlertCmd.Flags().StringVar(&alertDirection, "direction", "both", "up, down or both")
}
