package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"otc-risk-shield/internal/app"
)

var showOpts = app.ShowOptions{}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent trials or alert events",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showOpts.Limit <= 0 {
			return errors.New("--limit must be greater than zero")
		}
		return getApp().Show(cmd.Context(), showOpts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showOpts.Limit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showOpts.Alerts, "alerts", false, "Show alert events instead of trials")
	showCmd.Flags().StringVar(&showOpts.Token, "token", "", "Only show trials for this token")
}
