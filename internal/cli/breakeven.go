package cli

import (
	"time"

	"github.com/spf13/cobra"

	"otc-risk-shield/internal/app"
)

var (
	breakEvenToken  string
	breakEvenAmount float64
	breakEvenPrice  float64
	breakEvenDelay  time.Duration
)

var breakEvenCmd = &cobra.Command{
	Use:   "breakeven",
	Short: "Report the price move a front-runner needs to cover costs",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BreakEvenOptions{
			Token:  breakEvenToken,
			Amount: breakEvenAmount,
			Price:  breakEvenPrice,
			Delay:  breakEvenDelay,
		}

		_, err := getApp().BreakEven(cmd.Context(), opts)
		return err
	},
}

func init() {
	breakEvenCmd.Flags().StringVar(&breakEvenToken, "token", "", "Token symbol (defaults to config)")
	breakEvenCmd.Flags().Float64Var(&breakEvenAmount, "amount", 0, "Order size in token units (defaults to config)")
	breakEvenCmd.Flags().Float64Var(&breakEvenPrice, "price", 0, "Entry price; fetched live when omitted")
	breakEvenCmd.Flags().DurationVar(&breakEvenDelay, "delay", 0, "Execution delay (defaults to config)")
}
