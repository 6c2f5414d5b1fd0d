package cli

import (
	"time"

	"github.com/spf13/cobra"

	"otc-risk-shield/internal/app"
)

var (
	batchTokens    []string
	batchDelays    []time.Duration
	batchAmount    float64
	batchThreshold float64
	batchOutput    string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Compare front-running exposure across tokens and delays",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BatchOptions{
			Tokens:     batchTokens,
			Delays:     batchDelays,
			Amount:     batchAmount,
			Threshold:  batchThreshold,
			OutputPath: batchOutput,
		}

		_, err := getApp().Batch(cmd.Context(), opts)
		return err
	},
}

func init() {
	batchCmd.Flags().StringSliceVar(&batchTokens, "tokens", nil, "Tokens to compare (defaults to config)")
	batchCmd.Flags().DurationSliceVar(&batchDelays, "delays", nil, "Delays to compare (defaults to config)")
	batchCmd.Flags().Float64Var(&batchAmount, "amount", 0, "Order size in token units (defaults to config)")
	batchCmd.Flags().Float64Var(&batchThreshold, "threshold", 0, "Risk threshold as a fraction (defaults to config)")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "Path to write the JSON report")
}
