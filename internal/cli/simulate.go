package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"otc-risk-shield/internal/app"
)

var (
	simulateToken      string
	simulateAmount     float64
	simulateDelay      time.Duration
	simulateThreshold  float64
	simulateIterations int
	simulateOutput     string
	simulateSave       bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate a delayed OTC order and estimate its front-running exposure",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateIterations < 0 {
			return fmt.Errorf("--iterations cannot be negative")
		}

		opts := app.SimulateOptions{
			Token:      simulateToken,
			Amount:     simulateAmount,
			Delay:      simulateDelay,
			Threshold:  simulateThreshold,
			Iterations: simulateIterations,
			OutputPath: simulateOutput,
			Save:       simulateSave,
		}

		_, err := getApp().Simulate(cmd.Context(), opts)
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateToken, "token", "", "Token symbol (defaults to config)")
	simulateCmd.Flags().Float64Var(&simulateAmount, "amount", 0, "Order size in token units (defaults to config)")
	simulateCmd.Flags().DurationVar(&simulateDelay, "delay", 0, "Execution delay to sample over (defaults to config)")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "Risk threshold as a fraction, e.g. 0.01 (defaults to config)")
	simulateCmd.Flags().IntVar(&simulateIterations, "iterations", 1, "Number of sequential trials")
	simulateCmd.Flags().StringVar(&simulateOutput, "output", "", "Path to write the JSON report")
	simulateCmd.Flags().BoolVar(&simulateSave, "save", false, "Persist trials to the database")
}
