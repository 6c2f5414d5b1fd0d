package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"otc-risk-shield/internal/app"
)

var (
	exportFrom      string
	exportTo        string
	exportWindow    time.Duration
	exportToken     string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export persisted trials as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			Window:    exportWindow,
			Token:     exportToken,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		for _, bound := range []struct {
			flag  string
			value string
			dst   **time.Time
		}{
			{"--from", exportFrom, &opts.From},
			{"--to", exportTo, &opts.To},
		} {
			if bound.value == "" {
				continue
			}
			ts, err := time.Parse(time.RFC3339, bound.value)
			if err != nil {
				return fmt.Errorf("invalid %s value: %w", bound.flag, err)
			}
			*bound.dst = &ts
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start timestamp (RFC3339, inclusive; overrides --window)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End timestamp (RFC3339, exclusive; default now)")
	exportCmd.Flags().DurationVar(&exportWindow, "window", 24*time.Hour, "Lookback from --to when --from is omitted")
	exportCmd.Flags().StringVar(&exportToken, "token", "", "Only export trials for this token")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write the risk chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write trial rows")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum trials to export (defaults to config)")
}
