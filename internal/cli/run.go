package cli

import (
	"github.com/spf13/cobra"
)

// runCmd blocks until interrupted; rounds are skipped while another instance holds the advisory lock.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run scheduled multi-token monitoring rounds and serve metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}
