package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"otc-risk-shield/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\ngo: %s\n", version.String(), runtime.Version())
	},
}
