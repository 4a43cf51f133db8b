package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the release version, set at build time via ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the refrab version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "refrab %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
