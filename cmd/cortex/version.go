package cortex

import (
	"fmt"

	"github.com/spf13/cobra"

	cortexpkg "github.com/soundprediction/go-cortex"
)

var (
	// Set by build flags in release builds.
	commit    = "unknown"
	buildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Cortex\n")
		fmt.Printf("Version:    %s\n", cortexpkg.Version)
		fmt.Printf("Commit:     %s\n", commit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
