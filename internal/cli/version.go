package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/invigil/internal/protocol"
)

const version = "1.1.0"

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("invigil %s (control protocol %d.%d, %s/%s)\n",
			version, protocol.VersionMajor, protocol.VersionMinor,
			runtime.GOOS, runtime.GOARCH)
	},
}
