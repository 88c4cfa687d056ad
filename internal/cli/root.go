// Package cli implements the invigil command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/invigil/internal/integrity"
	"github.com/ppiankov/invigil/sdk/go/invigil"
)

var rootSocket string

var rootCmd = &cobra.Command{
	Use:   "invigil",
	Short: "Tamper-resistant enforcement for supervised workstations",
	Long: "Protects the monitoring agent from termination, patching and removal.\n" +
		"The serve subcommand runs the enforcement daemon; the remaining\n" +
		"subcommands speak the control protocol over its unix socket.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := integrity.Verify(); err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(78) // EX_CONFIG
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootSocket, "socket", "",
		"Control socket path (default "+invigil.DefaultSocketPath+")")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// dial connects to the daemon's control socket.
func dial() (*invigil.Client, error) {
	c, err := invigil.Dial(rootSocket)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w (is 'invigil serve' running?)", err)
	}
	return c, nil
}
