package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/invigil/internal/config"
)

var bannedConfig string

func init() {
	rootCmd.AddCommand(bannedCmd)
	bannedCmd.Flags().StringVar(&bannedConfig, "config", "", "Config file path (default "+config.DefaultPath+")")
}

var bannedCmd = &cobra.Command{
	Use:   "banned [name ...]",
	Short: "Replace the banned application list",
	Long: "Replaces the daemon's banned application list with the given names,\n" +
		"or with the config file's agent.banned_apps section when none are\n" +
		"given. An empty list clears it. The daemon accepts the push only\n" +
		"from the registered service process.",
	RunE: runBanned,
}

func runBanned(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		cfg, err := config.Load(bannedConfig)
		if err != nil {
			return err
		}
		names = cfg.Agent.BannedApps
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.SetBannedApps(names); err != nil {
		return err
	}
	fmt.Printf("banned list replaced (%d names)\n", len(names))
	return nil
}
