package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stealthFlags []string

func init() {
	rootCmd.AddCommand(stealthCmd)
	stealthCmd.Flags().StringSliceVar(&stealthFlags, "flag", nil,
		"Stealth flag: suppress_indicator, hide_from_enumeration, cloak_duplication (repeatable)")
}

var stealthCmd = &cobra.Command{
	Use:   "stealth <on|off>",
	Short: "Toggle exam-mode stealth",
	Long: "Toggles the stealth posture applied during proctored sessions.\n" +
		"The daemon accepts the toggle only from the registered service\n" +
		"process and applies the selected cloak hooks where the host\n" +
		"provides them.",
	Args: cobra.ExactArgs(1),
	RunE: runStealth,
}

func runStealth(cmd *cobra.Command, args []string) error {
	enable, err := parseOnOff(args[0])
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Stealth(enable, stealthFlags); err != nil {
		return err
	}
	if enable {
		fmt.Printf("stealth engaged (%d flags)\n", len(stealthFlags))
	} else {
		fmt.Println("stealth released")
	}
	return nil
}
