package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(lockCmd)
}

var lockCmd = &cobra.Command{
	Use:   "lock <on|off>",
	Short: "Engage or release the hard input lock",
	Long: "Toggles the hard lock that blocks workstation input while the\n" +
		"lock screen is up. The daemon accepts the toggle only from the\n" +
		"registered service process.",
	Args: cobra.ExactArgs(1),
	RunE: runLock,
}

func runLock(cmd *cobra.Command, args []string) error {
	enable, err := parseOnOff(args[0])
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.HardLock(enable); err != nil {
		return err
	}
	if enable {
		fmt.Println("hard lock engaged")
	} else {
		fmt.Println("hard lock released")
	}
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid argument %q, want on or off", s)
	}
}
