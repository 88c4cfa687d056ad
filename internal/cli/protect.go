package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var (
	protectUI      bool
	protectRelease bool
)

func init() {
	rootCmd.AddCommand(protectCmd)
	protectCmd.Flags().BoolVar(&protectUI, "ui", false, "Fill the lock-screen overlay slot instead of the service slot")
	protectCmd.Flags().BoolVar(&protectRelease, "release", false, "Release the overlay slot (only with --ui)")
}

var protectCmd = &cobra.Command{
	Use:   "protect <pid>",
	Short: "Register a process for protection",
	Long: "Registers pid as the protected service process. Registration is\n" +
		"open until a service holds the slot; replacing it afterwards is\n" +
		"also a registration.\n\n" +
		"With --ui the pid fills the overlay slot instead; the daemon\n" +
		"accepts overlay changes only from the registered service process.",
	Args: cobra.ExactArgs(1),
	RunE: runProtect,
}

func runProtect(cmd *cobra.Command, args []string) error {
	if protectRelease && !protectUI {
		return fmt.Errorf("--release applies only to the overlay slot (use --ui)")
	}
	pid, err := parsePid(args[0])
	if err != nil {
		return err
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if protectUI {
		if err := c.ProtectUI(pid, !protectRelease); err != nil {
			return err
		}
		if protectRelease {
			fmt.Printf("overlay pid %d released\n", pid)
		} else {
			fmt.Printf("overlay pid %d protected\n", pid)
		}
		return nil
	}

	if err := c.ProtectPid(pid); err != nil {
		return err
	}
	fmt.Printf("service pid %d protected\n", pid)
	return nil
}

func parsePid(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid pid %q", s)
	}
	return uint32(v), nil
}
