package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's enforcement snapshot",
	Long: "Performs one heartbeat round against the daemon and prints the\n" +
		"returned snapshot. The round itself counts as an agent check-in\n" +
		"for the liveness watchdog.",
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	st, err := c.Heartbeat()
	if err != nil {
		return err
	}

	if statusJSON {
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	protectedPid := "none registered"
	if st.ProtectedPid != 0 {
		protectedPid = fmt.Sprintf("%d", st.ProtectedPid)
	}
	policy := "none pushed"
	if st.PolicyValid {
		policy = "valid"
	}

	fmt.Printf("protocol version    %s\n", st.Version)
	fmt.Printf("protected pid       %s\n", protectedPid)
	fmt.Printf("process protection  %s\n", gateHealth(st.ProcessProtection))
	fmt.Printf("file protection     %s\n", gateHealth(st.FileProtection))
	fmt.Printf("unlock permitted    %s\n", yesNo(st.UnlockPermitted))
	fmt.Printf("failed unlocks      %d\n", st.FailedUnlockAttempts)
	fmt.Printf("user role           %s\n", st.Role)
	fmt.Printf("policy              %s\n", policy)
	return nil
}

func gateHealth(up bool) string {
	if up {
		return "active"
	}
	return "degraded"
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
