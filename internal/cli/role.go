package cli

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"
)

var (
	roleSession uint32
	roleSID     string
)

func init() {
	rootCmd.AddCommand(roleCmd)
	roleCmd.Flags().Uint32Var(&roleSession, "session", 0, "Logon session id")
	roleCmd.Flags().StringVar(&roleSID, "sid", "", "User security identifier (default: current uid)")
}

var roleCmd = &cobra.Command{
	Use:   "role <student|teacher|admin>",
	Short: "Push the active user role",
	Long: "Pushes the role of the user at this seat. The push is accepted\n" +
		"from any caller until a service registers; afterwards only the\n" +
		"protected service may change the role.",
	Args: cobra.ExactArgs(1),
	RunE: runRole,
}

func runRole(cmd *cobra.Command, args []string) error {
	sid := roleSID
	if sid == "" {
		if u, err := user.Current(); err == nil {
			sid = u.Uid
		}
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.SetUserRole(args[0], roleSession, sid); err != nil {
		return err
	}
	fmt.Printf("role %s pushed (session %d)\n", args[0], roleSession)
	return nil
}
