package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/invigil/internal/config"
	"github.com/ppiankov/invigil/sdk/go/invigil"
)

var (
	policyConfig   string
	policyFlags    []string
	policyOU       string
	policyRoles    []string
	policyInterval time.Duration
	policyTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.Flags().StringVar(&policyConfig, "config", "", "Config file path (default "+config.DefaultPath+")")
	policyCmd.Flags().StringSliceVar(&policyFlags, "flag", nil, "Policy flag (repeatable; overrides config)")
	policyCmd.Flags().StringVar(&policyOU, "ou", "", "Organizational unit (overrides config)")
	policyCmd.Flags().StringSliceVar(&policyRoles, "allow-role", nil, "Allowed role (repeatable; overrides config)")
	policyCmd.Flags().DurationVar(&policyInterval, "interval", 0, "Heartbeat interval (overrides config)")
	policyCmd.Flags().DurationVar(&policyTimeout, "timeout", 0, "Heartbeat timeout (overrides config)")
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Push the enforcement policy",
	Long: "Builds the policy record from the config file's agent.policy section,\n" +
		"applies any flag overrides, and pushes it to the daemon. The push is\n" +
		"accepted from any caller until a service registers; afterwards only\n" +
		"the protected service may replace the policy.",
	RunE: runPolicy,
}

func runPolicy(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(policyConfig)
	if err != nil {
		return err
	}

	section := cfg.Agent.Policy
	if policyFlags != nil {
		section.Flags = policyFlags
	}
	if policyOU != "" {
		section.OrganizationalUnit = policyOU
	}
	if policyRoles != nil {
		section.AllowedRoles = policyRoles
	}
	if policyInterval > 0 {
		section.HeartbeatIntervalMs = int(policyInterval / time.Millisecond)
	}
	if policyTimeout > 0 {
		section.HeartbeatTimeoutMs = int(policyTimeout / time.Millisecond)
	}

	p := invigil.Policy{
		Flags:              section.Flags,
		HeartbeatInterval:  section.Interval(),
		HeartbeatTimeout:   time.Duration(section.HeartbeatTimeoutMs) * time.Millisecond,
		OrganizationalUnit: section.OrganizationalUnit,
		AllowedRoles:       section.AllowedRoles,
	}

	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.SetPolicy(p); err != nil {
		return err
	}
	fmt.Printf("policy pushed (%d flags, %d allowed roles, heartbeat %s timeout %s)\n",
		len(p.Flags), len(p.AllowedRoles), p.HeartbeatInterval, p.HeartbeatTimeout)
	return nil
}
