package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/invigil/internal/console"
)

var (
	alertsLimit   int
	alertsConsole string
	alertsDrain   bool
	alertsJSON    bool
)

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.Flags().IntVarP(&alertsLimit, "limit", "n", 20, "Number of recent alerts to show")
	alertsCmd.Flags().StringVar(&alertsConsole, "console", "127.0.0.1:7411", "Operator console address")
	alertsCmd.Flags().BoolVar(&alertsDrain, "drain", false, "Pop pending alerts over the control socket instead of querying the console")
	alertsCmd.Flags().BoolVar(&alertsJSON, "json", false, "Output as JSON")
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show raised alerts",
	Long: "Queries the operator console for stored alert history.\n\n" +
		"With --drain the daemon's pending queue is read destructively over\n" +
		"the control socket instead; a running agent competes for the same\n" +
		"queue, so draining is for setups without one.",
	RunE: runAlerts,
}

func runAlerts(cmd *cobra.Command, args []string) error {
	if alertsDrain {
		return drainAlerts()
	}
	return consoleAlerts()
}

func consoleAlerts() error {
	client := &http.Client{Timeout: 5 * time.Second}
	url := fmt.Sprintf("http://%s/api/alerts?limit=%d", alertsConsole, alertsLimit)
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("query console: %w (is invigil-agent running?)", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query console: %s", resp.Status)
	}

	var stored []console.StoredAlert
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return fmt.Errorf("decode console response: %w", err)
	}

	if alertsJSON {
		out, err := json.MarshalIndent(stored, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(stored) == 0 {
		fmt.Println("no alerts recorded")
		return nil
	}
	for _, a := range stored {
		fmt.Printf("%s  %-20s pid %-7d %s\n", a.RaisedAt.Format(time.RFC3339), a.Type, a.SourcePid, a.Detail)
	}
	return nil
}

func drainAlerts() error {
	c, err := dial()
	if err != nil {
		return err
	}
	defer c.Close()

	drained := 0
	for {
		alert, ok, err := c.ReadAlert()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		drained++
		fmt.Printf("%s  %-20s pid %-7d %s\n", alert.Time.Format(time.RFC3339), alert.Type, alert.SourcePid, alert.Detail)
	}
	if drained == 0 {
		fmt.Println("no alerts pending")
	}
	return nil
}
