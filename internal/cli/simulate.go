package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/invigil/internal/sim"
)

var (
	simScenario string
	simFormat   string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simScenario, "scenario", "", "Path to scenario YAML (default: built-in demonstration)")
	simulateCmd.Flags().StringVarP(&simFormat, "format", "f", "text", "Output format (text|json)")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay synthetic events through the enforcement gates",
	Long: "Assembles an enforcement state from a scenario file and replays its\n" +
		"handle, file and launch events through the gates, printing every\n" +
		"verdict. No daemon is involved; this exercises the same decision\n" +
		"code the daemon runs, including the gates no host facility feeds.",
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	scn := sim.Default()
	if simScenario != "" {
		loaded, err := sim.Load(simScenario)
		if err != nil {
			return err
		}
		scn = loaded
	}

	result, err := sim.Run(scn)
	if err != nil {
		return err
	}

	switch simFormat {
	case "json":
		out, err := sim.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	default:
		fmt.Print(sim.FormatText(result))
	}

	return nil
}
