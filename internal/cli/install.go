package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ppiankov/invigil/internal/config"
	"github.com/ppiankov/invigil/internal/integrity"
	"github.com/ppiankov/invigil/internal/systemd"
)

const defaultUnitDir = "/etc/systemd/system"

var (
	installUnitDir  string
	installStateDir string
	installConfig   string
	installForce    bool
)

func init() {
	rootCmd.AddCommand(installCmd)
	installCmd.Flags().StringVar(&installUnitDir, "unit-dir", defaultUnitDir, "Directory for systemd unit files")
	installCmd.Flags().StringVar(&installStateDir, "state-dir", "/var/lib/invigil", "Directory for install baselines")
	installCmd.Flags().StringVar(&installConfig, "config", config.DefaultPath, "Config file to create")
	installCmd.Flags().BoolVar(&installForce, "force", false, "Overwrite an existing config file")
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install systemd units, default config and integrity baselines",
	Long: `Writes hardened systemd units for the daemon and the agent, a default
config file if none exists, the binary checksum used by the integrity
self-check, and the unit-file hash baseline the daemon verifies at
start.

Run as root. Afterwards:
  systemctl enable --now invigil invigil-agent`,
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("install is only supported on Linux")
	}
	systemDirs := installUnitDir == defaultUnitDir
	if systemDirs && os.Geteuid() != 0 {
		return fmt.Errorf("install requires root; run with sudo")
	}

	for _, dir := range []string{installUnitDir, installStateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	var created []string

	// Unit files refresh on every install so upgrades pick up changes.
	units := []struct{ path, content string }{
		{filepath.Join(installUnitDir, "invigil.service"), systemd.DaemonUnit()},
		{filepath.Join(installUnitDir, "invigil-agent.service"), systemd.AgentUnit()},
	}
	unitPaths := make([]string, 0, len(units))
	for _, u := range units {
		if err := os.WriteFile(u.path, []byte(u.content), 0o644); err != nil {
			return fmt.Errorf("write unit: %w", err)
		}
		created = append(created, u.path)
		unitPaths = append(unitPaths, u.path)
	}

	// Baseline for the unit-tamper check the daemon runs at start.
	systemd.UnitFilePaths = unitPaths
	systemd.UnitHashPath = filepath.Join(installStateDir, "unit-files.sha256")
	if err := systemd.RecordUnitFileHashes(); err != nil {
		return err
	}
	created = append(created, systemd.UnitHashPath)

	// Never clobber a site's config edits without --force.
	if wrote, err := writeIfMissing(installConfig, config.DefaultYAML()); err != nil {
		return err
	} else if wrote {
		created = append(created, installConfig)
	}

	// Binary checksum for the integrity self-check.
	hash, err := integrity.HashSelf()
	if err != nil {
		return fmt.Errorf("hash binary: %w", err)
	}
	checksumPath := integrity.ChecksumPaths[0]
	if err := os.MkdirAll(filepath.Dir(checksumPath), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(checksumPath), err)
	}
	if err := os.WriteFile(checksumPath, []byte(hash+"\n"), 0o644); err != nil {
		return fmt.Errorf("write checksum: %w", err)
	}
	created = append(created, checksumPath)

	if systemDirs {
		if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: systemctl daemon-reload failed: %v\n", err)
		}
	}

	fmt.Println("invigil install complete.")
	fmt.Println()
	fmt.Println("Created:")
	for _, path := range created {
		fmt.Printf("  %s\n", path)
	}
	fmt.Println()
	fmt.Println("Enable and start:")
	fmt.Println("  systemctl enable --now invigil invigil-agent")
	fmt.Println()
	fmt.Println("Check:")
	fmt.Println("  invigil status")

	return nil
}

// writeIfMissing writes content to path unless it exists and --force
// is unset. Returns true if the file was written.
func writeIfMissing(path, content string) (bool, error) {
	if !installForce {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
