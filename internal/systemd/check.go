package systemd

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// UnitFilePaths are the unit files the installer writes and the daemon
// verifies at start.
var UnitFilePaths = []string{
	"/etc/systemd/system/invigil.service",
	"/etc/systemd/system/invigil-agent.service",
}

// UnitHashPath is where the install-time hashes of the unit files are
// stored, one "hash  path" line per unit (sha256sum format).
var UnitHashPath = "/var/lib/invigil/unit-files.sha256"

// CheckUnitFiles compares every installed unit file against the hash
// recorded at install time. It returns one warning per modified or
// unreadable unit, or nil when everything matches or no baseline
// exists (first install, or not running under systemd).
func CheckUnitFiles() []string {
	baseline, err := os.ReadFile(UnitHashPath)
	if err != nil {
		return nil
	}

	expected := make(map[string]string)
	for _, line := range strings.Split(string(baseline), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || len(fields[0]) != 64 {
			continue
		}
		expected[fields[1]] = fields[0]
	}
	if len(expected) == 0 {
		return nil
	}

	var warnings []string
	for _, path := range UnitFilePaths {
		want, ok := expected[path]
		if !ok {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("unit file %s recorded at install time is now unreadable: %v", path, err))
			continue
		}
		h := sha256.Sum256(data)
		got := hex.EncodeToString(h[:])
		if got != want {
			warnings = append(warnings, fmt.Sprintf("unit file %s has been modified since installation (expected %s, got %s)",
				path, want[:16], got[:16]))
		}
	}
	return warnings
}

// RecordUnitFileHashes writes the SHA-256 of every installed unit file
// to UnitHashPath. The installer calls this to set the baseline; units
// that do not exist are skipped. An error is returned when no unit
// file could be hashed at all.
func RecordUnitFileHashes() error {
	var b strings.Builder
	hashed := 0
	for _, path := range UnitFilePaths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		h := sha256.Sum256(data)
		fmt.Fprintf(&b, "%s  %s\n", hex.EncodeToString(h[:]), path)
		hashed++
	}
	if hashed == 0 {
		return fmt.Errorf("systemd: no unit file found at %s", strings.Join(UnitFilePaths, " or "))
	}
	if err := os.WriteFile(UnitHashPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("systemd: write unit hash baseline: %w", err)
	}
	return nil
}
