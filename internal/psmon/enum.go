package psmon

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot describes one running process.
type Snapshot struct {
	Pid   uint32
	Image string // executable path, or bare name when the path is unreadable
}

// Enumerator lists running processes and can kill them.
type Enumerator interface {
	Snapshot() ([]Snapshot, error)
	Kill(pid uint32) error
}

// GopsutilEnumerator reads the live process table.
type GopsutilEnumerator struct{}

// Snapshot returns every visible process. Processes whose image cannot
// be resolved at all (usually exited mid-scan) are skipped.
func (GopsutilEnumerator) Snapshot() ([]Snapshot, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("psmon: list processes: %w", err)
	}

	out := make([]Snapshot, 0, len(procs))
	for _, p := range procs {
		image, err := p.Exe()
		if err != nil || image == "" {
			// Kernel threads and foreign-user processes hide the
			// executable path; the bare name still matches the
			// banned set.
			image, err = p.Name()
			if err != nil || image == "" {
				continue
			}
		}
		out = append(out, Snapshot{Pid: uint32(p.Pid), Image: image})
	}
	return out, nil
}

// Kill terminates the given pid.
func (GopsutilEnumerator) Kill(pid uint32) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return fmt.Errorf("psmon: pid %d: %w", pid, err)
	}
	return p.Kill()
}
