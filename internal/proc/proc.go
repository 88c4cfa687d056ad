// Package proc resolves numeric process identifiers into owned process
// references. A Ref pins the identity it was opened against (on Linux
// through a pidfd), so a recycled PID can never be mistaken for the
// process that was registered. Every Ref is released exactly once.
package proc

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrNotFound reports that no process with the requested identifier
// exists.
var ErrNotFound = errors.New("proc: no such process")

// Ref is an owned reference to a process identity.
type Ref struct {
	pid    uint32
	fd     int
	closed atomic.Bool
}

// Pid returns the identifier the reference was opened against.
func (r *Ref) Pid() uint32 {
	return r.pid
}

// Close releases the underlying handle. The first call wins; later
// calls and calls on a nil receiver are no-ops.
func (r *Ref) Close() error {
	if r == nil || r.closed.Swap(true) {
		return nil
	}
	if r.fd >= 0 {
		if err := unix.Close(r.fd); err != nil {
			return fmt.Errorf("proc: close pidfd for %d: %w", r.pid, err)
		}
	}
	return nil
}

// Lookup resolves a PID to an owned reference.
type Lookup interface {
	Open(pid uint32) (*Ref, error)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(pid uint32) (*Ref, error)

func (f LookupFunc) Open(pid uint32) (*Ref, error) {
	return f(pid)
}

// PidfdLookup opens references through pidfd_open(2).
type PidfdLookup struct{}

func (PidfdLookup) Open(pid uint32) (*Ref, error) {
	fd, err := unix.PidfdOpen(int(pid), 0)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("proc: pidfd_open %d: %w", pid, err)
	}
	return &Ref{pid: pid, fd: fd}, nil
}

// StaticRef returns a reference that pins no operating-system resource.
// Hosts whose lookup facility works purely on identifiers use it, as do
// tests.
func StaticRef(pid uint32) *Ref {
	return &Ref{pid: pid, fd: -1}
}

// StaticLookup resolves every PID to a StaticRef. It never fails.
type StaticLookup struct{}

func (StaticLookup) Open(pid uint32) (*Ref, error) {
	return StaticRef(pid), nil
}
