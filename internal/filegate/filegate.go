// Package filegate implements the anti-delete and anti-rename decision
// for the agent's install footprint. It evaluates pre-operation
// set-file-information requests: recognized deletion and rename classes
// against a protected filename are denied before any lower handler
// runs; everything else passes through untouched.
package filegate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/protocol"
	"github.com/ppiankov/invigil/internal/state"
)

// ProtectedNames is the fixed set of filenames the gate defends:
// the daemon, the lock agent, and the lock-screen overlay. Matching is
// against the final path component, case-insensitive.
var ProtectedNames = [3]string{"invigil", "invigil-agent", "invigil-ui"}

// InfoClass identifies a set-file-information operation class. Values
// follow the host convention.
type InfoClass uint32

const (
	InfoRename        InfoClass = 10
	InfoDisposition   InfoClass = 13
	InfoDispositionEx InfoClass = 64
	InfoRenameEx      InfoClass = 65
)

// Operation is one pre-operation set-information request. Delete is the
// disposition flag carried by the basic class; the extended class
// implies deletion regardless.
type Operation struct {
	Class     InfoClass
	Path      string
	Delete    bool
	CallerPid uint32
}

// Verdict is the gate's answer for one operation.
type Verdict uint8

const (
	// Pass hands the operation to the lower handler unchanged.
	Pass Verdict = iota
	// Deny completes the operation with access denied; no lower handler
	// runs.
	Deny
)

// ErrNoFacility reports that the host offers no pre-operation veto hook.
var ErrNoFacility = errors.New("no filesystem veto facility on this host")

// Source delivers set-information operations from a host facility that
// can honor a veto.
type Source interface {
	Attach(ctx context.Context, eval func(Operation) Verdict) error
}

// Gate evaluates set-information operations against the protected
// filename set.
type Gate struct {
	raiser alerts.Raiser
	denied atomic.Uint64
}

// New creates a gate. A nil raiser gets the no-op default.
func New(raiser alerts.Raiser) *Gate {
	if raiser == nil {
		raiser = alerts.Discard
	}
	return &Gate{raiser: raiser}
}

// Evaluate decides one operation. Unrecognized classes, a basic
// disposition without its delete flag, and unprotected targets all
// pass. A recognized deletion or rename of a protected name is denied
// and raises a file-tamper alert.
func (g *Gate) Evaluate(op Operation) Verdict {
	var deletion, rename bool
	switch op.Class {
	case InfoDisposition:
		deletion = op.Delete
	case InfoDispositionEx:
		deletion = true
	case InfoRename, InfoRenameEx:
		rename = true
	default:
		return Pass
	}
	if !deletion && !rename {
		return Pass
	}

	if !IsProtectedName(filepath.Base(op.Path)) {
		return Pass
	}

	what := "rename"
	if deletion {
		what = "deletion"
	}
	g.denied.Add(1)
	fmt.Fprintf(os.Stderr, "filegate: blocked %s of %s\n", what, op.Path)
	g.raiser.Raise(alerts.New(protocol.AlertFileTamper, op.CallerPid,
		fmt.Sprintf("blocked %s of %s", what, op.Path)))
	return Deny
}

// Denied reports how many operations the gate has blocked.
func (g *Gate) Denied() uint64 { return g.denied.Load() }

// Attach connects the gate to a host veto facility and records gate
// health. A nil source is the degraded path: the caller logs the
// warning and typically falls back to the detection-only tamper
// watcher.
func (g *Gate) Attach(ctx context.Context, src Source, st *state.State) error {
	if src == nil {
		st.SetFileGateUp(false)
		return ErrNoFacility
	}
	if err := src.Attach(ctx, g.Evaluate); err != nil {
		st.SetFileGateUp(false)
		return fmt.Errorf("attach file source: %w", err)
	}
	st.SetFileGateUp(true)
	return nil
}

// IsProtectedName reports whether name matches a protected filename,
// ignoring case.
func IsProtectedName(name string) bool {
	for _, p := range ProtectedNames {
		if strings.EqualFold(name, p) {
			return true
		}
	}
	return false
}
