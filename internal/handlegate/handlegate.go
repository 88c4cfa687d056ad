// Package handlegate implements the handle-interception decision:
// handle requests targeting a protected process lose the rights that
// could kill, suspend or inject into it. The request itself always
// succeeds, with a reduced capability mask.
//
// Evaluate reads only atomics. It is safe to call from the most
// restrictive context a host interception facility provides.
package handlegate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ppiankov/invigil/internal/state"
)

// Rights is the access mask carried on a handle request. Values follow
// the host convention for process and thread objects.
type Rights uint32

const (
	ProcessTerminate     Rights = 0x0001
	ProcessCreateThread  Rights = 0x0002
	ProcessVmOperation   Rights = 0x0008
	ProcessVmWrite       Rights = 0x0020
	ProcessSuspendResume Rights = 0x0800

	ThreadTerminate     Rights = 0x0001
	ThreadSuspendResume Rights = 0x0002
	ThreadSetContext    Rights = 0x0010
)

// StrippedProcessRights is removed from third-party requests for a
// handle to a protected process.
const StrippedProcessRights = ProcessTerminate | ProcessVmWrite | ProcessVmOperation |
	ProcessCreateThread | ProcessSuspendResume

// StrippedThreadRights is removed from third-party requests for a handle
// to a thread owned by a protected process.
const StrippedThreadRights = ThreadTerminate | ThreadSuspendResume | ThreadSetContext

// Object distinguishes what the requested handle refers to.
type Object uint8

const (
	ObjectProcess Object = iota
	ObjectThread
)

// Op distinguishes handle creation from duplication. Both are gated.
type Op uint8

const (
	OpCreate Op = iota
	OpDuplicate
)

// Request describes one handle operation. OwnerPid is the process that
// owns the target object; for a thread object that is the process the
// thread belongs to. CallerPid is the process making the request.
type Request struct {
	Object    Object
	Op        Op
	OwnerPid  uint32
	CallerPid uint32
	Desired   Rights
}

// ErrNoFacility reports that the host offers no handle interception
// hook. The daemon starts degraded in that case: the gate stays
// evaluable for tests and future adapters but intercepts nothing.
var ErrNoFacility = errors.New("no handle interception facility on this host")

// Source delivers handle operations from a host interception facility.
// eval returns the rights the host should grant for each request.
type Source interface {
	Attach(ctx context.Context, eval func(Request) Rights) error
}

// Gate evaluates handle requests against the protected identity slots.
type Gate struct {
	st       *state.State
	stripped atomic.Uint64
}

// New creates a gate over the shared enforcement state.
func New(st *state.State) *Gate {
	return &Gate{st: st}
}

// Evaluate returns the rights to grant for req, stripping the dangerous
// set when a third party targets a protected process. Unset slots, an
// unprotected target, or a protected caller (self-management, including
// the service managing the overlay and vice versa) pass the mask
// through unchanged.
func (g *Gate) Evaluate(req Request) Rights {
	svcPid, svcOk := g.st.Service()
	uiPid, uiOk := g.st.Overlay()
	if !svcOk && !uiOk {
		return req.Desired
	}

	targetProtected := (svcOk && req.OwnerPid == svcPid) || (uiOk && req.OwnerPid == uiPid)
	if !targetProtected {
		return req.Desired
	}

	callerProtected := (svcOk && req.CallerPid == svcPid) || (uiOk && req.CallerPid == uiPid)
	if callerProtected {
		return req.Desired
	}

	g.stripped.Add(1)
	if req.Object == ObjectThread {
		return req.Desired &^ StrippedThreadRights
	}
	return req.Desired &^ StrippedProcessRights
}

// Stripped reports how many requests had rights removed.
func (g *Gate) Stripped() uint64 { return g.stripped.Load() }

// Attach connects the gate to a host interception source and records
// gate health in the shared state. A nil source is the degraded path:
// health goes down and ErrNoFacility comes back for the caller to log.
func (g *Gate) Attach(ctx context.Context, src Source) error {
	if src == nil {
		g.st.SetProcessGateUp(false)
		return ErrNoFacility
	}
	if err := src.Attach(ctx, g.Evaluate); err != nil {
		g.st.SetProcessGateUp(false)
		return fmt.Errorf("attach handle source: %w", err)
	}
	g.st.SetProcessGateUp(true)
	return nil
}
