// Package bridge is the single dispatch point for caller-issued control
// requests. Every opcode goes through the same gauntlet: payload-size
// check against the opcode's fixed layout, speculation barrier, caller
// authorization, then the handler. Handlers mutate the shared
// enforcement record and never talk to the transport; the socket server
// in this package frames requests and responses around Dispatch.
//
// Two authorization grades exist. Unlock, SetUserRole and SetPolicy are
// denied only when a service is registered and the caller is someone
// else, so the agent can reach them during the bootstrap window before
// its first ProtectPid. HardLock, ProtectUi, Stealth and SetBannedApps
// require the registered service; with none registered they are denied
// outright.
package bridge

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/barrier"
	"github.com/ppiankov/invigil/internal/hooks"
	"github.com/ppiankov/invigil/internal/journal"
	"github.com/ppiankov/invigil/internal/proc"
	"github.com/ppiankov/invigil/internal/protocol"
	"github.com/ppiankov/invigil/internal/state"
	"github.com/ppiankov/invigil/internal/unlock"
)

// Config assembles the dispatcher's collaborators. State is required;
// everything else has a working default or degrades to a safe no-op.
type Config struct {
	State  *state.State
	Lookup proc.Lookup           // nil = pidfd lookup
	Auth   *unlock.Authenticator // nil denies every unlock attempt
	Queue  *alerts.Queue         // nil = no pending alerts
	Jnl    *journal.Journal      // nil disables command journaling
	Input  hooks.InputFilter     // nil = no-op
	Cloak  hooks.CaptureCloak    // nil = no-op
}

// Bridge executes control requests against the enforcement record.
type Bridge struct {
	st     *state.State
	lookup proc.Lookup
	auth   *unlock.Authenticator
	queue  *alerts.Queue
	jnl    *journal.Journal
	input  hooks.InputFilter
	cloak  hooks.CaptureCloak

	now func() time.Time
}

// New builds a Bridge from cfg.
func New(cfg Config) *Bridge {
	b := &Bridge{
		st:     cfg.State,
		lookup: cfg.Lookup,
		auth:   cfg.Auth,
		queue:  cfg.Queue,
		jnl:    cfg.Jnl,
		input:  cfg.Input,
		cloak:  cfg.Cloak,
		now:    time.Now,
	}
	if b.lookup == nil {
		b.lookup = proc.PidfdLookup{}
	}
	if b.input == nil {
		b.input = hooks.NoopInputFilter{}
	}
	if b.cloak == nil {
		b.cloak = hooks.NoopCaptureCloak{}
	}
	return b
}

// Dispatch executes one control request and returns the response status
// plus the output payload for opcodes that produce one. The payload
// carries the request bytes; for output opcodes its length also declares
// the caller's receive capacity, mirroring the buffered-ioctl convention
// the layouts come from, so an undersized buffer fails the same way in
// both directions.
func (b *Bridge) Dispatch(op protocol.Op, payload []byte, callerPid uint32) (protocol.Status, []byte) {
	size, _, known := protocol.PayloadSize(op)
	if !known {
		b.record(op, callerPid, protocol.StatusNotSupported, "")
		return protocol.StatusNotSupported, nil
	}
	if len(payload) < size {
		b.record(op, callerPid, protocol.StatusBufferTooSmall, "")
		return protocol.StatusBufferTooSmall, nil
	}
	barrier.Speculation()

	var (
		status protocol.Status
		out    []byte
		detail string
	)
	switch op {
	case protocol.OpProtectPid:
		status, detail = b.protectPid(payload)
	case protocol.OpUnlock:
		status, detail = b.unlockAttempt(payload, callerPid)
	case protocol.OpHeartbeat:
		status, out = b.heartbeat()
	case protocol.OpSetUserRole:
		status, detail = b.setUserRole(payload, callerPid)
	case protocol.OpSetPolicy:
		status, detail = b.setPolicy(payload, callerPid)
	case protocol.OpReadAlert:
		status, out = b.readAlert()
	case protocol.OpHardLock:
		status, detail = b.hardLock(payload, callerPid)
	case protocol.OpProtectUi:
		status, detail = b.protectUi(payload, callerPid)
	case protocol.OpStealth:
		status, detail = b.stealth(payload, callerPid)
	case protocol.OpSetBannedApps:
		status, detail = b.setBannedApps(payload, callerPid)
	}

	// Heartbeat and ReadAlert are the agent's polling pair; journaling
	// them would bury the commands that matter.
	if op != protocol.OpHeartbeat && op != protocol.OpReadAlert {
		b.record(op, callerPid, status, detail)
	}
	return status, out
}

// callerIsService reports whether the caller is the registered service.
// With no service registered it reports false.
func (b *Bridge) callerIsService(callerPid uint32) bool {
	pid, ok := b.st.Service()
	return ok && pid == callerPid
}

// callerMayBootstrap denies only when a service is registered and the
// caller is someone else.
func (b *Bridge) callerMayBootstrap(callerPid uint32) bool {
	pid, ok := b.st.Service()
	return !ok || pid == callerPid
}

func (b *Bridge) protectPid(payload []byte) (protocol.Status, string) {
	var req protocol.ProtectPidRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		return protocol.StatusInvalidParameter, ""
	}
	if req.TargetPid == 0 || req.Flags != 0 {
		return protocol.StatusInvalidParameter, ""
	}
	ref, err := b.lookup.Open(req.TargetPid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bridge: protect_pid %d: %v\n", req.TargetPid, err)
		return protocol.StatusInvalidParameter, ""
	}
	b.st.SetService(ref)
	fmt.Fprintf(os.Stderr, "bridge: protecting pid %d\n", req.TargetPid)
	return protocol.StatusOK, fmt.Sprintf("pid %d", req.TargetPid)
}

func (b *Bridge) unlockAttempt(payload []byte, callerPid uint32) (protocol.Status, string) {
	if !b.callerMayBootstrap(callerPid) {
		return protocol.StatusAccessDenied, ""
	}
	if b.auth == nil {
		return protocol.StatusAccessDenied, "no authenticator"
	}
	err := b.auth.Verify(payload[:protocol.UnlockSize], callerPid)
	switch {
	case err == nil:
		return protocol.StatusOK, "unload permitted"
	case errors.Is(err, unlock.ErrLockedOut):
		return protocol.StatusAccessDenied, "locked out"
	default:
		return protocol.StatusAccessDenied, ""
	}
}

func (b *Bridge) heartbeat() (protocol.Status, []byte) {
	b.st.MarkAlive(b.now())

	snap := protocol.HeartbeatStatus{
		VersionMajor: protocol.VersionMajor,
		VersionMinor: protocol.VersionMinor,
		Alive:        true,
	}
	if pid, ok := b.st.Service(); ok {
		snap.ProtectedPid = pid
	}
	snap.ProcessProtectionActive = b.st.ProcessGateUp()
	snap.FileProtectionActive = b.st.FileGateUp()
	snap.UnlockPermitted = b.st.AllowUnload()
	snap.FailedAttempts = b.st.FailedAttempts()
	snap.Role = b.st.Role()
	_, snap.PolicyValid = b.st.Policy()

	out, err := snap.MarshalBinary()
	if err != nil {
		return protocol.StatusInvalidParameter, nil
	}
	return protocol.StatusOK, out
}

func (b *Bridge) setUserRole(payload []byte, callerPid uint32) (protocol.Status, string) {
	if !b.callerMayBootstrap(callerPid) {
		return protocol.StatusAccessDenied, ""
	}
	var req protocol.SetUserRoleRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		return protocol.StatusInvalidParameter, ""
	}
	b.st.SetRole(req.Role)
	fmt.Fprintf(os.Stderr, "bridge: user role %s (session %d)\n", req.Role, req.SessionID)
	return protocol.StatusOK, fmt.Sprintf("role %s session %d", req.Role, req.SessionID)
}

func (b *Bridge) setPolicy(payload []byte, callerPid uint32) (protocol.Status, string) {
	if !b.callerMayBootstrap(callerPid) {
		return protocol.StatusAccessDenied, ""
	}
	var p protocol.Policy
	if err := p.UnmarshalBinary(payload); err != nil {
		return protocol.StatusInvalidParameter, ""
	}
	if p.Version != protocol.PolicyVersion {
		return protocol.StatusInvalidParameter, fmt.Sprintf("version %d", p.Version)
	}
	b.st.SetPolicy(p)
	fmt.Fprintf(os.Stderr, "bridge: policy accepted (flags 0x%x)\n", uint32(p.Flags))
	return protocol.StatusOK, fmt.Sprintf("flags 0x%x", uint32(p.Flags))
}

func (b *Bridge) readAlert() (protocol.Status, []byte) {
	var rec protocol.AlertRecord
	if b.queue != nil {
		if a, ok := b.queue.Pop(); ok {
			rec = a.Wire()
		}
	}
	if rec.Type == protocol.AlertNone {
		rec.Timestamp = b.now().UnixNano()
	}
	out, err := rec.MarshalBinary()
	if err != nil {
		return protocol.StatusInvalidParameter, nil
	}
	return protocol.StatusOK, out
}

func (b *Bridge) hardLock(payload []byte, callerPid uint32) (protocol.Status, string) {
	if !b.callerIsService(callerPid) {
		return protocol.StatusAccessDenied, ""
	}
	var req protocol.HardLockRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		return protocol.StatusInvalidParameter, ""
	}
	on := req.Enable != 0
	b.st.SetInputLocked(on)
	b.input.SetBlocked(on)
	word := "released"
	if on {
		word = "engaged"
	}
	fmt.Fprintf(os.Stderr, "bridge: hard-lock %s by pid %d\n", word, callerPid)
	return protocol.StatusOK, word
}

func (b *Bridge) protectUi(payload []byte, callerPid uint32) (protocol.Status, string) {
	if !b.callerIsService(callerPid) {
		return protocol.StatusAccessDenied, ""
	}
	var req protocol.ProtectUiRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		return protocol.StatusInvalidParameter, ""
	}
	if req.Protect != 0 {
		b.st.SetOverlay(req.TargetPid)
		fmt.Fprintf(os.Stderr, "bridge: ui process %d protection on\n", req.TargetPid)
		return protocol.StatusOK, fmt.Sprintf("pid %d on", req.TargetPid)
	}
	b.st.SetOverlay(0)
	fmt.Fprintf(os.Stderr, "bridge: ui process %d protection off\n", req.TargetPid)
	return protocol.StatusOK, fmt.Sprintf("pid %d off", req.TargetPid)
}

func (b *Bridge) stealth(payload []byte, callerPid uint32) (protocol.Status, string) {
	if !b.callerIsService(callerPid) {
		return protocol.StatusAccessDenied, ""
	}
	var req protocol.StealthRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		return protocol.StatusInvalidParameter, ""
	}
	on := req.Enable != 0
	flags := req.Flags
	if !on {
		flags = 0
	}
	b.st.SetStealth(on, flags)
	b.cloak.Apply(on, flags)
	if on {
		fmt.Fprintf(os.Stderr, "bridge: stealth active (flags 0x%x)\n", uint32(flags))
		return protocol.StatusOK, fmt.Sprintf("active flags 0x%x", uint32(flags))
	}
	fmt.Fprintf(os.Stderr, "bridge: stealth disabled\n")
	return protocol.StatusOK, "disabled"
}

func (b *Bridge) setBannedApps(payload []byte, callerPid uint32) (protocol.Status, string) {
	if !b.callerIsService(callerPid) {
		return protocol.StatusAccessDenied, ""
	}
	var req protocol.BannedAppsRequest
	if err := req.UnmarshalBinary(payload); err != nil {
		return protocol.StatusInvalidParameter, ""
	}
	b.st.ReplaceBannedApps(req.Names)
	noun := "entries"
	if len(req.Names) == 1 {
		noun = "entry"
	}
	fmt.Fprintf(os.Stderr, "bridge: banned-app list updated: %d %s\n", len(req.Names), noun)
	return protocol.StatusOK, fmt.Sprintf("%d %s", len(req.Names), noun)
}

// record appends one journal entry per dispatched command. The unlock
// secret never reaches the journal; only the opcode name and outcome do.
func (b *Bridge) record(op protocol.Op, callerPid uint32, status protocol.Status, detail string) {
	if b.jnl == nil {
		return
	}
	if err := b.jnl.Record(journal.Command(op.String(), callerPid, status.String(), detail)); err != nil {
		fmt.Fprintf(os.Stderr, "bridge: journal: %v\n", err)
	}
}
