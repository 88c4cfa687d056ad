// Package state holds the process-wide enforcement record shared by the
// command bridge, the interception gates and the heartbeat watchdog.
// It stores and guards; it does not decide.
//
// Two concurrency classes exist. Scalar fields use atomic loads and
// swaps: readers on elevated, non-blocking paths (handle gate, watchdog
// tick) may observe an old or a new value but never a torn one, and there
// is no ordering guarantee across different fields. The banned-app set is
// the one variable-size structure; it is mutex-guarded and only ever
// touched from blocking-capable paths.
package state

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ppiankov/invigil/internal/proc"
	"github.com/ppiankov/invigil/internal/protocol"
)

// DefaultHeartbeatTimeoutMs is the watchdog cadence used until a policy
// supplies its own.
const DefaultHeartbeatTimeoutMs = 6000

// State is the enforcement record. Create one per daemon with New and
// pass it by reference; there are no package-level globals.
type State struct {
	// Protected identity slots.
	service atomic.Pointer[proc.Ref]
	overlay atomic.Uint32 // raw pid, 0 = unset; the overlay holds no owned reference

	// Unlock gate.
	allowUnload    atomic.Bool
	failedAttempts atomic.Uint32
	lockoutUntil   atomic.Int64 // unix nanos, 0 = no lockout

	// Heartbeat record.
	alive    atomic.Bool
	lastBeat atomic.Int64 // unix nanos

	// Inert command surfaces.
	inputLocked  atomic.Bool
	stealthOn    atomic.Bool
	stealthFlags atomic.Uint32

	role   atomic.Uint32
	policy atomic.Pointer[protocol.Policy]

	// Gate registration health, reported in the status snapshot.
	processGateUp atomic.Bool
	fileGateUp    atomic.Bool

	mu     sync.Mutex
	banned []string // lowercased bare image names, replaced wholesale
}

// New returns a zeroed record: no protected identities, role Student,
// no policy, empty banned set, unlock denied.
func New() *State {
	return &State{}
}

// SetService installs ref as the protected agent service, releasing any
// previously owned reference. ref may be nil to clear the slot.
func (s *State) SetService(ref *proc.Ref) {
	if old := s.service.Swap(ref); old != nil {
		old.Close()
	}
}

// Service returns the protected service PID, if one is registered.
func (s *State) Service() (pid uint32, ok bool) {
	ref := s.service.Load()
	if ref == nil {
		return 0, false
	}
	return ref.Pid(), true
}

// SetOverlay records the lock-overlay PID; pid 0 clears the slot.
func (s *State) SetOverlay(pid uint32) {
	s.overlay.Store(pid)
}

// Overlay returns the lock-overlay PID, if one is registered.
func (s *State) Overlay() (pid uint32, ok bool) {
	pid = s.overlay.Load()
	return pid, pid != 0
}

// AllowUnload reports whether the daemon may be shut down gracefully.
func (s *State) AllowUnload() bool {
	return s.allowUnload.Load()
}

// SetAllowUnload flips the unload gate. The unlock state machine is the
// only caller that sets it true.
func (s *State) SetAllowUnload(v bool) {
	s.allowUnload.Store(v)
}

// FailedAttempts returns the consecutive wrong-secret count.
func (s *State) FailedAttempts() uint32 {
	return s.failedAttempts.Load()
}

// IncrementFailed bumps the wrong-secret count and returns the new value.
func (s *State) IncrementFailed() uint32 {
	return s.failedAttempts.Add(1)
}

// ResetFailed clears the wrong-secret count.
func (s *State) ResetFailed() {
	s.failedAttempts.Store(0)
}

// LockoutUntil returns the lockout deadline, or the zero time when no
// lockout is armed.
func (s *State) LockoutUntil() time.Time {
	n := s.lockoutUntil.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SetLockoutUntil arms the lockout deadline; the zero time disarms it.
func (s *State) SetLockoutUntil(t time.Time) {
	if t.IsZero() {
		s.lockoutUntil.Store(0)
		return
	}
	s.lockoutUntil.Store(t.UnixNano())
}

// MarkAlive records a heartbeat. This is the only path that sets the
// alive flag.
func (s *State) MarkAlive(now time.Time) {
	s.alive.Store(true)
	s.lastBeat.Store(now.UnixNano())
}

// ReadAndClearAlive atomically consumes the alive flag. Watchdog ticks
// are its only caller.
func (s *State) ReadAndClearAlive() bool {
	return s.alive.Swap(false)
}

// LastBeat returns the time of the most recent heartbeat, or the zero
// time when none has arrived.
func (s *State) LastBeat() time.Time {
	n := s.lastBeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// SetInputLocked toggles the global input-block flag consulted by the
// input-filter collaborator.
func (s *State) SetInputLocked(v bool) {
	s.inputLocked.Store(v)
}

// InputLocked reports the global input-block flag.
func (s *State) InputLocked() bool {
	return s.inputLocked.Load()
}

// SetStealth records the capture-cloaking request. Stored, not enforced.
func (s *State) SetStealth(on bool, flags protocol.StealthFlags) {
	s.stealthOn.Store(on)
	s.stealthFlags.Store(uint32(flags))
}

// Stealth returns the stored capture-cloaking request.
func (s *State) Stealth() (on bool, flags protocol.StealthFlags) {
	return s.stealthOn.Load(), protocol.StealthFlags(s.stealthFlags.Load())
}

// SetRole records the session role. Last write wins.
func (s *State) SetRole(r protocol.Role) {
	s.role.Store(uint32(r))
}

// Role returns the current session role.
func (s *State) Role() protocol.Role {
	return protocol.Role(s.role.Load())
}

// SetPolicy replaces the policy record wholesale and marks it valid.
func (s *State) SetPolicy(p protocol.Policy) {
	s.policy.Store(&p)
}

// Policy returns a copy of the current policy. ok is false until the
// first accepted SetPolicy.
func (s *State) Policy() (protocol.Policy, bool) {
	p := s.policy.Load()
	if p == nil {
		return protocol.Policy{}, false
	}
	return *p, true
}

// HeartbeatTimeout returns the effective watchdog interval: the policy's
// timeout when a valid policy carries one, the default otherwise.
func (s *State) HeartbeatTimeout() time.Duration {
	if p := s.policy.Load(); p != nil && p.HeartbeatTimeoutMs > 0 {
		return time.Duration(p.HeartbeatTimeoutMs) * time.Millisecond
	}
	return DefaultHeartbeatTimeoutMs * time.Millisecond
}

// SetProcessGateUp records whether handle interception registered.
func (s *State) SetProcessGateUp(v bool) {
	s.processGateUp.Store(v)
}

// ProcessGateUp reports handle-interception registration health.
func (s *State) ProcessGateUp() bool {
	return s.processGateUp.Load()
}

// SetFileGateUp records whether the filesystem intercept registered.
func (s *State) SetFileGateUp(v bool) {
	s.fileGateUp.Store(v)
}

// FileGateUp reports filesystem-intercept registration health.
func (s *State) FileGateUp() bool {
	return s.fileGateUp.Load()
}

// ReplaceBannedApps swaps in a new banned-app set. Names are stored
// lowercased; the caller has already validated the count bound. An empty
// slice clears the set. Readers racing the swap see the old set or the
// new one, never a mix.
func (s *State) ReplaceBannedApps(names []string) {
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		lowered = append(lowered, strings.ToLower(n))
	}
	s.mu.Lock()
	s.banned = lowered
	s.mu.Unlock()
}

// BannedApps returns a copy of the current set.
func (s *State) BannedApps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.banned))
	copy(out, s.banned)
	return out
}

// MatchBanned reports whether the bare image name is in the banned set.
// Comparison is case-insensitive and exact (no substrings, no paths).
func (s *State) MatchBanned(image string) bool {
	lowered := strings.ToLower(image)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.banned {
		if n == lowered {
			return true
		}
	}
	return false
}

// Shutdown releases the owned service reference. Called exactly once at
// daemon teardown.
func (s *State) Shutdown() {
	if old := s.service.Swap(nil); old != nil {
		old.Close()
	}
}
