package invigil

import (
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/invigil/internal/protocol"
)

// DefaultSocketPath is where a stock install binds the control socket.
const DefaultSocketPath = "/run/invigil/invigil.sock"

// SecretSize is the exact length of the unlock secret, in bytes.
const SecretSize = protocol.SecretSize

// MaxBannedApps caps the banned-application list.
const MaxBannedApps = protocol.MaxBannedApps

// Daemon verdicts carried by StatusError.
const (
	StatusBufferTooSmall   = "buffer_too_small"
	StatusInvalidParameter = "invalid_parameter"
	StatusAccessDenied     = "access_denied"
	StatusNotSupported     = "not_supported"
)

// StatusError reports a request the daemon refused.
type StatusError struct {
	Op     string // control function, e.g. "unlock"
	Status string // daemon verdict, e.g. "access_denied"
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("invigil: %s: %s", e.Op, e.Status)
}

// Denied reports whether err is a StatusError carrying access_denied.
func Denied(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == StatusAccessDenied
}

// Status is the daemon's self-description, returned by Heartbeat.
type Status struct {
	Version              string `json:"version"`
	ProtectedPid         uint32 `json:"protected_pid"`
	ProcessProtection    bool   `json:"process_protection"`
	FileProtection       bool   `json:"file_protection"`
	UnlockPermitted      bool   `json:"unlock_permitted"`
	Alive                bool   `json:"alive"`
	FailedUnlockAttempts uint32 `json:"failed_unlock_attempts"`
	Role                 string `json:"role"`
	PolicyValid          bool   `json:"policy_valid"`
}

func statusFromWire(s protocol.HeartbeatStatus) Status {
	return Status{
		Version:              fmt.Sprintf("%d.%d", s.VersionMajor, s.VersionMinor),
		ProtectedPid:         s.ProtectedPid,
		ProcessProtection:    s.ProcessProtectionActive,
		FileProtection:       s.FileProtectionActive,
		UnlockPermitted:      s.UnlockPermitted,
		Alive:                s.Alive,
		FailedUnlockAttempts: s.FailedAttempts,
		Role:                 s.Role.String(),
		PolicyValid:          s.PolicyValid,
	}
}

// Policy is the replace-on-write policy record in declarative form.
// Flags take block_usb, block_printing, log_screenshots,
// log_keystrokes, block_apps and restrict_network; AllowedRoles take
// student, teacher and admin.
type Policy struct {
	Flags              []string
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
	OrganizationalUnit string
	AllowedRoles       []string
}

func (p Policy) wire() (protocol.Policy, error) {
	out := protocol.Policy{
		Version:             protocol.PolicyVersion,
		HeartbeatIntervalMs: uint32(p.HeartbeatInterval / time.Millisecond),
		HeartbeatTimeoutMs:  uint32(p.HeartbeatTimeout / time.Millisecond),
		OrganizationalUnit:  p.OrganizationalUnit,
	}
	for _, name := range p.Flags {
		f, err := protocol.ParsePolicyFlag(name)
		if err != nil {
			return protocol.Policy{}, fmt.Errorf("invigil: unknown policy flag %q", name)
		}
		out.Flags |= f
	}
	for _, name := range p.AllowedRoles {
		r, err := protocol.ParseRole(name)
		if err != nil || r == protocol.RoleUnknown {
			return protocol.Policy{}, fmt.Errorf("invigil: role %q cannot appear in an allow list", name)
		}
		out.AllowedRolesMask |= 1 << uint32(r)
	}
	return out, nil
}

// Alert is one event drained from the daemon's queue.
type Alert struct {
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	SourcePid uint32    `json:"source_pid"`
	Detail    string    `json:"detail"`
}
