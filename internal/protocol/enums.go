package protocol

import "fmt"

// Role is the workstation user's resolved role, pushed by the agent
// after directory lookup. Last write wins; no history is kept.
type Role uint32

const (
	RoleStudent Role = 0
	RoleTeacher Role = 1
	RoleAdmin   Role = 2
	RoleUnknown Role = 0xFF
)

func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleTeacher:
		return "teacher"
	case RoleAdmin:
		return "admin"
	case RoleUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("role_%d", uint32(r))
	}
}

// ParseRole maps a role name to its wire value.
func ParseRole(s string) (Role, error) {
	switch s {
	case "student":
		return RoleStudent, nil
	case "teacher":
		return RoleTeacher, nil
	case "admin":
		return RoleAdmin, nil
	case "unknown":
		return RoleUnknown, nil
	default:
		return RoleUnknown, fmt.Errorf("protocol: unknown role %q", s)
	}
}

// AlertType classifies the events the daemon queues for the agent.
type AlertType uint32

const (
	AlertNone AlertType = iota
	AlertServiceTamper
	AlertHeartbeatLost
	AlertUnlockBruteForce
	AlertFileTamper
	AlertProcessBlocked
)

func (t AlertType) String() string {
	switch t {
	case AlertNone:
		return "none"
	case AlertServiceTamper:
		return "service_tamper"
	case AlertHeartbeatLost:
		return "heartbeat_lost"
	case AlertUnlockBruteForce:
		return "unlock_brute_force"
	case AlertFileTamper:
		return "file_tamper"
	case AlertProcessBlocked:
		return "process_blocked"
	default:
		return fmt.Sprintf("alert_%d", uint32(t))
	}
}

// PolicyFlags is the policy bitmask. Only BlockApps drives enforcement
// in the daemon itself; the remaining bits are accepted and stored for
// the agent-side collaborators that consult them.
type PolicyFlags uint32

const (
	PolicyBlockUSB PolicyFlags = 1 << iota
	PolicyBlockPrinting
	PolicyLogScreenshots
	PolicyLogKeystrokes
	PolicyBlockApps
	PolicyRestrictNetwork
)

var policyFlagNames = map[string]PolicyFlags{
	"block_usb":        PolicyBlockUSB,
	"block_printing":   PolicyBlockPrinting,
	"log_screenshots":  PolicyLogScreenshots,
	"log_keystrokes":   PolicyLogKeystrokes,
	"block_apps":       PolicyBlockApps,
	"restrict_network": PolicyRestrictNetwork,
}

// ParsePolicyFlag maps a flag name to its bit.
func ParsePolicyFlag(s string) (PolicyFlags, error) {
	if f, ok := policyFlagNames[s]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("protocol: unknown policy flag %q", s)
}

// Has reports whether every bit of mask is set.
func (f PolicyFlags) Has(mask PolicyFlags) bool {
	return f&mask == mask
}

// StealthFlags is the capture-cloaking bitmask. Accepted and stored;
// never enforced by the daemon.
type StealthFlags uint32

const (
	StealthSuppressIndicator StealthFlags = 1 << iota
	StealthHideFromEnumeration
	StealthCloakDuplication
)

var stealthFlagNames = map[string]StealthFlags{
	"suppress_indicator":    StealthSuppressIndicator,
	"hide_from_enumeration": StealthHideFromEnumeration,
	"cloak_duplication":     StealthCloakDuplication,
}

// ParseStealthFlag maps a flag name to its bit.
func ParseStealthFlag(s string) (StealthFlags, error) {
	if f, ok := stealthFlagNames[s]; ok {
		return f, nil
	}
	return 0, fmt.Errorf("protocol: unknown stealth flag %q", s)
}
