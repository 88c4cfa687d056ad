// Package config loads the shared configuration file for the daemon
// and the agent. Missing file means compiled defaults; fields present
// in the file overwrite only themselves. The webhook section is the
// only part that hot-reloads (see Reloader); everything else is read
// once at startup.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/protocol"
)

// DefaultPath is where the installer writes the config file. The
// integrity check reads the webhooks section from the same path.
const DefaultPath = "/etc/invigil/config.yaml"

// Monitor tunes the process-launch polling monitor.
type Monitor struct {
	PollMs int `yaml:"poll_ms"`
}

// Interval returns the poll cadence, falling back to 1s for zero or
// negative values.
func (m Monitor) Interval() time.Duration {
	if m.PollMs <= 0 {
		return time.Second
	}
	return time.Duration(m.PollMs) * time.Millisecond
}

// Tamper tunes the install-directory watcher.
type Tamper struct {
	WatchDirs []string `yaml:"watch_dirs"`
}

// Policy is the YAML form of the policy record the agent pushes after
// registering. Flags and roles are names here; Wire resolves them to
// the fixed-layout bitmasks.
type Policy struct {
	Flags               []string `yaml:"flags"`
	HeartbeatIntervalMs int      `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs  int      `yaml:"heartbeat_timeout_ms"`
	OrganizationalUnit  string   `yaml:"organizational_unit"`
	AllowedRoles        []string `yaml:"allowed_roles"`
}

// Wire resolves the section into the fixed-layout policy record.
// Unknown flag or role names are errors so a typo fails agent startup
// instead of silently weakening the policy.
func (p Policy) Wire() (protocol.Policy, error) {
	var flags protocol.PolicyFlags
	for _, name := range p.Flags {
		f, err := protocol.ParsePolicyFlag(name)
		if err != nil {
			return protocol.Policy{}, fmt.Errorf("config: policy flags: %w", err)
		}
		flags |= f
	}

	var mask uint32
	for _, name := range p.AllowedRoles {
		r, err := protocol.ParseRole(name)
		if err != nil {
			return protocol.Policy{}, fmt.Errorf("config: allowed_roles: %w", err)
		}
		if r == protocol.RoleUnknown {
			return protocol.Policy{}, fmt.Errorf("config: allowed_roles: %q has no mask bit", name)
		}
		mask |= 1 << uint32(r)
	}

	return protocol.Policy{
		Version:             protocol.PolicyVersion,
		Flags:               flags,
		HeartbeatIntervalMs: uint32(p.HeartbeatIntervalMs),
		HeartbeatTimeoutMs:  uint32(p.HeartbeatTimeoutMs),
		OrganizationalUnit:  p.OrganizationalUnit,
		AllowedRolesMask:    mask,
	}, nil
}

// Interval returns the heartbeat cadence, falling back to 2s.
func (p Policy) Interval() time.Duration {
	if p.HeartbeatIntervalMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(p.HeartbeatIntervalMs) * time.Millisecond
}

// Agent configures the monitoring agent loop.
type Agent struct {
	Role       string   `yaml:"role"`
	Policy     Policy   `yaml:"policy"`
	BannedApps []string `yaml:"banned_apps"`
}

// Console configures the agent-side operator console.
type Console struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`
}

// Config holds all configurable parameters for both binaries.
type Config struct {
	Socket   string                 `yaml:"socket"`
	Journal  string                 `yaml:"journal"`
	Monitor  Monitor                `yaml:"monitor"`
	Tamper   Tamper                 `yaml:"tamper"`
	Agent    Agent                  `yaml:"agent"`
	Console  Console                `yaml:"console"`
	Webhooks []alerts.WebhookConfig `yaml:"webhooks"`
}

// DefaultConfig returns the built-in configuration matching the
// installed layout.
func DefaultConfig() *Config {
	return &Config{
		Socket:  "/run/invigil/invigil.sock",
		Journal: "/var/log/invigil/journal.jsonl",
		Monitor: Monitor{
			PollMs: 1000,
		},
		Tamper: Tamper{
			WatchDirs: []string{"/usr/local/bin"},
		},
		Agent: Agent{
			Role: "student",
			Policy: Policy{
				Flags:               []string{"block_apps"},
				HeartbeatIntervalMs: 2000,
				HeartbeatTimeoutMs:  6000,
				AllowedRoles:        []string{"student", "teacher", "admin"},
			},
		},
		Console: Console{
			Listen: "127.0.0.1:7411",
			DBPath: "/var/lib/invigil/alerts.db",
		},
	}
}

// Load loads configuration from a YAML file.
// Empty path falls back to DefaultPath.
// Missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Start with defaults, YAML overwrites only specified fields
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadWithHash loads configuration and returns its SHA-256 hash.
// The hash is computed over the raw YAML bytes on disk so journal
// records can pin exactly what the daemon started with. When no file
// exists (defaults used), the hash is the SHA-256 of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			h := sha256.Sum256(nil)
			return DefaultConfig(), "sha256:" + hex.EncodeToString(h[:]), nil
		}
		return nil, "", fmt.Errorf("config: read %s: %w", path, err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, hash, nil
}

// DefaultYAML returns a commented YAML string for the installer.
func DefaultYAML() string {
	return `# invigil configuration
# Installed by: invigil install
#
# The daemon reads socket, journal, monitor, tamper and webhooks.
# The agent reads socket, agent, console and webhooks.
# Only the webhooks section hot-reloads; everything else needs a
# service restart.

# Control socket the daemon binds and the agent/CLI dial.
socket: /run/invigil/invigil.sock

# Hash-chained command journal. Verify with: invigil journal verify
journal: /var/log/invigil/journal.jsonl

# Process-launch monitor poll cadence.
monitor:
  poll_ms: 1000

# Directories watched for modification of the installed binaries.
tamper:
  watch_dirs:
    - /usr/local/bin

# Pushed by the agent right after it registers.
agent:
  role: student
  policy:
    # flags: block_usb | block_printing | log_screenshots |
    #        log_keystrokes | block_apps | restrict_network
    flags: [block_apps]
    heartbeat_interval_ms: 2000
    heartbeat_timeout_ms: 6000
    organizational_unit: ""
    allowed_roles: [student, teacher, admin]
  # Image names killed on sight while block_apps is set (max 32).
  banned_apps: []

# Operator console served by the agent.
console:
  listen: 127.0.0.1:7411
  db_path: /var/lib/invigil/alerts.db

# Alert destinations. format: generic | slack | pagerduty
# An empty events list subscribes to every alert type.
webhooks: []
#  - url: https://hooks.example.com/invigil
#    format: generic
#    events: [service_tamper, heartbeat_lost, unlock_brute_force]
`
}
