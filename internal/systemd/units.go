// Package systemd renders the installed unit files for the daemon and
// the agent and verifies them against their install-time hashes.
package systemd

// DaemonUnit returns the systemd unit for the enforcement daemon. The
// daemon owns /run/invigil for the control socket, /var/lib/invigil
// for baselines and /var/log/invigil for the journal.
func DaemonUnit() string {
	return `[Unit]
Description=Invigil enforcement daemon
Documentation=https://github.com/ppiankov/invigil
After=local-fs.target
Before=invigil-agent.service

[Service]
Type=simple
ExecStart=/usr/local/bin/invigil serve
Restart=always
RestartSec=2
RuntimeDirectory=invigil
RuntimeDirectoryMode=0755
StateDirectory=invigil
LogsDirectory=invigil
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=read-only
ProtectKernelTunables=true
RestrictNamespaces=true

[Install]
WantedBy=multi-user.target
`
}

// AgentUnit returns the systemd unit for the monitoring agent. BindsTo
// ties the agent's lifetime to the daemon's so a restart brings both
// back in dependency order.
func AgentUnit() string {
	return `[Unit]
Description=Invigil monitoring agent
Documentation=https://github.com/ppiankov/invigil
After=invigil.service network-online.target
BindsTo=invigil.service
Wants=network-online.target

[Service]
Type=simple
ExecStart=/usr/local/bin/invigil-agent
Restart=always
RestartSec=2
StateDirectory=invigil
LogsDirectory=invigil
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ProtectHome=true
ProtectKernelTunables=true
RestrictNamespaces=true

[Install]
WantedBy=multi-user.target
`
}
