// Package agent implements the invigil-agent runtime: register with
// the daemon, push the configured role and policy, heartbeat on the
// policy cadence, and drain raised alerts into the operator console.
package agent

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/user"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry-go"

	"github.com/ppiankov/invigil/internal/config"
	"github.com/ppiankov/invigil/internal/console"
	"github.com/ppiankov/invigil/sdk/go/invigil"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	// Pause between control-socket sessions after one collapses.
	reconnectDelay = 5 * time.Second
)

// Agent is the long-lived workstation process the daemon protects. It
// owns the single registered control-socket session and the operator
// console that serves its history.
type Agent struct {
	cfg     *config.Config
	userSID string

	store    *console.Store
	hub      *console.Hub
	snapshot atomic.Pointer[invigil.Status]
}

// New builds an agent from cfg. The invoking user's identity is
// captured once so role pushes carry it on every reconnect.
func New(cfg *config.Config) *Agent {
	sid := "unknown"
	if u, err := user.Current(); err == nil {
		sid = u.Uid
	}
	return &Agent{cfg: cfg, userSID: sid}
}

// Status returns the latest heartbeat snapshot. ok is false until the
// first beat against the daemon completes.
func (a *Agent) Status() (invigil.Status, bool) {
	if p := a.snapshot.Load(); p != nil {
		return *p, true
	}
	return invigil.Status{}, false
}

// Run serves until ctx is cancelled. The console comes up before the
// first dial so operators can read stored history even while the
// daemon is unreachable.
func (a *Agent) Run(ctx context.Context) error {
	store, err := console.OpenStore(a.cfg.Console.DBPath)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	defer store.Close()
	a.store = store

	a.hub = console.NewHub()
	go a.hub.Run(ctx)

	srv := console.NewServer(a.cfg.Console.Listen, console.NewHandler(store, a.hub, a.Status))
	go func() {
		if err := srv.Run(ctx); err != nil {
			log.Printf("[ERROR] agent: %v", err)
		}
	}()

	log.Printf("[INFO] agent: starting (socket %s, console http://%s)", a.cfg.Socket, a.cfg.Console.Listen)

	for {
		if err := a.session(ctx); err != nil {
			log.Printf("[WARN] agent: session ended: %v (retrying in %s)", err, reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// session dials the daemon, replays the configured facts and polls
// until the connection dies or ctx ends.
func (a *Agent) session(ctx context.Context) error {
	var client *invigil.Client
	err := retry.Do(func() error {
		c, err := invigil.Dial(a.cfg.Socket)
		if err != nil {
			return err
		}
		client = c
		return nil
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.cfg.Socket, err)
	}
	defer client.Close()

	if err := a.bootstrap(client); err != nil {
		return err
	}
	return a.poll(ctx, client)
}

// bootstrap registers this process and pushes role, policy and the
// banned-app list. Every push replaces the previous value, so running
// it again after a reconnect is harmless.
func (a *Agent) bootstrap(client *invigil.Client) error {
	if err := client.ProtectSelf(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	log.Printf("[INFO] agent: registered pid %d with the daemon", os.Getpid())

	// Session 0 is the seat on a single-session workstation.
	if err := client.SetUserRole(a.cfg.Agent.Role, 0, a.userSID); err != nil {
		return fmt.Errorf("push role: %w", err)
	}
	if err := client.SetPolicy(a.policy()); err != nil {
		return fmt.Errorf("push policy: %w", err)
	}
	if err := client.SetBannedApps(a.cfg.Agent.BannedApps); err != nil {
		return fmt.Errorf("push banned apps: %w", err)
	}
	log.Printf("[INFO] agent: pushed role %s, policy and %d banned apps",
		a.cfg.Agent.Role, len(a.cfg.Agent.BannedApps))
	return nil
}

func (a *Agent) policy() invigil.Policy {
	p := a.cfg.Agent.Policy
	return invigil.Policy{
		Flags:              p.Flags,
		HeartbeatInterval:  p.Interval(),
		HeartbeatTimeout:   time.Duration(p.HeartbeatTimeoutMs) * time.Millisecond,
		OrganizationalUnit: p.OrganizationalUnit,
		AllowedRoles:       p.AllowedRoles,
	}
}

// poll heartbeats on the policy cadence and drains pending alerts
// after each beat. The first beat fires immediately so the console
// has a snapshot as soon as the session is up.
func (a *Agent) poll(ctx context.Context, client *invigil.Client) error {
	if err := a.beat(client); err != nil {
		return err
	}

	ticker := time.NewTicker(a.cfg.Agent.Policy.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.beat(client); err != nil {
				return err
			}
		}
	}
}

func (a *Agent) beat(client *invigil.Client) error {
	var st invigil.Status
	err := retry.Do(func() error {
		s, err := client.Heartbeat()
		if err != nil {
			return err
		}
		st = s
		return nil
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	a.snapshot.Store(&st)
	a.hub.Broadcast("status", st)
	a.drain(client)
	return nil
}

// drain forwards every pending alert to the console. The daemon's
// queue is bounded, so this terminates.
func (a *Agent) drain(client *invigil.Client) {
	for {
		alert, ok, err := client.ReadAlert()
		if err != nil {
			log.Printf("[WARN] agent: read alert: %v", err)
			return
		}
		if !ok {
			return
		}
		a.deliver(alert)
	}
}

func (a *Agent) deliver(alert invigil.Alert) {
	stored := console.FromAlert(alert, time.Now())
	if err := a.store.Insert(stored); err != nil {
		log.Printf("[ERROR] agent: %v", err)
	}
	a.hub.Broadcast("alert", stored)
	log.Printf("[INFO] agent: alert %s (pid %d): %s", alert.Type, alert.SourcePid, alert.Detail)
}
