// Package hooks declares the collaborator extension points the daemon
// drives but does not implement: the network kill-switch engaged on
// liveness loss, the input filter that honors the hard-lock flag, and
// the capture cloak that would act on stealth requests. Each has a no-op
// default, so the contract (accept the input, take no enforced action)
// is explicit and testable.
package hooks

import "github.com/ppiankov/invigil/internal/protocol"

// Killswitch cuts workstation network access when agent liveness is
// lost.
type Killswitch interface {
	Engage(reason string) error
}

// NoopKillswitch accepts the order and does nothing.
type NoopKillswitch struct{}

func (NoopKillswitch) Engage(string) error { return nil }

// InputFilter is notified when the global input-block flag changes.
type InputFilter interface {
	SetBlocked(blocked bool)
}

// NoopInputFilter ignores the notification.
type NoopInputFilter struct{}

func (NoopInputFilter) SetBlocked(bool) {}

// CaptureCloak receives the stored stealth request.
type CaptureCloak interface {
	Apply(enabled bool, flags protocol.StealthFlags)
}

// NoopCaptureCloak ignores the request.
type NoopCaptureCloak struct{}

func (NoopCaptureCloak) Apply(bool, protocol.StealthFlags) {}
