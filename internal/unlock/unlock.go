// Package unlock implements the authenticator that gates permanent
// enforcement teardown. A caller proves knowledge of a 32-byte secret;
// five straight failures arm a 30-second lockout during which attempts
// are rejected without being counted or compared.
//
// The comparison folds over every byte of both buffers no matter where
// the first mismatch sits, so timing reveals nothing about the position
// of an error. The de-obfuscated key lives only in locked scratch pages
// and is wiped after every verification.
package unlock

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ppiankov/invigil/internal/alerts"
	"github.com/ppiankov/invigil/internal/protocol"
	"github.com/ppiankov/invigil/internal/secret"
	"github.com/ppiankov/invigil/internal/state"
)

const (
	// MaxAttempts is the failure count that arms the lockout.
	MaxAttempts = 5
	// LockoutDuration is how long attempts are rejected outright once
	// the lockout is armed.
	LockoutDuration = 30 * time.Second
)

var (
	// ErrLockedOut rejects an attempt made inside an armed lockout
	// window. The attempt is not counted and the secret is not examined.
	ErrLockedOut = errors.New("unlock: locked out")
	// ErrBadSecret rejects an attempt whose secret did not match.
	ErrBadSecret = errors.New("unlock: secret mismatch")
)

// Authenticator evaluates unlock attempts against the obfuscated key
// and drives the attempt counter and lockout deadline in the shared
// enforcement state.
type Authenticator struct {
	st     *state.State
	raiser alerts.Raiser
	key    [KeySize]byte // obfuscated at rest

	// mu serializes access to the scratch buffer. Only the verification
	// body takes it; the counter and deadline stay on state atomics.
	mu       sync.Mutex
	scratch  *secret.Scratch // locked pages; nil when mlock is unavailable
	fallback [KeySize]byte   // wiped plain buffer used when scratch is nil

	now func() time.Time
}

// New builds the authenticator. The obfuscated key comes from the
// build-time override when present, else the compiled-in development
// key. When locked pages are unavailable (RLIMIT_MEMLOCK), verification
// degrades to a plain wiped buffer with a warning.
func New(st *state.State, raiser alerts.Raiser) (*Authenticator, error) {
	key, err := loadObfuscatedKey()
	if err != nil {
		return nil, err
	}
	if raiser == nil {
		raiser = alerts.Discard
	}

	a := &Authenticator{st: st, raiser: raiser, key: key, now: time.Now}
	a.scratch, err = secret.NewScratch(KeySize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unlock: locked scratch unavailable (%v), using wiped heap buffer\n", err)
		a.scratch = nil
	}
	return a, nil
}

// Close releases the locked scratch pages.
func (a *Authenticator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scratch != nil {
		err := a.scratch.Close()
		a.scratch = nil
		return err
	}
	return nil
}

// Verify evaluates one unlock attempt. The lockout is checked before
// the secret: a locked-out attempt consumes nothing, and the first
// attempt after expiry resets the counter before being evaluated.
// Success grants unload permission and clears the counter. The failure
// that reaches the attempt limit arms the lockout and raises a
// brute-force alert carrying callerPid.
func (a *Authenticator) Verify(provided []byte, callerPid uint32) error {
	if len(provided) != KeySize {
		return fmt.Errorf("unlock: secret must be %d bytes, got %d", KeySize, len(provided))
	}
	now := a.now()

	if a.st.FailedAttempts() >= MaxAttempts {
		if now.Before(a.st.LockoutUntil()) {
			return ErrLockedOut
		}
		a.st.ResetFailed()
	}

	if a.match(provided) {
		a.st.SetAllowUnload(true)
		a.st.ResetFailed()
		fmt.Fprintf(os.Stderr, "unlock: accepted, unload permitted\n")
		return nil
	}

	n := a.st.IncrementFailed()
	if n >= MaxAttempts {
		a.st.SetLockoutUntil(now.Add(LockoutDuration))
		fmt.Fprintf(os.Stderr, "unlock: %d failed attempts, lockout armed for %s\n", n, LockoutDuration)
		a.raiser.Raise(alerts.New(protocol.AlertUnlockBruteForce, callerPid,
			fmt.Sprintf("%d failed unlock attempts", n)))
	}
	return ErrBadSecret
}

// match de-obfuscates the key into scratch, folds the difference over
// all bytes, and wipes the scratch before returning.
func (a *Authenticator) match(provided []byte) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	var buf []byte
	if a.scratch != nil {
		buf = a.scratch.Bytes()[:KeySize]
		defer a.scratch.Wipe()
	} else {
		buf = a.fallback[:]
		defer func() {
			for i := range a.fallback {
				a.fallback[i] = 0
			}
		}()
	}

	for i := 0; i < KeySize; i++ {
		buf[i] = a.key[i] ^ xorMask
	}
	diff, _ := foldDiff(buf, provided)
	return diff == 0
}
