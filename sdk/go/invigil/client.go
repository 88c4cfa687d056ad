package invigil

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/ppiankov/invigil/internal/protocol"
)

// opTimeout bounds one request round-trip on the socket.
const opTimeout = 5 * time.Second

// Client is one control-socket session. Methods are safe for
// concurrent use; requests are serialized on the connection.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to the daemon's control socket. An empty path selects
// DefaultSocketPath.
func Dial(path string) (*Client, error) {
	if path == "" {
		path = DefaultSocketPath
	}
	conn, err := net.DialTimeout("unix", path, opTimeout)
	if err != nil {
		return nil, fmt.Errorf("invigil: dial %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// Close ends the session. A registered service keeps its slot; the
// daemon holds the process reference, not the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// do sends one request frame and reads its response. For output
// opcodes the request payload is a zero buffer of the response size,
// declaring the receive capacity.
func (c *Client) do(op protocol.Op, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetDeadline(time.Now().Add(opTimeout))
	if err := protocol.WriteRequest(c.conn, op, payload); err != nil {
		return nil, fmt.Errorf("invigil: %s: %w", op, err)
	}
	status, out, err := protocol.ReadResponse(c.conn)
	if err != nil {
		return nil, fmt.Errorf("invigil: %s: %w", op, err)
	}
	if status != protocol.StatusOK {
		return nil, &StatusError{Op: op.String(), Status: status.String()}
	}
	return out, nil
}

// ProtectPid registers pid as the protected service process and makes
// this session the privileged one.
func (c *Client) ProtectPid(pid uint32) error {
	req := protocol.ProtectPidRequest{TargetPid: pid}
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.do(protocol.OpProtectPid, payload)
	return err
}

// ProtectSelf registers the calling process.
func (c *Client) ProtectSelf() error {
	return c.ProtectPid(uint32(os.Getpid()))
}

// Unlock presents the unload secret. Repeated failures trip the
// daemon's lockout and a brute-force alert.
func (c *Client) Unlock(secret []byte) error {
	if len(secret) != SecretSize {
		return fmt.Errorf("invigil: secret must be %d bytes, got %d", SecretSize, len(secret))
	}
	var req protocol.UnlockRequest
	copy(req.Secret[:], secret)
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.do(protocol.OpUnlock, payload)
	return err
}

// Heartbeat reports liveness and returns the daemon's status snapshot.
func (c *Client) Heartbeat() (Status, error) {
	out, err := c.do(protocol.OpHeartbeat, make([]byte, protocol.HeartbeatSize))
	if err != nil {
		return Status{}, err
	}
	var snap protocol.HeartbeatStatus
	if err := snap.UnmarshalBinary(out); err != nil {
		return Status{}, fmt.Errorf("invigil: heartbeat: %w", err)
	}
	return statusFromWire(snap), nil
}

// SetUserRole pushes the resolved role for the active session. Role is
// one of student, teacher, admin or unknown.
func (c *Client) SetUserRole(role string, sessionID uint32, userSID string) error {
	r, err := protocol.ParseRole(role)
	if err != nil {
		return fmt.Errorf("invigil: unknown role %q", role)
	}
	req := protocol.SetUserRoleRequest{Role: r, SessionID: sessionID, UserSID: userSID}
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.do(protocol.OpSetUserRole, payload)
	return err
}

// SetPolicy replaces the policy record.
func (c *Client) SetPolicy(p Policy) error {
	wire, err := p.wire()
	if err != nil {
		return err
	}
	payload, err := wire.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.do(protocol.OpSetPolicy, payload)
	return err
}

// SetBannedApps replaces the banned-application list with names.
func (c *Client) SetBannedApps(names []string) error {
	if len(names) > MaxBannedApps {
		return fmt.Errorf("invigil: %d banned apps exceed the limit of %d", len(names), MaxBannedApps)
	}
	req := protocol.BannedAppsRequest{Names: names}
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.do(protocol.OpSetBannedApps, payload)
	return err
}

// ReadAlert pops the oldest pending alert. ok is false when the queue
// is empty.
func (c *Client) ReadAlert() (alert Alert, ok bool, err error) {
	out, err := c.do(protocol.OpReadAlert, make([]byte, protocol.ReadAlertSize))
	if err != nil {
		return Alert{}, false, err
	}
	var rec protocol.AlertRecord
	if err := rec.UnmarshalBinary(out); err != nil {
		return Alert{}, false, fmt.Errorf("invigil: read_alert: %w", err)
	}
	if rec.Type == protocol.AlertNone {
		return Alert{}, false, nil
	}
	return Alert{
		Type:      rec.Type.String(),
		Time:      time.Unix(0, rec.Timestamp),
		SourcePid: rec.SourcePid,
		Detail:    rec.Detail,
	}, true, nil
}

// HardLock engages or releases the global input block. Service-only.
func (c *Client) HardLock(enable bool) error {
	req := protocol.HardLockRequest{Enable: encodeBool(enable)}
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.do(protocol.OpHardLock, payload)
	return err
}

// ProtectUI shields or releases the lock-overlay process pid.
// Service-only.
func (c *Client) ProtectUI(pid uint32, protect bool) error {
	req := protocol.ProtectUiRequest{TargetPid: pid, Protect: encodeBool(protect)}
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.do(protocol.OpProtectUi, payload)
	return err
}

// Stealth toggles capture cloaking. Flags take suppress_indicator,
// hide_from_enumeration and cloak_duplication; they are ignored when
// disabling. Service-only.
func (c *Client) Stealth(enable bool, flags []string) error {
	req := protocol.StealthRequest{Enable: encodeBool(enable)}
	for _, name := range flags {
		f, err := protocol.ParseStealthFlag(name)
		if err != nil {
			return fmt.Errorf("invigil: unknown stealth flag %q", name)
		}
		req.Flags |= f
	}
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.do(protocol.OpStealth, payload)
	return err
}

func encodeBool(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
