package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Fixed field capacities, in UTF-16 code units including the terminator.
const (
	SecretSize     = 32
	MaxBannedApps  = 32
	ImageNameUnits = 64
	OrgUnitUnits   = 256
	UserSIDUnits   = 68
	DetailUnits    = 128
)

// Exact minimum payload sizes, in bytes. The dispatcher rejects any
// request or response buffer smaller than the size its opcode requires.
const (
	ProtectPidSize    = 8
	UnlockSize        = SecretSize
	HeartbeatSize     = 28
	SetUserRoleSize   = 8 + UserSIDUnits*2
	SetPolicySize     = 16 + OrgUnitUnits*2 + 4 + 32
	ReadAlertSize     = 24 + DetailUnits*2
	HardLockSize      = 8
	ProtectUiSize     = 8
	StealthSize       = 8
	SetBannedAppsSize = 4 + MaxBannedApps*ImageNameUnits*2
)

// PayloadSize returns the required payload size for an opcode, and
// whether the payload travels in the request (in) or the response.
func PayloadSize(op Op) (size int, output bool, ok bool) {
	switch op {
	case OpProtectPid:
		return ProtectPidSize, false, true
	case OpUnlock:
		return UnlockSize, false, true
	case OpHeartbeat:
		return HeartbeatSize, true, true
	case OpSetUserRole:
		return SetUserRoleSize, false, true
	case OpSetPolicy:
		return SetPolicySize, false, true
	case OpReadAlert:
		return ReadAlertSize, true, true
	case OpHardLock:
		return HardLockSize, false, true
	case OpProtectUi:
		return ProtectUiSize, false, true
	case OpStealth:
		return StealthSize, false, true
	case OpSetBannedApps:
		return SetBannedAppsSize, false, true
	default:
		return 0, false, false
	}
}

var (
	// ErrShortBuffer reports a payload smaller than its fixed layout.
	ErrShortBuffer = errors.New("protocol: buffer too small")
	// ErrCountRange reports a banned-app count above MaxBannedApps.
	ErrCountRange = errors.New("protocol: banned-app count out of range")
)

// ProtectPidRequest registers the agent service process for protection.
// Flags must be zero.
type ProtectPidRequest struct {
	TargetPid uint32
	Flags     uint32
}

func (r *ProtectPidRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ProtectPidSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.TargetPid)
	binary.LittleEndian.PutUint32(buf[4:8], r.Flags)
	return buf, nil
}

func (r *ProtectPidRequest) UnmarshalBinary(data []byte) error {
	if len(data) < ProtectPidSize {
		return fmt.Errorf("protect_pid: %w", ErrShortBuffer)
	}
	r.TargetPid = binary.LittleEndian.Uint32(data[0:4])
	r.Flags = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

// UnlockRequest carries the pre-shared secret.
type UnlockRequest struct {
	Secret [SecretSize]byte
}

func (r *UnlockRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, UnlockSize)
	copy(buf, r.Secret[:])
	return buf, nil
}

func (r *UnlockRequest) UnmarshalBinary(data []byte) error {
	if len(data) < UnlockSize {
		return fmt.Errorf("unlock: %w", ErrShortBuffer)
	}
	copy(r.Secret[:], data[:SecretSize])
	return nil
}

// HeartbeatStatus is the full status snapshot returned to every
// heartbeat. Offsets: three u32 words, four single-byte flags, then
// three more u32 words.
type HeartbeatStatus struct {
	VersionMajor            uint32
	VersionMinor            uint32
	ProtectedPid            uint32
	ProcessProtectionActive bool
	FileProtectionActive    bool
	UnlockPermitted         bool
	Alive                   bool
	FailedAttempts          uint32
	Role                    Role
	PolicyValid             bool
}

func (s *HeartbeatStatus) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HeartbeatSize)
	binary.LittleEndian.PutUint32(buf[0:4], s.VersionMajor)
	binary.LittleEndian.PutUint32(buf[4:8], s.VersionMinor)
	binary.LittleEndian.PutUint32(buf[8:12], s.ProtectedPid)
	buf[12] = encodeBool(s.ProcessProtectionActive)
	buf[13] = encodeBool(s.FileProtectionActive)
	buf[14] = encodeBool(s.UnlockPermitted)
	buf[15] = encodeBool(s.Alive)
	binary.LittleEndian.PutUint32(buf[16:20], s.FailedAttempts)
	binary.LittleEndian.PutUint32(buf[20:24], uint32(s.Role))
	binary.LittleEndian.PutUint32(buf[24:28], encodeBool32(s.PolicyValid))
	return buf, nil
}

func (s *HeartbeatStatus) UnmarshalBinary(data []byte) error {
	if len(data) < HeartbeatSize {
		return fmt.Errorf("heartbeat: %w", ErrShortBuffer)
	}
	s.VersionMajor = binary.LittleEndian.Uint32(data[0:4])
	s.VersionMinor = binary.LittleEndian.Uint32(data[4:8])
	s.ProtectedPid = binary.LittleEndian.Uint32(data[8:12])
	s.ProcessProtectionActive = data[12] != 0
	s.FileProtectionActive = data[13] != 0
	s.UnlockPermitted = data[14] != 0
	s.Alive = data[15] != 0
	s.FailedAttempts = binary.LittleEndian.Uint32(data[16:20])
	s.Role = Role(binary.LittleEndian.Uint32(data[20:24]))
	s.PolicyValid = binary.LittleEndian.Uint32(data[24:28]) != 0
	return nil
}

// SetUserRoleRequest pushes the resolved role for the active session.
type SetUserRoleRequest struct {
	Role      Role
	SessionID uint32
	UserSID   string
}

func (r *SetUserRoleRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SetUserRoleSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.Role))
	binary.LittleEndian.PutUint32(buf[4:8], r.SessionID)
	encodeWide(buf[8:], UserSIDUnits, r.UserSID)
	return buf, nil
}

func (r *SetUserRoleRequest) UnmarshalBinary(data []byte) error {
	if len(data) < SetUserRoleSize {
		return fmt.Errorf("set_user_role: %w", ErrShortBuffer)
	}
	r.Role = Role(binary.LittleEndian.Uint32(data[0:4]))
	r.SessionID = binary.LittleEndian.Uint32(data[4:8])
	sid, _ := decodeWide(data[8:], UserSIDUnits)
	r.UserSID = sid
	return nil
}

// PolicyVersion is the only accepted policy record version.
const PolicyVersion = 1

// Policy is the replace-on-write policy record.
type Policy struct {
	Version             uint32
	Flags               PolicyFlags
	HeartbeatIntervalMs uint32
	HeartbeatTimeoutMs  uint32
	OrganizationalUnit  string
	AllowedRolesMask    uint32
	Reserved            [8]uint32
}

func (p *Policy) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SetPolicySize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Version)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.Flags))
	binary.LittleEndian.PutUint32(buf[8:12], p.HeartbeatIntervalMs)
	binary.LittleEndian.PutUint32(buf[12:16], p.HeartbeatTimeoutMs)
	encodeWide(buf[16:], OrgUnitUnits, p.OrganizationalUnit)
	off := 16 + OrgUnitUnits*2
	binary.LittleEndian.PutUint32(buf[off:off+4], p.AllowedRolesMask)
	off += 4
	for i, w := range p.Reserved {
		binary.LittleEndian.PutUint32(buf[off+i*4:], w)
	}
	return buf, nil
}

func (p *Policy) UnmarshalBinary(data []byte) error {
	if len(data) < SetPolicySize {
		return fmt.Errorf("set_policy: %w", ErrShortBuffer)
	}
	p.Version = binary.LittleEndian.Uint32(data[0:4])
	p.Flags = PolicyFlags(binary.LittleEndian.Uint32(data[4:8]))
	p.HeartbeatIntervalMs = binary.LittleEndian.Uint32(data[8:12])
	p.HeartbeatTimeoutMs = binary.LittleEndian.Uint32(data[12:16])
	ou, _ := decodeWide(data[16:], OrgUnitUnits)
	p.OrganizationalUnit = ou
	off := 16 + OrgUnitUnits*2
	p.AllowedRolesMask = binary.LittleEndian.Uint32(data[off : off+4])
	off += 4
	for i := range p.Reserved {
		p.Reserved[i] = binary.LittleEndian.Uint32(data[off+i*4:])
	}
	return nil
}

// AlertRecord is the wire form of one queued alert. A record with
// Type == AlertNone means "nothing pending".
type AlertRecord struct {
	Type      AlertType
	Timestamp int64
	SourcePid uint32
	Detail    string
}

func (a *AlertRecord) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ReadAlertSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(a.Type))
	// 4 bytes of padding keep the timestamp 8-byte aligned.
	binary.LittleEndian.PutUint64(buf[8:16], uint64(a.Timestamp))
	binary.LittleEndian.PutUint32(buf[16:20], a.SourcePid)
	binary.LittleEndian.PutUint32(buf[20:24], 0)
	encodeWide(buf[24:], DetailUnits, a.Detail)
	return buf, nil
}

func (a *AlertRecord) UnmarshalBinary(data []byte) error {
	if len(data) < ReadAlertSize {
		return fmt.Errorf("read_alert: %w", ErrShortBuffer)
	}
	a.Type = AlertType(binary.LittleEndian.Uint32(data[0:4]))
	a.Timestamp = int64(binary.LittleEndian.Uint64(data[8:16]))
	a.SourcePid = binary.LittleEndian.Uint32(data[16:20])
	detail, _ := decodeWide(data[24:], DetailUnits)
	a.Detail = detail
	return nil
}

// HardLockRequest toggles the global input-block flag.
type HardLockRequest struct {
	Enable uint32
	Flags  uint32
}

func (r *HardLockRequest) MarshalBinary() ([]byte, error) {
	return marshalPair(r.Enable, r.Flags), nil
}

func (r *HardLockRequest) UnmarshalBinary(data []byte) error {
	return unmarshalPair("hard_lock", data, &r.Enable, &r.Flags)
}

// ProtectUiRequest sets or clears the lock-overlay protection slot.
type ProtectUiRequest struct {
	TargetPid uint32
	Protect   uint32
}

func (r *ProtectUiRequest) MarshalBinary() ([]byte, error) {
	return marshalPair(r.TargetPid, r.Protect), nil
}

func (r *ProtectUiRequest) UnmarshalBinary(data []byte) error {
	return unmarshalPair("protect_ui", data, &r.TargetPid, &r.Protect)
}

// StealthRequest records the capture-cloaking request.
type StealthRequest struct {
	Enable uint32
	Flags  StealthFlags
}

func (r *StealthRequest) MarshalBinary() ([]byte, error) {
	return marshalPair(r.Enable, uint32(r.Flags)), nil
}

func (r *StealthRequest) UnmarshalBinary(data []byte) error {
	var flags uint32
	if err := unmarshalPair("stealth", data, &r.Enable, &flags); err != nil {
		return err
	}
	r.Flags = StealthFlags(flags)
	return nil
}

// BannedAppsRequest replaces the banned-app set. Count is the number of
// entries the caller filled in; entries that are empty or not
// NUL-terminated within their field are skipped, not errors.
type BannedAppsRequest struct {
	Count uint32
	Names []string
}

func (r *BannedAppsRequest) MarshalBinary() ([]byte, error) {
	if len(r.Names) > MaxBannedApps {
		return nil, fmt.Errorf("set_banned_apps: %d names: %w", len(r.Names), ErrCountRange)
	}
	buf := make([]byte, SetBannedAppsSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(r.Names)))
	for i, name := range r.Names {
		off := 4 + i*ImageNameUnits*2
		encodeWide(buf[off:], ImageNameUnits, name)
	}
	return buf, nil
}

func (r *BannedAppsRequest) UnmarshalBinary(data []byte) error {
	if len(data) < SetBannedAppsSize {
		return fmt.Errorf("set_banned_apps: %w", ErrShortBuffer)
	}
	r.Count = binary.LittleEndian.Uint32(data[0:4])
	if r.Count > MaxBannedApps {
		return fmt.Errorf("set_banned_apps: count %d: %w", r.Count, ErrCountRange)
	}
	r.Names = r.Names[:0]
	for i := 0; i < int(r.Count); i++ {
		off := 4 + i*ImageNameUnits*2
		name, ok := decodeWide(data[off:], ImageNameUnits)
		if !ok || name == "" {
			continue
		}
		r.Names = append(r.Names, name)
	}
	return nil
}

func encodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func encodeBool32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func marshalPair(a, b uint32) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], a)
	binary.LittleEndian.PutUint32(buf[4:8], b)
	return buf
}

func unmarshalPair(what string, data []byte, a, b *uint32) error {
	if len(data) < 8 {
		return fmt.Errorf("%s: %w", what, ErrShortBuffer)
	}
	*a = binary.LittleEndian.Uint32(data[0:4])
	*b = binary.LittleEndian.Uint32(data[4:8])
	return nil
}
