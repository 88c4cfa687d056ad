// Package protocol defines the control surface shared by the invigil
// daemon, the agent and the CLI: function codes, status codes, and the
// fixed binary payload layouts exchanged over the control socket.
//
// Every payload is a packed little-endian record built from 32-bit
// integers, 64-bit timestamps and fixed-size UTF-16LE string fields.
// Required payload sizes are exact minimums and are checked by the
// dispatcher before any field is read.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Version reported in the heartbeat status snapshot.
const (
	VersionMajor = 1
	VersionMinor = 1
)

// Op identifies a control function. The numbering keeps the 0x800-based
// function codes of the device-control heritage.
type Op uint32

const (
	OpProtectPid Op = 0x800 + iota
	OpUnlock
	OpHeartbeat
	OpSetUserRole
	OpSetPolicy
	OpReadAlert
	OpHardLock
	OpProtectUi
	OpStealth
	OpSetBannedApps
)

func (o Op) String() string {
	switch o {
	case OpProtectPid:
		return "protect_pid"
	case OpUnlock:
		return "unlock"
	case OpHeartbeat:
		return "heartbeat"
	case OpSetUserRole:
		return "set_user_role"
	case OpSetPolicy:
		return "set_policy"
	case OpReadAlert:
		return "read_alert"
	case OpHardLock:
		return "hard_lock"
	case OpProtectUi:
		return "protect_ui"
	case OpStealth:
		return "stealth"
	case OpSetBannedApps:
		return "set_banned_apps"
	default:
		return fmt.Sprintf("op_0x%x", uint32(o))
	}
}

// Status is the result code carried in every response frame.
type Status uint32

const (
	StatusOK Status = iota
	StatusBufferTooSmall
	StatusInvalidParameter
	StatusAccessDenied
	StatusNotSupported
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBufferTooSmall:
		return "buffer_too_small"
	case StatusInvalidParameter:
		return "invalid_parameter"
	case StatusAccessDenied:
		return "access_denied"
	case StatusNotSupported:
		return "not_supported"
	default:
		return fmt.Sprintf("status_%d", uint32(s))
	}
}

// Frame layout: an 8-byte header followed by the payload. Requests carry
// {op u32, length u32}; responses carry {status u32, length u32}.
const (
	headerSize = 8

	// MaxPayload bounds any frame payload. The largest defined payload
	// is SetBannedApps at 4100 bytes.
	MaxPayload = 8192
)

// WriteRequest writes one request frame.
func WriteRequest(w io.Writer, op Op, payload []byte) error {
	return writeFrame(w, uint32(op), payload)
}

// WriteResponse writes one response frame.
func WriteResponse(w io.Writer, st Status, payload []byte) error {
	return writeFrame(w, uint32(st), payload)
}

func writeFrame(w io.Writer, word uint32, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("protocol: payload %d exceeds limit %d", len(payload), MaxPayload)
	}
	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], word)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[headerSize:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// ReadRequest reads one request frame. A zero-length payload is returned
// as a nil slice.
func ReadRequest(r io.Reader) (Op, []byte, error) {
	word, payload, err := readFrame(r)
	return Op(word), payload, err
}

// ReadResponse reads one response frame.
func ReadResponse(r io.Reader) (Status, []byte, error) {
	word, payload, err := readFrame(r)
	return Status(word), payload, err
}

func readFrame(r io.Reader) (uint32, []byte, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	word := binary.LittleEndian.Uint32(hdr[0:4])
	n := binary.LittleEndian.Uint32(hdr[4:8])
	if n > MaxPayload {
		return word, nil, fmt.Errorf("protocol: frame payload %d exceeds limit %d", n, MaxPayload)
	}
	if n == 0 {
		return word, nil, nil
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return word, nil, fmt.Errorf("protocol: read frame payload: %w", err)
	}
	return word, payload, nil
}
