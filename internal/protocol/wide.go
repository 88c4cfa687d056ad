package protocol

import (
	"encoding/binary"
	"unicode/utf16"
)

// encodeWide writes s as UTF-16LE into a fixed field of the given number
// of code units, truncating to units-1 so the terminating NUL always
// fits. The remainder of the field is zeroed.
func encodeWide(dst []byte, units int, s string) {
	enc := utf16.Encode([]rune(s))
	if len(enc) > units-1 {
		enc = enc[:units-1]
	}
	for i, u := range enc {
		binary.LittleEndian.PutUint16(dst[i*2:], u)
	}
	for i := len(enc); i < units; i++ {
		binary.LittleEndian.PutUint16(dst[i*2:], 0)
	}
}

// decodeWide reads a NUL-terminated UTF-16LE string from a fixed field
// of the given number of code units. ok is false when the field carries
// no terminator, which callers treat as a malformed entry.
func decodeWide(src []byte, units int) (s string, ok bool) {
	buf := make([]uint16, 0, units)
	for i := 0; i < units; i++ {
		u := binary.LittleEndian.Uint16(src[i*2:])
		if u == 0 {
			return string(utf16.Decode(buf)), true
		}
		buf = append(buf, u)
	}
	return "", false
}
