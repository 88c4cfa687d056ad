package unlock

import (
	"encoding/hex"
	"fmt"
)

// KeySize is the unlock secret length in bytes.
const KeySize = 32

// xorMask obfuscates the key at rest so the plain secret never appears
// as a contiguous string in the binary or in a memory dump of the
// steady state.
const xorMask = 0xA7

// ObfuscatedKeyHex is set at build time via:
//
//	-ldflags "-X github.com/ppiankov/invigil/internal/unlock.ObfuscatedKeyHex=<64 hex chars>"
//
// The value is the XOR-obfuscated form of the 32-byte secret, never the
// plain secret. When empty (dev builds), the compiled-in development
// key applies.
var ObfuscatedKeyHex string

// defaultObfuscatedKeyHex is the development key in obfuscated form.
const defaultObfuscatedKeyHex = "eec9d1cec0cecbc6d3c8d58aeac6d4d3c2d58aecc2de8a959795918ad1968996"

// loadObfuscatedKey returns the obfuscated key bytes, preferring the
// build-time override.
func loadObfuscatedKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	src := ObfuscatedKeyHex
	if src == "" {
		src = defaultObfuscatedKeyHex
	}
	raw, err := hex.DecodeString(src)
	if err != nil {
		return key, fmt.Errorf("unlock: malformed key override: %w", err)
	}
	if len(raw) != KeySize {
		return key, fmt.Errorf("unlock: key override must be %d bytes, got %d", KeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// Obfuscate converts a plain secret to the stored form. Used by the
// keygen tooling; the daemon itself only ever decodes.
func Obfuscate(plain []byte) []byte {
	out := make([]byte, len(plain))
	for i, b := range plain {
		out[i] = b ^ xorMask
	}
	return out
}

// foldDiff accumulates the byte-wise difference between two equal-length
// buffers. Every byte is touched regardless of where the first mismatch
// sits; ops reports how many byte comparisons ran so tests can pin that
// property.
func foldDiff(a, b []byte) (diff byte, ops int) {
	for i := range a {
		diff |= a[i] ^ b[i]
		ops++
	}
	return diff, ops
}
