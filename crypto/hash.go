package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashSize is the width in bytes of an ihash/ihandle.
const HashSize = sha256.Size

// Hash is a content hash naming an immutable block on the server. It is the
// SHA-256 digest of exactly the bytes the server was asked to store (so for
// an encrypted blob, of the ciphertext, never the plaintext).
type Hash [HashSize]byte

// HashBytes computes the content hash of blob.
func HashBytes(blob []byte) Hash {
	return Hash(sha256.Sum256(blob))
}

// IsZero reports whether h is the zero hash (never a valid stored block).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String renders h as lowercase hex, the wire form used throughout the VSL
// and BlockServer RPC (spec.md §6).
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// MarshalText implements encoding.TextMarshaler so Hash round-trips through
// encoding/json as a hex string rather than a base64 byte array.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := ParseHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseHash parses a lowercase-or-uppercase hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("crypto: parse hash: %w", err)
	}
	if len(raw) != HashSize {
		return Hash{}, fmt.Errorf("crypto: parse hash: want %d bytes, got %d", HashSize, len(raw))
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}
