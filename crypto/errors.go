package crypto

import "errors"

// Sentinel errors surfaced by this package. Callers should match with
// errors.Is; wrapping with additional context via fmt.Errorf("...: %w", err)
// is expected at call sites.
var (
	// ErrBadSignature is returned when a signature fails to verify against
	// the claimed signer's public key.
	ErrBadSignature = errors.New("crypto: bad signature")

	// ErrBadCiphertext is returned when symmetric or asymmetric decryption
	// fails authentication or is otherwise malformed.
	ErrBadCiphertext = errors.New("crypto: bad ciphertext")

	// ErrKeyAbsent is returned when an operation needs a private key that
	// the caller did not supply.
	ErrKeyAbsent = errors.New("crypto: key absent")
)
