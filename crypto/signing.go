package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// KeyBits is the RSA modulus size used for both signing and PK-wrap keys.
const KeyBits = 2048

// GenKeyPair generates a fresh RSA-2048 keypair.
//
// RSA is a standard-library-only primitive in Go: crypto/rsa is what every
// repo in the example pack that needs asymmetric signing falls back to, and
// there is no third-party package in the pack's dependency surface that
// supersedes it (see DESIGN.md).
func GenKeyPair() (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate keypair: %w", err)
	}
	return priv, nil
}

// Sign produces an RSA-PSS/SHA-256 signature over bytes using priv.
func Sign(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrKeyAbsent
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid RSA-PSS/SHA-256 signature over data
// by pub. It never returns an error for a bad signature: callers compare the
// bool, consistent with the spec's verify(pubkey, sig, bytes) -> bool.
func Verify(pub *rsa.PublicKey, sig, data []byte) bool {
	if pub == nil {
		return false
	}
	digest := sha256.Sum256(data)
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil) == nil
}
