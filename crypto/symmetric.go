package crypto

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// SymKeySize is the width of a generated content key.
const SymKeySize = 32

// SymKey is a shared secret used to encrypt file/directory block contents.
// Inodes and itables themselves are never encrypted with this key (I1).
type SymKey [SymKeySize]byte

// nonceSize is secretbox's required nonce width. Using a fresh random nonce
// per call, prefixed to the ciphertext, keeps this domain-separated from the
// signature scheme in Sign/Verify: the two never share key material or a
// byte-encoding function.
const nonceSize = 24

// GenSymKey returns a fresh random content key.
func GenSymKey() (SymKey, error) {
	var k SymKey
	if _, err := rand.Read(k[:]); err != nil {
		return SymKey{}, fmt.Errorf("crypto: gen sym key: %w", err)
	}
	return k, nil
}

// SymEncrypt authenticates and encrypts blob under key, using
// XSalsa20-Poly1305 (golang.org/x/crypto/nacl/secretbox). The returned bytes
// are nonce || ciphertext-with-tag.
func SymEncrypt(key SymKey, blob []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("crypto: sym encrypt: %w", err)
	}
	out := make([]byte, nonceSize, nonceSize+len(blob)+secretbox.Overhead)
	copy(out, nonce[:])
	out = secretbox.Seal(out, blob, &nonce, (*[32]byte)(&key))
	return out, nil
}

// SymDecrypt authenticates and decrypts the output of SymEncrypt. Any
// truncation, corruption, or key mismatch is reported as ErrBadCiphertext
// without leaking which check failed.
func SymDecrypt(key SymKey, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+secretbox.Overhead {
		return nil, ErrBadCiphertext
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	out, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, (*[32]byte)(&key))
	if !ok {
		return nil, ErrBadCiphertext
	}
	return out, nil
}
