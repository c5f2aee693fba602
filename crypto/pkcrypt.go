package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// oaepLabel domain-separates itable key wrapping from any other RSA-OAEP use
// of the same keypair that might be added later.
var oaepLabel = []byte("securefs/itable-key-wrap/v1")

// PKEncrypt wraps a small payload (in practice, a SymKey) under pub using
// RSA-OAEP/SHA-256. Payload size is bounded by the RSA modulus, which is
// why this is only ever used to wrap symmetric keys, never file content.
func PKEncrypt(pub *rsa.PublicKey, payload []byte) ([]byte, error) {
	if pub == nil {
		return nil, ErrKeyAbsent
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, payload, oaepLabel)
	if err != nil {
		return nil, fmt.Errorf("crypto: pk encrypt: %w", err)
	}
	return ct, nil
}

// PKDecrypt unwraps a payload produced by PKEncrypt.
func PKDecrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrKeyAbsent
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, oaepLabel)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	return pt, nil
}

// WrapSymKey wraps a content key for a specific recipient.
func WrapSymKey(pub *rsa.PublicKey, key SymKey) ([]byte, error) {
	return PKEncrypt(pub, key[:])
}

// UnwrapSymKey unwraps a content key wrapped by WrapSymKey.
func UnwrapSymKey(priv *rsa.PrivateKey, wrapped []byte) (SymKey, error) {
	raw, err := PKDecrypt(priv, wrapped)
	if err != nil {
		return SymKey{}, err
	}
	if len(raw) != SymKeySize {
		return SymKey{}, ErrBadCiphertext
	}
	var k SymKey
	copy(k[:], raw)
	return k, nil
}
