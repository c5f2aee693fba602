package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// EncodePrivatePEM encodes priv as a PKCS#8 PEM block.
func EncodePrivatePEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodePrivatePEM parses a PKCS#8 PEM-encoded RSA private key.
func DecodePrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("crypto: PEM block is not an RSA private key")
	}
	return rsaKey, nil
}

// EncodePublicPEM encodes pub as a PKIX PEM block — this is the form stored
// verbatim in usermap (/.users) on the wire.
func EncodePublicPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// DecodePublicPEM parses a PKIX PEM-encoded RSA public key.
func DecodePublicPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: PEM block is not an RSA public key")
	}
	return rsaKey, nil
}

// SavePrivateKeyFile atomically writes a PEM-encoded private key to
// dir/name with permission 0600, per spec.md §6's "user-<uid>-key.pem"
// on-disk convention. The write is atomic (write to a temp file, then
// rename) so a crash never leaves a partially written key on disk.
func SavePrivateKeyFile(dir, name string, priv *rsa.PrivateKey) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("crypto: invalid key file name %q", name)
	}
	pemBytes, err := EncodePrivatePEM(priv)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("crypto: create temp key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("crypto: chmod temp key file: %w", err)
	}
	if _, err := tmp.Write(pemBytes); err != nil {
		tmp.Close()
		return fmt.Errorf("crypto: write temp key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("crypto: close temp key file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("crypto: rename key file into place: %w", err)
	}
	return nil
}

// LoadPrivateKeyFile reads and parses a private key written by
// SavePrivateKeyFile. The directory/name split and basename check guard
// against path traversal the way node/safeio.go's readFileFromDir does.
func LoadPrivateKeyFile(dir, name string) (*rsa.PrivateKey, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return nil, fmt.Errorf("crypto: invalid key file name %q", name)
	}
	data, err := fs.ReadFile(os.DirFS(dir), name)
	if err != nil {
		return nil, fmt.Errorf("crypto: read key file: %w", err)
	}
	return DecodePrivatePEM(data)
}
