package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/mmp/bkv/bkerrors"
)

// LoadPrivateKey reads a PEM-encoded PKCS#1 or PKCS#8 RSA private key
// from filename, as spec.md §6 ("Key material") requires for restore and
// for backing up a set with use_encryption enabled.
func LoadPrivateKey(filename string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", bkerrors.ErrConfig, filename, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: %s: not PEM-encoded", bkerrors.ErrConfig, filename)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", bkerrors.ErrConfig, filename, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s: not an RSA private key", bkerrors.ErrConfig, filename)
	}
	return key, nil
}

// PublicKeyFromPrivate extracts the public half, used when a set's
// config only points at a private key file but the engine needs a
// public key to wrap new blobs' symmetric keys.
func PublicKeyFromPrivate(key *rsa.PrivateKey) *rsa.PublicKey {
	return &key.PublicKey
}
