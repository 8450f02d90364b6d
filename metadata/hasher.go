package metadata

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Hasher digests a metadata document for integrity verification.
type Hasher func(data []byte) string

// NewHasher returns the digest function for one of the configured
// ENCRYPTION_ALGORITHM values.
func NewHasher(algorithm string) (Hasher, error) {
	switch algorithm {
	case "sha256":
		return func(data []byte) string {
			sum := sha256.Sum256(data)
			return hex.EncodeToString(sum[:])
		}, nil
	case "sha512":
		return func(data []byte) string {
			sum := sha512.Sum512(data)
			return hex.EncodeToString(sum[:])
		}, nil
	case "sha3_256":
		return func(data []byte) string {
			sum := sha3.Sum256(data)
			return hex.EncodeToString(sum[:])
		}, nil
	case "blake2b_256":
		return func(data []byte) string {
			sum := blake2b.Sum256(data)
			return hex.EncodeToString(sum[:])
		}, nil
	default:
		return nil, errors.Errorf("unknown hash algorithm %q", algorithm)
	}
}
