package auth

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/forgecrate/registry/pkg/registryerrors"
)

// tokenBytes is spec.md §4.4's "32-byte random token."
const tokenBytes = 32

// generateToken returns the plaintext token (hex-encoded, returned to
// the caller exactly once) and its blake2b hash (the only form ever
// persisted).
func generateToken() (plaintext, hash string, err error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", registryerrors.Wrap(registryerrors.Internal, "read random token", err)
	}
	plaintext = hex.EncodeToString(raw)
	return plaintext, hashToken(plaintext), nil
}

func hashToken(plaintext string) string {
	sum := blake2b.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
