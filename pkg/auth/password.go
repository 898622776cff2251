package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/forgecrate/registry/pkg/registryerrors"
)

// PasswordParams parameterizes the Argon2id KDF (SPEC_FULL.md §4.4a).
// The defaults follow the Argon2 RFC's interactive-use recommendation.
type PasswordParams struct {
	Time        uint32
	MemoryKiB   uint32
	Parallelism uint8
	KeyLen      uint32
	SaltLen     uint32
}

// DefaultPasswordParams is time=1, memory=64MiB, parallelism=4.
func DefaultPasswordParams() PasswordParams {
	return PasswordParams{Time: 1, MemoryKiB: 64 * 1024, Parallelism: 4, KeyLen: 32, SaltLen: 16}
}

// hashPassword encodes the result in a PHC-like string so the
// parameters travel with the hash and can change without invalidating
// previously stored credentials.
func hashPassword(password string, params PasswordParams) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", registryerrors.Wrap(registryerrors.Internal, "read random salt", err)
	}
	key := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return encodePHC(params, salt, key), nil
}

func encodePHC(params PasswordParams, salt, key []byte) string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, params.MemoryKiB, params.Time, params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key))
}

// verifyPassword recomputes the hash using the parameters embedded in
// encoded and compares in constant time.
func verifyPassword(password, encoded string) (bool, error) {
	params, salt, key, err := decodePHC(encoded)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(password), salt, params.Time, params.MemoryKiB, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(candidate, key) == 1, nil
}

func decodePHC(encoded string) (PasswordParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return PasswordParams{}, nil, nil, registryerrors.New(registryerrors.Internal, "malformed password hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return PasswordParams{}, nil, nil, registryerrors.Wrap(registryerrors.Internal, "parse password hash version", err)
	}
	var params PasswordParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.MemoryKiB, &params.Time, &params.Parallelism); err != nil {
		return PasswordParams{}, nil, nil, registryerrors.Wrap(registryerrors.Internal, "parse password hash params", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return PasswordParams{}, nil, nil, registryerrors.Wrap(registryerrors.Internal, "decode password hash salt", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return PasswordParams{}, nil, nil, registryerrors.Wrap(registryerrors.Internal, "decode password hash key", err)
	}
	return params, salt, key, nil
}
