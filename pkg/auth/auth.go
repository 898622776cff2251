// Package auth implements the registry's account service (spec.md
// §4.4): password hashing via golang.org/x/crypto/argon2, token
// issuance via crypto/rand hashed with golang.org/x/crypto/blake2b.
// Grounded in spirit on secrets/secret.go's Clear() idiom: derived keys
// are compared in constant time via crypto/subtle; no buffer is zeroed.
package auth

import (
	"context"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/metastore"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

// Service is the account service bound to a metadata store.
type Service struct {
	store  metastore.Store
	params PasswordParams
}

// New builds a Service. Pass DefaultPasswordParams() unless the
// deployment's configuration overrides the KDF cost.
func New(store metastore.Store, params PasswordParams) *Service {
	return &Service{store: store, params: params}
}

// NewUser implements spec.md §4.4's new_user: requires login not to
// exist, returns the plaintext token exactly once.
func (s *Service) NewUser(ctx context.Context, login, password string) (domain.User, string, error) {
	passwordHash, err := hashPassword(password, s.params)
	if err != nil {
		return domain.User{}, "", err
	}
	plaintext, tokenHash, err := generateToken()
	if err != nil {
		return domain.User{}, "", err
	}

	id, err := s.store.NextUserID(ctx)
	if err != nil {
		return domain.User{}, "", err
	}
	user := domain.User{ID: id, Login: login, PasswordHash: passwordHash, TokenHash: tokenHash}
	if err := s.store.PutUser(ctx, user); err != nil {
		return domain.User{}, "", err
	}
	return user, plaintext, nil
}

// Login implements spec.md §4.4's login: verifies the password,
// rotates the token, and returns the new plaintext.
func (s *Service) Login(ctx context.Context, login, password string) (domain.User, string, error) {
	user, err := s.store.UserByLogin(ctx, login)
	if err != nil {
		return domain.User{}, "", err
	}
	ok, err := verifyPassword(password, user.PasswordHash)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok {
		return domain.User{}, "", registryerrors.New(registryerrors.Unauthorized, "invalid login or password")
	}
	return s.rotateToken(ctx, user.ID)
}

// ChangePassword implements spec.md §4.4's change_password: verifies
// old, replaces the hash, and rotates the token.
func (s *Service) ChangePassword(ctx context.Context, login, oldPassword, newPassword string) (domain.User, string, error) {
	user, err := s.store.UserByLogin(ctx, login)
	if err != nil {
		return domain.User{}, "", err
	}
	ok, err := verifyPassword(oldPassword, user.PasswordHash)
	if err != nil {
		return domain.User{}, "", err
	}
	if !ok {
		return domain.User{}, "", registryerrors.New(registryerrors.Unauthorized, "invalid login or password")
	}

	newHash, err := hashPassword(newPassword, s.params)
	if err != nil {
		return domain.User{}, "", err
	}
	plaintext, tokenHash, err := generateToken()
	if err != nil {
		return domain.User{}, "", err
	}

	updated, err := s.store.UpdateUser(ctx, user.ID, func(current domain.User) (domain.User, error) {
		current.PasswordHash = newHash
		current.TokenHash = tokenHash
		return current, nil
	})
	if err != nil {
		return domain.User{}, "", err
	}
	return updated, plaintext, nil
}

func (s *Service) rotateToken(ctx context.Context, id int64) (domain.User, string, error) {
	plaintext, tokenHash, err := generateToken()
	if err != nil {
		return domain.User{}, "", err
	}
	updated, err := s.store.UpdateUser(ctx, id, func(current domain.User) (domain.User, error) {
		current.TokenHash = tokenHash
		return current, nil
	})
	if err != nil {
		return domain.User{}, "", err
	}
	return updated, plaintext, nil
}

// Authenticate implements spec.md §4.4's authenticate: hashes the
// presented token and looks up the user, returning Unauthorized if no
// user holds it. The resolved user's current TokenHash is re-checked
// against the presented hash so a driver whose secondary index still
// carries a stale entry for a token rotated out from under it (rather
// than deleted) cannot authenticate as that user (spec.md §8).
func (s *Service) Authenticate(ctx context.Context, tokenPlaintext string) (domain.User, error) {
	presented := hashToken(tokenPlaintext)
	user, err := s.store.UserByTokenHash(ctx, presented)
	if err != nil {
		if registryerrors.Is(err, registryerrors.NotFound) {
			return domain.User{}, registryerrors.New(registryerrors.Unauthorized, "invalid or unknown token")
		}
		return domain.User{}, err
	}
	if user.TokenHash != presented {
		return domain.User{}, registryerrors.New(registryerrors.Unauthorized, "invalid or unknown token")
	}
	return user, nil
}
