package auth_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/auth"
	"github.com/forgecrate/registry/pkg/metastore/boltstore"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

func newService(t *testing.T) *auth.Service {
	t.Helper()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	// Keep the KDF cheap so the suite runs fast; production deployments
	// use auth.DefaultPasswordParams().
	return auth.New(store, auth.PasswordParams{Time: 1, MemoryKiB: 8 * 1024, Parallelism: 1, KeyLen: 32, SaltLen: 16})
}

func TestNewUserThenAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	user, token, err := svc.NewUser(ctx, "alice", "correct horse battery staple")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "alice", user.Login)

	authed, err := svc.Authenticate(ctx, token)
	require.NoError(t, err)
	require.Equal(t, user.ID, authed.ID)
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.Authenticate(ctx, "not-a-real-token")
	require.True(t, registryerrors.Is(err, registryerrors.Unauthorized))
}

func TestLoginRotatesToken(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, firstToken, err := svc.NewUser(ctx, "bob", "hunter2hunter2")
	require.NoError(t, err)

	_, secondToken, err := svc.Login(ctx, "bob", "hunter2hunter2")
	require.NoError(t, err)
	require.NotEqual(t, firstToken, secondToken)

	_, err = svc.Authenticate(ctx, firstToken)
	require.True(t, registryerrors.Is(err, registryerrors.Unauthorized))
	_, err = svc.Authenticate(ctx, secondToken)
	require.NoError(t, err)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, _, err := svc.NewUser(ctx, "carol", "the-real-password")
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, "carol", "wrong-password")
	require.True(t, registryerrors.Is(err, registryerrors.Unauthorized))
}

func TestChangePasswordRotatesTokenAndHash(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, oldToken, err := svc.NewUser(ctx, "dave", "old-password-1")
	require.NoError(t, err)

	_, newToken, err := svc.ChangePassword(ctx, "dave", "old-password-1", "new-password-2")
	require.NoError(t, err)
	require.NotEqual(t, oldToken, newToken)

	_, _, err = svc.Login(ctx, "dave", "old-password-1")
	require.Error(t, err)
	_, _, err = svc.Login(ctx, "dave", "new-password-2")
	require.NoError(t, err)
}

func TestNewUserDuplicateLoginFails(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, _, err := svc.NewUser(ctx, "erin", "password-one")
	require.NoError(t, err)
	_, _, err = svc.NewUser(ctx, "erin", "password-two")
	require.True(t, registryerrors.Is(err, registryerrors.AlreadyExists))
}
