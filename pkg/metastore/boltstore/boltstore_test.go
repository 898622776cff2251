package boltstore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/metastore/boltstore"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

func newStore(t *testing.T) *boltstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.db")
	s, err := boltstore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestPutAndLookupUser(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.PutUser(ctx, domain.User{ID: 1, Login: "alice", PasswordHash: "h"}))

	byLogin, err := s.UserByLogin(ctx, "Alice")
	require.NoError(t, err)
	require.Equal(t, int64(1), byLogin.ID)

	byID, err := s.UserByID(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "alice", byID.Login)

	err = s.PutUser(ctx, domain.User{ID: 2, Login: "alice"})
	require.True(t, registryerrors.Is(err, registryerrors.AlreadyExists))
}

func TestUserByTokenHash(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.PutUser(ctx, domain.User{ID: 1, Login: "alice", TokenHash: "tok1"}))

	user, err := s.UserByTokenHash(ctx, "tok1")
	require.NoError(t, err)
	require.Equal(t, "alice", user.Login)

	_, err = s.UserByTokenHash(ctx, "nope")
	require.True(t, registryerrors.Is(err, registryerrors.NotFound))

	_, err = s.UpdateUser(ctx, 1, func(current domain.User) (domain.User, error) {
		current.TokenHash = "tok2"
		return current, nil
	})
	require.NoError(t, err)
	user, err = s.UserByTokenHash(ctx, "tok2")
	require.NoError(t, err)
	require.Equal(t, int64(1), user.ID)

	_, err = s.UserByTokenHash(ctx, "tok1")
	require.True(t, registryerrors.Is(err, registryerrors.NotFound))
}

func TestSetAndGetDescription(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	description, err := s.Description(ctx, "widget")
	require.NoError(t, err)
	require.Empty(t, description)

	require.NoError(t, s.SetDescription(ctx, "widget", "a fine widget"))
	description, err = s.Description(ctx, "Widget")
	require.NoError(t, err)
	require.Equal(t, "a fine widget", description)
}

func TestNextUserIDMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	first, err := s.NextUserID(ctx)
	require.NoError(t, err)
	second, err := s.NextUserID(ctx)
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

func TestOwnersLastOwnerInvariant(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.AddOwners(ctx, "foo", []int64{1, 2}))
	owners, err := s.Owners(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, owners, 2)

	require.NoError(t, s.RemoveOwners(ctx, "foo", []int64{1}))
	owners, err = s.Owners(ctx, "foo")
	require.NoError(t, err)
	require.Len(t, owners, 1)

	err = s.RemoveOwners(ctx, "foo", []int64{2})
	require.True(t, registryerrors.Is(err, registryerrors.LastOwner))
}

func TestMirrorRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.MirrorPut(ctx, domain.MirrorEntry{Name: "rand", Vers: "0.8.5", Cksum: "abc"}))
	entry, err := s.MirrorGet(ctx, "rand", "0.8.5")
	require.NoError(t, err)
	require.Equal(t, "abc", entry.Cksum)

	require.NoError(t, s.MirrorEvict(ctx, "rand", "0.8.5"))
	_, err = s.MirrorGet(ctx, "rand", "0.8.5")
	require.True(t, registryerrors.Is(err, registryerrors.NotFound))
}

func TestKnownNames(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.AddKnownName(ctx, "Foo"))
	require.NoError(t, s.AddKnownName(ctx, "bar"))

	names, err := s.KnownNames(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"foo", "bar"}, names)
}
