package blobstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/blobstore"
	"github.com/forgecrate/registry/pkg/registryerrors"
	billyfs "github.com/forgecrate/registry/pkg/vfs/billy"
)

func newStore() *blobstore.Store {
	return blobstore.New(billyfs.NewInMemoryFS(), "/blobs", "/mirror")
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newStore()

	path, err := s.Put("foo", "0.1.0", []byte("hello"))
	require.NoError(t, err)
	require.Contains(t, path, "foo-0.1.0.crate")

	data, err := s.Get("foo", "0.1.0")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestPutIdempotentOnIdenticalBytes(t *testing.T) {
	s := newStore()
	_, err := s.Put("foo", "0.1.0", []byte("hello"))
	require.NoError(t, err)
	_, err = s.Put("foo", "0.1.0", []byte("hello"))
	require.NoError(t, err)
}

func TestPutConflictsOnDifferentBytes(t *testing.T) {
	s := newStore()
	_, err := s.Put("foo", "0.1.0", []byte("hello"))
	require.NoError(t, err)
	_, err = s.Put("foo", "0.1.0", []byte("goodbye"))
	require.Error(t, err)
	require.True(t, registryerrors.Is(err, registryerrors.AlreadyExists))
}

func TestGetMissingIsNotFound(t *testing.T) {
	s := newStore()
	_, err := s.Get("foo", "0.1.0")
	require.True(t, registryerrors.Is(err, registryerrors.NotFound))
}

func TestRejectsPathTraversalNames(t *testing.T) {
	s := newStore()
	_, err := s.Put("../etc", "0.1.0", []byte("x"))
	require.True(t, registryerrors.Is(err, registryerrors.BadRequest))
}

func TestVerifyChecksum(t *testing.T) {
	s := newStore()
	data := []byte("hello")
	_, err := s.Put("foo", "0.1.0", data)
	require.NoError(t, err)

	ok, err := s.Verify("foo", "0.1.0", blobstore.SumHex(data))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Verify("foo", "0.1.0", "deadbeef")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMirrorRootIsSeparate(t *testing.T) {
	s := newStore()
	_, err := s.PutMirror("foo", "0.1.0", []byte("upstream"))
	require.NoError(t, err)

	_, err = s.Get("foo", "0.1.0")
	require.True(t, registryerrors.Is(err, registryerrors.NotFound))

	data, err := s.GetMirror("foo", "0.1.0")
	require.NoError(t, err)
	require.Equal(t, []byte("upstream"), data)
}
