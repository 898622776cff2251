package mirror_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/blobstore"
	"github.com/forgecrate/registry/pkg/metastore/boltstore"
	"github.com/forgecrate/registry/pkg/mirror"
	"github.com/forgecrate/registry/pkg/registryerrors"
	vfsbilly "github.com/forgecrate/registry/pkg/vfs/billy"
)

const tarballBody = "fake-tarball-bytes"

type fakeUpstream struct {
	checksum    string
	downloadURL string
	checksumErr error
}

func (f *fakeUpstream) Checksum(context.Context, string, string) (string, error) {
	return f.checksum, f.checksumErr
}
func (f *fakeUpstream) DownloadURL(string, string) string { return f.downloadURL }

func newCoordinator(t *testing.T, upstream mirror.UpstreamIndex) (*mirror.Coordinator, *boltstore.Store) {
	t.Helper()
	blobs := blobstore.New(vfsbilly.NewOSFS(filepath.Join(t.TempDir(), "blobs")), "blobs", "mirror")
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return mirror.New(mirror.Config{}, blobs, store, upstream, http.DefaultClient), store
}

func TestGetFetchesAndCachesOnMiss(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tarballBody))
	}))
	defer server.Close()

	cksum := blobstore.SumHex([]byte(tarballBody))
	upstream := &fakeUpstream{checksum: cksum, downloadURL: server.URL}
	coord, store := newCoordinator(t, upstream)

	data, err := coord.Get(context.Background(), "widget", "0.1.0")
	require.NoError(t, err)
	require.Equal(t, tarballBody, string(data))

	entry, err := store.MirrorGet(context.Background(), "widget", "0.1.0")
	require.NoError(t, err)
	require.Equal(t, cksum, entry.Cksum)
}

func TestGetServesFromCacheWhenChecksumMatches(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(tarballBody))
	}))
	defer server.Close()

	cksum := blobstore.SumHex([]byte(tarballBody))
	upstream := &fakeUpstream{checksum: cksum, downloadURL: server.URL}
	coord, _ := newCoordinator(t, upstream)

	ctx := context.Background()
	_, err := coord.Get(ctx, "widget", "0.1.0")
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	_, err = coord.Get(ctx, "widget", "0.1.0")
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second Get should be served from cache without another upstream fetch")
}

func TestGetRejectsChecksumMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tarballBody))
	}))
	defer server.Close()

	upstream := &fakeUpstream{checksum: "0000000000000000000000000000000000000000000000000000000000000000", downloadURL: server.URL}
	coord, _ := newCoordinator(t, upstream)

	_, err := coord.Get(context.Background(), "widget", "0.1.0")
	require.True(t, registryerrors.Is(err, registryerrors.ChecksumMismatch))
}

func TestGetSurfacesUpstreamLookupFailureAsUpstreamError(t *testing.T) {
	upstream := &fakeUpstream{checksumErr: registryerrors.New(registryerrors.NotFound, "no such package upstream")}
	coord, _ := newCoordinator(t, upstream)

	_, err := coord.Get(context.Background(), "widget", "0.1.0")
	require.True(t, registryerrors.Is(err, registryerrors.UpstreamError))
}
