package httpapi_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/auth"
	"github.com/forgecrate/registry/pkg/blobstore"
	"github.com/forgecrate/registry/pkg/gitrepo"
	"github.com/forgecrate/registry/pkg/httpapi"
	"github.com/forgecrate/registry/pkg/indexrepo"
	"github.com/forgecrate/registry/pkg/metastore/boltstore"
	"github.com/forgecrate/registry/pkg/registry"
	vfsbilly "github.com/forgecrate/registry/pkg/vfs/billy"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	remoteDir := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInit(remoteDir, true)
	require.NoError(t, err)

	workdir := filepath.Join(t.TempDir(), "work")
	require.NoError(t, osfs.New(workdir).MkdirAll(".", 0o755))
	repo, err := gitrepo.Init(&gitrepo.Options{FS: osfs.New(workdir), Branch: "main"})
	require.NoError(t, err)
	require.NoError(t, repo.EnsureRemote("origin", remoteDir))
	sig := gitrepo.Signature{Name: "registryd", Email: "registryd@example.com", When: time.Unix(0, 0)}
	require.NoError(t, repo.WriteFile("config.json", []byte(`{"dl":"http://localhost/api/v1/crates","api":"http://localhost"}`)))
	require.NoError(t, repo.Add("config.json"))
	_, err = repo.Commit("initialize index", sig)
	require.NoError(t, err)
	require.NoError(t, repo.Push(context.Background(), "origin"))

	index := indexrepo.New(repo, indexrepo.Config{Author: sig})
	blobs := blobstore.New(vfsbilly.NewOSFS(filepath.Join(t.TempDir(), "blobs")), "blobs", "mirror")

	store, err := boltstore.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	registrySvc := registry.New(blobs, index, store, registry.Config{})
	authSvc := auth.New(store, auth.PasswordParams{Time: 1, MemoryKiB: 8 * 1024, Parallelism: 1, KeyLen: 32, SaltLen: 16})

	server := httpapi.New(httpapi.Config{}, registrySvc, authSvc, nil)
	return httptest.NewServer(server.Handler())
}

func publishFrame(t *testing.T, meta map[string]any, tarball []byte) []byte {
	t.Helper()
	metaJSON, err := json.Marshal(meta)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(metaJSON))))
	buf.Write(metaJSON)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(tarball))))
	buf.Write(tarball)
	return buf.Bytes()
}

func newUserToken(t *testing.T, baseURL, login string) string {
	t.Helper()
	body, err := json.Marshal(map[string]string{"password": "hunter2-hunter2"})
	require.NoError(t, err)
	resp, err := http.Post(baseURL+"/ktra/api/v1/new_user/"+login, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	require.NotEmpty(t, decoded["token"])
	return decoded["token"]
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewUserPublishDownloadFlow(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	token := newUserToken(t, srv.URL, "alice")

	frame := publishFrame(t, map[string]any{
		"name":     "widget",
		"vers":     "0.1.0",
		"deps":     []any{},
		"features": map[string]any{},
	}, []byte("tarball-bytes"))

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/crates/new", bytes.NewReader(frame))
	require.NoError(t, err)
	req.Header.Set("Authorization", token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	downloadResp, err := http.Get(srv.URL + "/api/v1/crates/widget/0.1.0/download")
	require.NoError(t, err)
	defer downloadResp.Body.Close()
	require.Equal(t, http.StatusOK, downloadResp.StatusCode)

	var data bytes.Buffer
	_, err = data.ReadFrom(downloadResp.Body)
	require.NoError(t, err)
	require.Equal(t, "tarball-bytes", data.String())
}

func TestPublishWithoutTokenIsUnauthorized(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	frame := publishFrame(t, map[string]any{"name": "widget", "vers": "0.1.0"}, []byte("x"))
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/crates/new", bytes.NewReader(frame))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestYankThenSearchAndEntry(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	token := newUserToken(t, srv.URL, "alice")

	frame := publishFrame(t, map[string]any{"name": "widget", "vers": "0.1.0"}, []byte("x"))
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/crates/new", bytes.NewReader(frame))
	req.Header.Set("Authorization", token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	yankReq, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/crates/widget/0.1.0/yank", nil)
	yankReq.Header.Set("Authorization", token)
	yankResp, err := http.DefaultClient.Do(yankReq)
	require.NoError(t, err)
	defer yankResp.Body.Close()
	require.Equal(t, http.StatusOK, yankResp.StatusCode)

	entryReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/crates/widget/0.1.0", nil)
	entryResp, err := http.DefaultClient.Do(entryReq)
	require.NoError(t, err)
	defer entryResp.Body.Close()
	require.Equal(t, http.StatusOK, entryResp.StatusCode)
	var entry map[string]any
	require.NoError(t, json.NewDecoder(entryResp.Body).Decode(&entry))
	require.Equal(t, true, entry["yanked"])

	searchReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/crates?q=widget", nil)
	searchReq.Header.Set("Authorization", token)
	searchResp, err := http.DefaultClient.Do(searchReq)
	require.NoError(t, err)
	defer searchResp.Body.Close()
	require.Equal(t, http.StatusOK, searchResp.StatusCode)
}

func TestOwnersAddAndList(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	aliceToken := newUserToken(t, srv.URL, "alice")
	_ = newUserToken(t, srv.URL, "bob")

	frame := publishFrame(t, map[string]any{"name": "widget", "vers": "0.1.0"}, []byte("x"))
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/crates/new", bytes.NewReader(frame))
	req.Header.Set("Authorization", aliceToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	body, err := json.Marshal(map[string][]string{"users": {"bob"}})
	require.NoError(t, err)
	addReq, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/crates/widget/owners", bytes.NewReader(body))
	addReq.Header.Set("Authorization", aliceToken)
	addResp, err := http.DefaultClient.Do(addReq)
	require.NoError(t, err)
	defer addResp.Body.Close()
	require.Equal(t, http.StatusOK, addResp.StatusCode)

	listReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/crates/widget/owners", nil)
	listReq.Header.Set("Authorization", aliceToken)
	listResp, err := http.DefaultClient.Do(listReq)
	require.NoError(t, err)
	defer listResp.Body.Close()
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&decoded))
	users, ok := decoded["users"].([]any)
	require.True(t, ok)
	require.Len(t, users, 2)
}
