package indexrepo_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/gitrepo"
	"github.com/forgecrate/registry/pkg/indexrepo"
)

func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	return dir
}

func cloneWorkdir(t *testing.T, remote string) *gitrepo.Repo {
	t.Helper()
	workdir := filepath.Join(t.TempDir(), "work")
	require.NoError(t, osfs.New(workdir).MkdirAll(".", 0o755))

	repo, err := gitrepo.Init(&gitrepo.Options{FS: osfs.New(workdir), Branch: "main"})
	require.NoError(t, err)
	require.NoError(t, repo.EnsureRemote("origin", remote))

	require.NoError(t, repo.WriteFile("config.json", []byte(`{"dl":"http://localhost/api/v1/crates","api":"http://localhost"}`)))
	require.NoError(t, repo.Add("config.json"))
	_, err = repo.Commit("initialize index", gitrepo.Signature{Name: "registryd", Email: "registryd@example.com", When: time.Unix(0, 0)})
	require.NoError(t, err)
	require.NoError(t, repo.Push(context.Background(), "origin"))
	return repo
}

func newManager(t *testing.T) *indexrepo.Manager {
	t.Helper()
	remote := newBareRemote(t)
	repo := cloneWorkdir(t, remote)
	return indexrepo.New(repo, indexrepo.Config{
		Author: gitrepo.Signature{Name: "registryd", Email: "registryd@example.com", When: time.Unix(0, 0)},
	})
}

func TestPathForDerivesByNameLength(t *testing.T) {
	require.Equal(t, "1/a", indexrepo.PathFor("a"))
	require.Equal(t, "2/ab", indexrepo.PathFor("ab"))
	require.Equal(t, "3/a/abc", indexrepo.PathFor("abc"))
	require.Equal(t, "ab/cd/abcd", indexrepo.PathFor("abcd"))
	require.Equal(t, "fo/o-/foo-bar", indexrepo.PathFor("foo-bar"))
}

func TestEntriesEmptyWhenMissing(t *testing.T) {
	m := newManager(t)
	entries, err := m.Entries("foo")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMutatePublishAppendsEntry(t *testing.T) {
	m := newManager(t)

	next, err := m.Mutate(context.Background(), "foo", "publish foo@0.1.0", func(current []domain.IndexEntry) ([]domain.IndexEntry, error) {
		require.Empty(t, current)
		return append(current, domain.IndexEntry{Name: "foo", Vers: "0.1.0", Cksum: "abc"}), nil
	})
	require.NoError(t, err)
	require.Len(t, next, 1)

	entries, err := m.Entries("foo")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "0.1.0", entries[0].Vers)
}

func TestReadRegistryConfig(t *testing.T) {
	m := newManager(t)
	cfg, err := m.ReadRegistryConfig()
	require.NoError(t, err)
	require.Equal(t, "http://localhost/api/v1/crates", cfg.DL)
}
