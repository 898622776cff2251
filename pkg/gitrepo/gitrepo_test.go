package gitrepo_test

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"github.com/forgecrate/registry/pkg/gitrepo"
)

func newRepo(t *testing.T) *gitrepo.Repo {
	t.Helper()
	fs := memfs.New()
	repo, err := gitrepo.Init(&gitrepo.Options{FS: fs})
	require.NoError(t, err)
	return repo
}

func sig() gitrepo.Signature {
	return gitrepo.Signature{Name: "registryd", Email: "registryd@example.com", When: time.Unix(0, 0)}
}

func TestInitAddCommit(t *testing.T) {
	fs := memfs.New()
	f, err := fs.Create("3/f/foo")
	require.NoError(t, err)
	_, err = f.Write([]byte(`{"name":"foo","vers":"0.1.0"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	repo, err := gitrepo.Init(&gitrepo.Options{FS: fs})
	require.NoError(t, err)

	require.NoError(t, repo.Add("3/f/foo"))
	hash, err := repo.Commit("publish foo@0.1.0", sig())
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	head, err := repo.Head()
	require.NoError(t, err)
	require.Equal(t, hash, head)
}

func TestCommitWithNoChangesFails(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.Commit("empty", sig())
	require.ErrorIs(t, err, gitrepo.ErrEmptyCommit)
}

func TestCommitRequiresMessageAndIdentity(t *testing.T) {
	repo := newRepo(t)
	_, err := repo.Commit("", sig())
	require.Error(t, err)

	_, err = repo.Commit("msg", gitrepo.Signature{})
	require.Error(t, err)
}
