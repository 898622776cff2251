package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// Repo wraps a non-bare git working copy.
type Repo struct {
	repo     *git.Repository
	worktree *git.Worktree
	options  Options
}

func storageFor(opts *Options) (*filesystem.Storage, error) {
	dotGit, err := opts.FS.Chroot(".git")
	if err != nil {
		return nil, fmt.Errorf("chroot .git: %w", err)
	}
	objCache := cache.NewObjectLRU(cache.FileSize(opts.StorerCacheSize))
	return filesystem.NewStorage(dotGit, objCache), nil
}

// Init creates a new, empty non-bare repository.
func Init(opts *Options) (*Repo, error) {
	if err := opts.validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	storage, err := storageFor(opts)
	if err != nil {
		return nil, WrapError(err, "build storage")
	}

	repo, err := git.Init(storage, opts.FS)
	if err != nil {
		return nil, WrapError(err, "init repository")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "get worktree")
	}
	return &Repo{repo: repo, worktree: worktree, options: *opts}, nil
}

// Open opens an existing repository.
func Open(opts *Options) (*Repo, error) {
	if err := opts.validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	storage, err := storageFor(opts)
	if err != nil {
		return nil, WrapError(err, "build storage")
	}
	repo, err := git.Open(storage, opts.FS)
	if err != nil {
		return nil, WrapError(err, "open repository")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "get worktree")
	}
	return &Repo{repo: repo, worktree: worktree, options: *opts}, nil
}

// Clone clones remoteURL into a fresh working copy.
func Clone(remoteURL string, opts *Options) (*Repo, error) {
	if remoteURL == "" {
		return nil, WrapError(ErrInvalidRef, "remote URL cannot be empty")
	}
	if err := opts.validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	storage, err := storageFor(opts)
	if err != nil {
		return nil, WrapError(err, "build storage")
	}

	cloneOpts := &git.CloneOptions{
		URL:           remoteURL,
		ReferenceName: plumbing.NewBranchReferenceName(opts.Branch),
	}
	if opts.Auth != nil {
		method, err := opts.Auth.Method(remoteURL)
		if err != nil {
			return nil, WrapError(ErrAuthRequired, "resolve auth method")
		}
		cloneOpts.Auth = method
	}

	repo, err := git.Clone(storage, opts.FS, cloneOpts)
	if err != nil {
		return nil, WrapError(err, "clone repository")
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "get worktree")
	}
	return &Repo{repo: repo, worktree: worktree, options: *opts}, nil
}

func (r *Repo) remoteURL(remote string) (string, error) {
	cfg, err := r.repo.Remote(remote)
	if err != nil {
		return "", WrapError(err, "get remote configuration")
	}
	urls := cfg.Config().URLs
	if len(urls) == 0 {
		return "", WrapError(ErrInvalidRef, "remote has no URLs")
	}
	return urls[0], nil
}

func (r *Repo) authMethod(remote string) (transport.AuthMethod, error) {
	if r.options.Auth == nil {
		return nil, nil
	}
	url, err := r.remoteURL(remote)
	if err != nil {
		return nil, err
	}
	method, err := r.options.Auth.Method(url)
	if err != nil {
		return nil, WrapError(ErrAuthRequired, "resolve auth method")
	}
	return method, nil
}

// Fetch fetches remote into the local refs, without touching the
// worktree. ctx bounds the network round trip (spec.md §5's git
// operation timeout).
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	if remote == "" {
		remote = DefaultRemoteName
	}
	auth, err := r.authMethod(remote)
	if err != nil {
		return err
	}
	err = r.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: remote, Auth: auth})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		return ErrAlreadyUpToDate
	case errors.Is(err, git.ErrRemoteNotFound):
		return WrapError(ErrResolveFailed, "remote not found")
	default:
		return WrapError(err, "fetch from remote")
	}
}

// ResetHardToRemote fetches remote/branch and hard-resets the worktree
// to it, discarding any local commits/changes. This is step 1 of
// pkg/indexrepo's mutate loop: the local clone must track the remote
// exactly before a new line is appended.
func (r *Repo) ResetHardToRemote(ctx context.Context, remote string) error {
	if remote == "" {
		remote = DefaultRemoteName
	}
	err := r.Fetch(ctx, remote)
	if err != nil && !errors.Is(err, ErrAlreadyUpToDate) {
		return err
	}

	ref := plumbing.NewRemoteReferenceName(remote, r.options.Branch)
	remoteRef, err := r.repo.Reference(ref, true)
	if err != nil {
		return WrapErrorf(err, "resolve remote branch %q", ref)
	}

	if err := r.worktree.Reset(&git.ResetOptions{
		Commit: remoteRef.Hash(),
		Mode:   git.HardReset,
	}); err != nil {
		return WrapError(err, "reset to remote head")
	}
	return nil
}

// Commit commits all currently staged changes.
func (r *Repo) Commit(msg string, who Signature) (string, error) {
	if msg == "" {
		return "", WrapError(ErrInvalidRef, "commit message cannot be empty")
	}
	if who.Name == "" || who.Email == "" {
		return "", WrapError(ErrInvalidRef, "committer name and email are required")
	}

	status, err := r.worktree.Status()
	if err != nil {
		return "", WrapError(err, "get worktree status")
	}
	staged := false
	for _, fs := range status {
		if fs.Staging != git.Untracked && fs.Staging != git.Unmodified {
			staged = true
			break
		}
	}
	if !staged {
		return "", ErrEmptyCommit
	}

	sig := &object.Signature{Name: who.Name, Email: who.Email, When: who.When}
	hash, err := r.worktree.Commit(msg, &git.CommitOptions{
		Author:    sig,
		Committer: sig,
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", ErrEmptyCommit
		}
		return "", WrapError(err, "create commit")
	}
	return hash.String(), nil
}

// Push pushes the configured branch to remote. Returns ErrNotFastForward
// if the remote has diverged; the caller (pkg/indexrepo) is expected to
// ResetHardToRemote and retry. ctx bounds the network round trip.
func (r *Repo) Push(ctx context.Context, remote string) error {
	if remote == "" {
		remote = DefaultRemoteName
	}
	auth, err := r.authMethod(remote)
	if err != nil {
		return err
	}
	err = r.repo.PushContext(ctx, &git.PushOptions{RemoteName: remote, Auth: auth})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		return ErrAlreadyUpToDate
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return ErrNotFastForward
	default:
		return WrapError(err, "push to remote")
	}
}

// Add stages paths (exact paths or glob patterns) for the next commit.
func (r *Repo) Add(paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?[") {
			matches, err := util.Glob(r.options.FS, p)
			if err != nil {
				return WrapErrorf(err, "invalid glob pattern %q", p)
			}
			for _, m := range matches {
				if _, err := r.worktree.Add(m); err != nil {
					return WrapErrorf(err, "add path %q", m)
				}
			}
			continue
		}
		if _, err := r.worktree.Add(p); err != nil {
			return WrapErrorf(err, "add path %q", p)
		}
	}
	return nil
}

// Remove removes paths from the index and worktree.
func (r *Repo) Remove(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := r.worktree.Remove(p); err != nil {
			return WrapErrorf(err, "remove path %q", p)
		}
	}
	return nil
}

// Head returns the current HEAD commit hash as a hex string.
func (r *Repo) Head() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", WrapError(err, "resolve HEAD")
	}
	return head.Hash().String(), nil
}

// EnsureRemote creates the named remote with url if it does not exist;
// an existing remote of that name is left unchanged.
func (r *Repo) EnsureRemote(name, url string) error {
	_, err := r.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}})
	if err != nil && !errors.Is(err, git.ErrRemoteExists) {
		return WrapErrorf(err, "create remote %q", name)
	}
	return nil
}
