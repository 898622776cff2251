// Package gitrepo provides the high-level go-git wrapper used by
// pkg/indexrepo to drive the registry's index working copy: open/clone a
// repository, fetch-and-reset, commit, and push (reporting
// non-fast-forward rejections so pkg/indexrepo can retry).
//
// It is a trimmed, generalized descendant of the teacher's git package:
// the diff/tag/history/branch-listing surface is not carried forward
// because nothing in the index manager reads history or diffs — only
// fetch, reset-to-remote, commit, and push.
package gitrepo

import (
	"net/http"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

const (
	DefaultRemoteName   = "origin"
	DefaultBranch       = "main"
	DefaultStorerCache  = 1000
	DefaultFetchTimeout = 30 * time.Second
)

// AuthProvider resolves the authentication method to use for a remote
// URL. Exactly one credential mode (HTTPS basic or SSH key) is active at
// a time; see pkg/gitcreds.
type AuthProvider interface {
	Method(remoteURL string) (transport.AuthMethod, error)
}

// Signature is an author/committer identity for a commit.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// Options configures Open/Init/Clone.
type Options struct {
	// FS is the billy filesystem the repository's .git and worktree live
	// under. Required.
	FS billy.Filesystem

	// Branch is the branch the worktree tracks and pushes to. Defaults
	// to DefaultBranch.
	Branch string

	// Auth resolves credentials for remote operations. Nil means no
	// authentication is available.
	Auth AuthProvider

	// HTTPClient defaults to a client whose timeout is FetchTimeout. It
	// is not handed to go-git: remote operations use go-git's own
	// transport.
	HTTPClient *http.Client

	// StorerCacheSize sets the object storage's LRU cache size.
	StorerCacheSize int

	// FetchTimeout is the timeout of the default HTTPClient. Fetch, Push
	// and ResetHardToRemote are bounded only by the ctx they are given.
	FetchTimeout time.Duration
}

func (o *Options) validate() error {
	if o.FS == nil {
		return WrapError(ErrInvalidRef, "FS is required")
	}
	if o.StorerCacheSize < 0 {
		return WrapError(ErrInvalidRef, "StorerCacheSize cannot be negative")
	}
	return nil
}

func (o *Options) applyDefaults() {
	if o.Branch == "" {
		o.Branch = DefaultBranch
	}
	if o.StorerCacheSize == 0 {
		o.StorerCacheSize = DefaultStorerCache
	}
	if o.FetchTimeout == 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.FetchTimeout}
	}
}
