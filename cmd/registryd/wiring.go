package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/forgecrate/registry/pkg/auth"
	"github.com/forgecrate/registry/pkg/blobstore"
	"github.com/forgecrate/registry/pkg/config"
	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/gitcreds"
	"github.com/forgecrate/registry/pkg/gitrepo"
	"github.com/forgecrate/registry/pkg/httpapi"
	"github.com/forgecrate/registry/pkg/indexrepo"
	"github.com/forgecrate/registry/pkg/metastore"
	"github.com/forgecrate/registry/pkg/mirror"
	"github.com/forgecrate/registry/pkg/registry"
	vfsbilly "github.com/forgecrate/registry/pkg/vfs/billy"
)

// app bundles every wired component a running registryd needs; serve
// builds it through buildApp, while migrate opens only the metastore.
type app struct {
	store  metastore.Store
	server *httpapi.Server
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	authProvider, err := buildAuthProvider(cfg.Index)
	if err != nil {
		return nil, err
	}

	repo, err := openOrCloneIndex(cfg.Index, authProvider)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	sig := gitrepo.Signature{Name: cfg.Index.AuthorName, Email: cfg.Index.AuthorEmail, When: time.Now()}
	indexMgr := indexrepo.New(repo, indexrepo.Config{MaxRetries: cfg.Index.MaxRetries, GitTimeout: cfg.Index.GitTimeout, Author: sig})

	if err := os.MkdirAll(cfg.BlobStore.Base, 0o755); err != nil {
		return nil, fmt.Errorf("create blob store base %q: %w", cfg.BlobStore.Base, err)
	}
	// Root and MirrorRoot are sibling subdirectories under Base: one
	// vfs.Filesystem, two named subtrees, matching blobstore.New's
	// root/mirrorRoot semantics.
	blobs := blobstore.New(vfsbilly.NewOSFS(cfg.BlobStore.Base), cfg.BlobStore.Root, cfg.BlobStore.MirrorRoot)

	store, err := newMetastore(ctx, cfg.Metastore)
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}

	registrySvc := registry.New(blobs, indexMgr, store, registry.Config{})
	authSvc := auth.New(store, auth.PasswordParams{
		Time: cfg.Auth.ArgonTime, MemoryKiB: cfg.Auth.ArgonMemoryKiB,
		Parallelism: cfg.Auth.ArgonParallelism, KeyLen: 32, SaltLen: 16,
	})

	var mirrorCoord *mirror.Coordinator
	if cfg.Mirror.Enabled {
		upstream := mirror.NewCratesIOUpstream(cfg.Mirror.IndexBaseURL, cfg.Mirror.DownloadBaseURL, nil)
		mirrorCoord = mirror.New(mirror.Config{FetchTimeout: cfg.Mirror.FetchTimeout}, blobs, store, upstream, nil)
	}

	if regCfg, err := indexMgr.ReadRegistryConfig(); err != nil {
		logWarn("could not read index config.json at startup", err)
	} else if regCfg.DL != cfg.Server.DownloadPath && cfg.Server.DownloadPath != "" {
		logWarn(fmt.Sprintf("configured download_path %q does not match index config.json dl %q", cfg.Server.DownloadPath, regCfg.DL), nil)
	}

	server := httpapi.New(httpapi.Config{
		ReadTimeout: cfg.Server.ReadTimeout, WriteTimeout: cfg.Server.WriteTimeout,
	}, registrySvc, authSvc, mirrorCoord)

	return &app{store: store, server: server}, nil
}

func buildAuthProvider(cfg config.IndexConfig) (*gitcreds.Provider, error) {
	switch cfg.CredentialMode {
	case "https_basic":
		return gitcreds.New(domain.CredentialModeHTTPSBasic, gitcreds.NewStaticSource(gitcreds.Credential{
			Username: cfg.HTTPSUsername, Password: cfg.HTTPSPassword,
		})), nil
	case "ssh_key":
		key, err := os.ReadFile(cfg.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key %q: %w", cfg.SSHKeyPath, err)
		}
		return gitcreds.New(domain.CredentialModeSSHKey, gitcreds.NewStaticSource(gitcreds.Credential{
			PrivateKeyPEM: key, Passphrase: cfg.SSHPassphrase,
		})), nil
	default:
		return nil, fmt.Errorf("unknown credential_mode %q", cfg.CredentialMode)
	}
}

// openOrCloneIndex opens the index's local working copy if it already
// exists on disk, else clones it fresh from cfg.RemoteURL.
func openOrCloneIndex(cfg config.IndexConfig, auth gitrepo.AuthProvider) (*gitrepo.Repo, error) {
	opts := &gitrepo.Options{
		FS:     osfs.New(cfg.WorkDir),
		Branch: cfg.Branch,
		Auth:   auth,
	}

	if _, err := os.Stat(cfg.WorkDir + "/.git"); err == nil {
		return gitrepo.Open(opts)
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir %q: %w", cfg.WorkDir, err)
	}
	return gitrepo.Clone(cfg.RemoteURL, opts)
}
