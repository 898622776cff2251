// Package gitcreds resolves the single credential mode the index
// repository manager authenticates with (spec.md §4.2: "Two credential
// modes are supported: HTTPS with user+password, and SSH with a private
// key path. Selected at configuration time; no fallback.") into a
// pkg/gitrepo.AuthProvider.
//
// The mode itself is fixed at configuration time; what varies is where
// the credential bytes come from, modeled as a Source so the same
// Provider works whether credentials are supplied statically or fetched
// from AWS Secrets Manager.
package gitcreds

import (
	"context"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"golang.org/x/crypto/ssh"

	"github.com/forgecrate/registry/pkg/domain"
)

// Credential is a resolved set of credential bytes. It is cleared after
// use so secret material does not linger in memory longer than needed,
// matching the teacher corpus's secret-zeroing idiom.
type Credential struct {
	Username      string
	Password      string
	PrivateKeyPEM []byte
	Passphrase    string
}

// Clear zeroes the credential's sensitive fields.
func (c *Credential) Clear() {
	if c == nil {
		return
	}
	c.Password = ""
	c.Passphrase = ""
	for i := range c.PrivateKeyPEM {
		c.PrivateKeyPEM[i] = 0
	}
	c.PrivateKeyPEM = nil
}

// Source resolves the current Credential. Implementations may read from
// static configuration, the environment, or a remote secret store.
type Source interface {
	Resolve(ctx context.Context) (*Credential, error)
}

// Provider implements pkg/gitrepo.AuthProvider for exactly one
// CredentialMode, resolved fresh on every call (so rotated AWS
// Secrets Manager-backed credentials take effect without a restart).
type Provider struct {
	mode   domain.CredentialMode
	source Source
}

// New builds a Provider for the given mode, sourcing credential bytes
// from source.
func New(mode domain.CredentialMode, source Source) *Provider {
	return &Provider{mode: mode, source: source}
}

// Method implements gitrepo.AuthProvider.
func (p *Provider) Method(remoteURL string) (transport.AuthMethod, error) {
	cred, err := p.source.Resolve(context.Background())
	if err != nil {
		return nil, fmt.Errorf("gitcreds: resolve credential: %w", err)
	}
	defer cred.Clear()

	switch p.mode {
	case domain.CredentialModeHTTPSBasic:
		return &githttp.BasicAuth{Username: cred.Username, Password: cred.Password}, nil
	case domain.CredentialModeSSHKey:
		signer, err := parseSigner(cred.PrivateKeyPEM, cred.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("gitcreds: parse SSH private key: %w", err)
		}
		user := cred.Username
		if user == "" {
			user = "git"
		}
		return &gitssh.PublicKeys{User: user, Signer: signer}, nil
	default:
		return nil, fmt.Errorf("gitcreds: unsupported credential mode %q", p.mode)
	}
}

func parseSigner(pemBytes []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(pemBytes)
}
