package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/forgecrate/registry/pkg/indexrepo"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

// CratesIOUpstream is the default UpstreamIndex, resolving checksums
// against the public crates.io sparse index and tarballs against its
// download endpoint (spec.md §4.6's default).
type CratesIOUpstream struct {
	IndexBaseURL    string // default: https://index.crates.io
	DownloadBaseURL string // default: https://crates.io/api/v1/crates
	client          *http.Client
}

const (
	defaultIndexBaseURL    = "https://index.crates.io"
	defaultDownloadBaseURL = "https://crates.io/api/v1/crates"
)

// NewCratesIOUpstream builds the default upstream. client may be nil.
func NewCratesIOUpstream(indexBaseURL, downloadBaseURL string, client *http.Client) *CratesIOUpstream {
	if indexBaseURL == "" {
		indexBaseURL = defaultIndexBaseURL
	}
	if downloadBaseURL == "" {
		downloadBaseURL = defaultDownloadBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &CratesIOUpstream{IndexBaseURL: indexBaseURL, DownloadBaseURL: downloadBaseURL, client: client}
}

var _ UpstreamIndex = (*CratesIOUpstream)(nil)

type sparseIndexLine struct {
	Vers  string `json:"vers"`
	Cksum string `json:"cksum"`
}

// Checksum fetches the upstream sparse-index file for name and returns
// the cksum recorded for vers.
func (u *CratesIOUpstream) Checksum(ctx context.Context, name, vers string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.indexPath(name), nil)
	if err != nil {
		return "", registryerrors.Wrap(registryerrors.UpstreamError, "build upstream index request", err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return "", registryerrors.Wrap(registryerrors.UpstreamError, "fetch upstream index", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", registryerrors.New(registryerrors.UpstreamError,
			fmt.Sprintf("upstream index returned status %d for %q", resp.StatusCode, name))
	}

	decoder := json.NewDecoder(resp.Body)
	for {
		var line sparseIndexLine
		if err := decoder.Decode(&line); err != nil {
			break
		}
		if line.Vers == vers {
			return line.Cksum, nil
		}
	}
	return "", registryerrors.New(registryerrors.NotFound, fmt.Sprintf("upstream has no entry for %s@%s", name, vers))
}

// DownloadURL builds the upstream tarball URL (spec.md §4.6's default:
// https://crates.io/api/v1/crates/<name>/<vers>/download).
func (u *CratesIOUpstream) DownloadURL(name, vers string) string {
	return fmt.Sprintf("%s/%s/%s/download", u.DownloadBaseURL, name, vers)
}

// indexPath mirrors the registry's own index.PathFor derivation
// (spec.md §4.2): crates.io's sparse index lays files out by the same
// name-length rule.
func (u *CratesIOUpstream) indexPath(name string) string {
	return fmt.Sprintf("%s/%s", u.IndexBaseURL, indexrepo.PathFor(name))
}
