// Package mirror implements the optional read-through cache of an
// upstream public registry (spec.md §4.6). Its coordinating shape is
// reproduced, not copied, from oci/internal/cache/manager.go's
// Coordinator (config + storage + validity tracking); OCI's
// manifest/blob/tag multi-cache doesn't map onto this package's single
// entry-per-(name,vers) mirror cache, so only the pattern carries over.
package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forgecrate/registry/pkg/blobstore"
	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/metastore"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

// UpstreamIndex abstracts the upstream lookup of spec.md §4.6 steps 1/2
// (SPEC_FULL.md §4.6a) so the default crates.io-backed implementation
// can be swapped in tests.
type UpstreamIndex interface {
	// Checksum returns the upstream-advertised SHA-256 (hex) of
	// (name, vers)'s tarball.
	Checksum(ctx context.Context, name, vers string) (string, error)
	// DownloadURL returns the upstream tarball URL for (name, vers).
	DownloadURL(name, vers string) string
}

// Config parameterizes a Coordinator.
type Config struct {
	// FetchTimeout bounds the upstream tarball fetch (spec.md §5:
	// "a separate bound (default 60s)").
	FetchTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
}

// Coordinator is the mirror service: a read-through cache in front of
// an upstream registry.
type Coordinator struct {
	cfg      Config
	blobs    *blobstore.Store
	meta     metastore.Store
	upstream UpstreamIndex
	client   *http.Client
}

// New builds a Coordinator. client may be nil, in which case
// http.DefaultClient is used.
func New(cfg Config, blobs *blobstore.Store, meta metastore.Store, upstream UpstreamIndex, client *http.Client) *Coordinator {
	cfg.applyDefaults()
	if client == nil {
		client = http.DefaultClient
	}
	return &Coordinator{cfg: cfg, blobs: blobs, meta: meta, upstream: upstream, client: client}
}

// Get implements spec.md §4.6's get operation.
func (c *Coordinator) Get(ctx context.Context, name, vers string) ([]byte, error) {
	upstreamCksum, err := c.upstream.Checksum(ctx, name, vers)
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.UpstreamError, "look up upstream checksum", err)
	}

	if entry, err := c.meta.MirrorGet(ctx, name, vers); err == nil {
		if entry.Cksum == upstreamCksum {
			if data, gerr := c.blobs.GetMirror(name, vers); gerr == nil && blobstore.SumHex(data) == upstreamCksum {
				return data, nil
			}
		}
		// Cached entry is stale or corrupt; evict and refetch.
		_ = c.meta.MirrorEvict(ctx, name, vers)
	} else if !registryerrors.Is(err, registryerrors.NotFound) {
		return nil, err
	}

	return c.fetchAndCache(ctx, name, vers, upstreamCksum)
}

func (c *Coordinator) fetchAndCache(ctx context.Context, name, vers, upstreamCksum string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, c.upstream.DownloadURL(name, vers), nil)
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.UpstreamError, "build upstream request", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.UpstreamError, "fetch upstream tarball", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, registryerrors.New(registryerrors.UpstreamError,
			fmt.Sprintf("upstream returned status %d for %s@%s", resp.StatusCode, name, vers))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, registryerrors.Wrap(registryerrors.UpstreamError, "read upstream tarball", err)
	}

	actual := blobstore.SumHex(data)
	if actual != upstreamCksum {
		return nil, registryerrors.New(registryerrors.ChecksumMismatch,
			fmt.Sprintf("upstream tarball for %s@%s failed checksum verification", name, vers))
	}

	path, err := c.blobs.PutMirror(name, vers, data)
	if err != nil {
		return nil, err
	}
	if err := c.meta.MirrorPut(ctx, domain.MirrorEntry{
		Name: name, Vers: vers, BlobPath: path, Cksum: actual, CachedAt: nowUnix(),
	}); err != nil {
		return nil, err
	}
	return data, nil
}

// nowUnix is isolated so it can be substituted in tests without
// depending on wall-clock time.
var nowUnix = func() int64 { return time.Now().Unix() }
