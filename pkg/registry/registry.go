// Package registry is the publish/yank/unyank/owners/search/download
// orchestrator (spec.md §4.5), coordinating pkg/blobstore, pkg/indexrepo,
// and pkg/metastore under the per-name + index-writer locking scheme of
// spec.md §5. Grounded on the teacher's service-layer shape in
// services/aws/secrets/client.go (a thin struct wrapping collaborators,
// context-threaded methods, no package-level state).
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/forgecrate/registry/pkg/blobstore"
	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/indexrepo"
	"github.com/forgecrate/registry/pkg/metastore"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

// nameRegexp is spec.md §3's package-name validity rule, shared with
// pkg/blobstore's path-component validation.
var nameRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
)

// Service implements spec.md §4.5.
type Service struct {
	blobs                     *blobstore.Store
	index                     *indexrepo.Manager
	meta                      metastore.Store
	locks                     *nameLocks
	allowedUpstreamRegistries map[string]struct{}
}

// Config selects the allow-listed alternate registries a dependency may
// reference (spec.md §4.5 step 2: "not the empty 'this registry' marker
// and is not an allow-listed upstream").
type Config struct {
	AllowedUpstreamRegistries []string
}

// New builds a Service over its three collaborating stores.
func New(blobs *blobstore.Store, index *indexrepo.Manager, meta metastore.Store, cfg Config) *Service {
	allowed := make(map[string]struct{}, len(cfg.AllowedUpstreamRegistries))
	for _, r := range cfg.AllowedUpstreamRegistries {
		allowed[r] = struct{}{}
	}
	return &Service{blobs: blobs, index: index, meta: meta, locks: newNameLocks(), allowedUpstreamRegistries: allowed}
}

// Publish implements spec.md §4.5's publish operation.
func (s *Service) Publish(ctx context.Context, caller domain.User, metaJSON PublishMetadata, tarball []byte) (Warnings, error) {
	var warnings Warnings
	err := s.locks.withLock(metaJSON.Name, func() error {
		name := metaJSON.Name
		if !nameRegexp.MatchString(name) {
			return registryerrors.New(registryerrors.InvalidMetadata, fmt.Sprintf("invalid package name %q", name))
		}
		vers, err := semver.NewVersion(metaJSON.Vers)
		if err != nil {
			return registryerrors.Wrap(registryerrors.InvalidMetadata, "parse version", err)
		}
		for _, d := range metaJSON.Deps {
			if d.Registry != "" {
				if _, ok := s.allowedUpstreamRegistries[d.Registry]; !ok {
					return registryerrors.New(registryerrors.InvalidMetadata,
						fmt.Sprintf("dependency %q names disallowed registry %q", d.Name, d.Registry))
				}
			}
		}

		owners, err := s.meta.Owners(ctx, name)
		if err != nil {
			return err
		}
		hadPriorOwnership := len(owners) > 0
		if hadPriorOwnership {
			if _, ok := owners[caller.ID]; !ok {
				return registryerrors.New(registryerrors.Forbidden, fmt.Sprintf("%q is not an owner of %q", caller.Login, name))
			}
		}

		entries, err := s.index.Entries(name)
		if err != nil {
			return err
		}
		if !hadPriorOwnership && len(entries) > 0 {
			// Index has entries but no recorded owner: spec.md §9's
			// open-question resolution. Adopt the caller and warn.
			if err := s.meta.AddOwners(ctx, name, []int64{caller.ID}); err != nil {
				return err
			}
			if err := s.meta.AddKnownName(ctx, name); err != nil {
				return err
			}
			owners[caller.ID] = struct{}{}
			hadPriorOwnership = true
			warnings.Other = append(warnings.Other,
				fmt.Sprintf("package %q had no recorded owner; %q was adopted as owner", name, caller.Login))
		}

		for _, e := range entries {
			if e.Vers == metaJSON.Vers {
				return registryerrors.New(registryerrors.DuplicateVersion,
					fmt.Sprintf("version %s of %q already published", metaJSON.Vers, name))
			}
		}
		for _, e := range entries {
			if e.Yanked {
				continue
			}
			existing, err := semver.NewVersion(e.Vers)
			if err != nil {
				continue
			}
			if !vers.GreaterThan(existing) {
				return registryerrors.New(registryerrors.LowerVersion,
					fmt.Sprintf("version %s is not greater than existing version %s", metaJSON.Vers, e.Vers))
			}
		}

		sum := sha256.Sum256(tarball)
		cksum := hex.EncodeToString(sum[:])
		entry := domain.IndexEntry{
			Name:     name,
			Vers:     metaJSON.Vers,
			Deps:     metaJSON.toDependencies(),
			Cksum:    cksum,
			Features: metaJSON.Features,
			Yanked:   false,
			Links:    metaJSON.Links,
		}

		if _, err := s.blobs.Put(name, metaJSON.Vers, tarball); err != nil {
			return err
		}

		_, err = s.index.Mutate(ctx, name, fmt.Sprintf("publish %s@%s", name, metaJSON.Vers),
			func(current []domain.IndexEntry) ([]domain.IndexEntry, error) {
				return append(current, entry), nil
			})
		if err != nil {
			return err
		}

		if !hadPriorOwnership {
			if err := s.meta.AddOwners(ctx, name, []int64{caller.ID}); err != nil {
				return err
			}
		}
		if err := s.meta.AddKnownName(ctx, name); err != nil {
			return err
		}
		// Every publish becomes the new top-of-latest line, so its
		// description always overwrites whatever Search would show.
		return s.meta.SetDescription(ctx, name, metaJSON.Description)
	})
	return warnings, err
}

// Yank implements spec.md §4.5's yank operation (setting yanked=true).
func (s *Service) Yank(ctx context.Context, caller domain.User, name, vers string) error {
	return s.setYanked(ctx, caller, name, vers, true)
}

// Unyank implements spec.md §4.5's unyank operation (setting yanked=false).
func (s *Service) Unyank(ctx context.Context, caller domain.User, name, vers string) error {
	return s.setYanked(ctx, caller, name, vers, false)
}

func (s *Service) setYanked(ctx context.Context, caller domain.User, name, vers string, yanked bool) error {
	return s.locks.withLock(name, func() error {
		if err := s.requireOwner(ctx, caller, name); err != nil {
			return err
		}
		entries, err := s.index.Entries(name)
		if err != nil {
			return err
		}
		found := false
		for i := range entries {
			if entries[i].Vers != vers {
				continue
			}
			found = true
			if entries[i].Yanked == yanked {
				return registryerrors.New(registryerrors.BadRequest,
					fmt.Sprintf("version %s of %q already %s", vers, name, yankedWord(yanked)))
			}
			break
		}
		if !found {
			return registryerrors.New(registryerrors.NotFound, fmt.Sprintf("version %s of %q not found", vers, name))
		}

		action := "yank"
		if !yanked {
			action = "unyank"
		}
		_, err = s.index.Mutate(ctx, name, fmt.Sprintf("%s %s@%s", action, name, vers),
			func(current []domain.IndexEntry) ([]domain.IndexEntry, error) {
				for i := range current {
					if current[i].Vers == vers {
						current[i].Yanked = yanked
					}
				}
				return current, nil
			})
		return err
	})
}

func yankedWord(yanked bool) string {
	if yanked {
		return "yanked"
	}
	return "unyanked"
}

func (s *Service) requireOwner(ctx context.Context, caller domain.User, name string) error {
	owners, err := s.meta.Owners(ctx, name)
	if err != nil {
		return err
	}
	if _, ok := owners[caller.ID]; !ok {
		return registryerrors.New(registryerrors.Forbidden, fmt.Sprintf("%q is not an owner of %q", caller.Login, name))
	}
	return nil
}

// OwnerInfo is one entry of the owners-list response (spec.md §6).
type OwnerInfo struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// ListOwners implements spec.md §4.5's owners "list".
func (s *Service) ListOwners(ctx context.Context, name string) ([]OwnerInfo, error) {
	owners, err := s.meta.Owners(ctx, name)
	if err != nil {
		return nil, err
	}
	result := make([]OwnerInfo, 0, len(owners))
	for id := range owners {
		user, err := s.meta.UserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		result = append(result, OwnerInfo{ID: user.ID, Login: user.Login})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Login < result[j].Login })
	return result, nil
}

// AddOwners implements spec.md §4.5's owners "add": requires caller
// ownership, resolves each login to a user id.
func (s *Service) AddOwners(ctx context.Context, caller domain.User, name string, logins []string) error {
	return s.locks.withLock(name, func() error {
		if err := s.requireOwner(ctx, caller, name); err != nil {
			return err
		}
		ids, err := s.resolveLogins(ctx, logins)
		if err != nil {
			return err
		}
		return s.meta.AddOwners(ctx, name, ids)
	})
}

// RemoveOwners implements spec.md §4.5's owners "remove": requires
// caller ownership and must preserve at least one remaining owner
// (enforced by the metastore driver's LastOwner invariant).
func (s *Service) RemoveOwners(ctx context.Context, caller domain.User, name string, logins []string) error {
	return s.locks.withLock(name, func() error {
		if err := s.requireOwner(ctx, caller, name); err != nil {
			return err
		}
		ids, err := s.resolveLogins(ctx, logins)
		if err != nil {
			return err
		}
		return s.meta.RemoveOwners(ctx, name, ids)
	})
}

func (s *Service) resolveLogins(ctx context.Context, logins []string) ([]int64, error) {
	ids := make([]int64, 0, len(logins))
	for _, login := range logins {
		user, err := s.meta.UserByLogin(ctx, login)
		if err != nil {
			return nil, err
		}
		ids = append(ids, user.ID)
	}
	return ids, nil
}

// SearchResult is one entry of a search response (spec.md §4.5's Search
// operation).
type SearchResult struct {
	Name          string `json:"name"`
	LatestVersion string `json:"max_version"`
	Description   string `json:"description"`
}

// Search implements spec.md §4.5's Search operation.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]SearchResult, int, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	names, err := s.meta.KnownNames(ctx)
	if err != nil {
		return nil, 0, err
	}
	query = strings.ToLower(query)
	var matches []string
	for _, name := range names {
		if strings.Contains(strings.ToLower(name), query) {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	total := len(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]SearchResult, 0, len(matches))
	for _, name := range matches {
		entries, err := s.index.Entries(name)
		if err != nil {
			return nil, 0, err
		}
		description, err := s.meta.Description(ctx, name)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, SearchResult{
			Name: name, LatestVersion: latestNonYankedVersion(entries), Description: description,
		})
	}
	return results, total, nil
}

func latestNonYankedVersion(entries []domain.IndexEntry) string {
	var latest *semver.Version
	var latestStr string
	for _, e := range entries {
		if e.Yanked {
			continue
		}
		v, err := semver.NewVersion(e.Vers)
		if err != nil {
			continue
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
			latestStr = e.Vers
		}
	}
	return latestStr
}

// Download implements spec.md §4.5's Download operation: resolve
// (name, vers) to blob bytes.
func (s *Service) Download(name, vers string) ([]byte, error) {
	return s.blobs.Get(name, vers)
}

// Entry returns the single index line for (name, vers) (SPEC_FULL.md
// §6's supplemental single-version lookup endpoint).
func (s *Service) Entry(name, vers string) (domain.IndexEntry, error) {
	entries, err := s.index.Entries(name)
	if err != nil {
		return domain.IndexEntry{}, err
	}
	for _, e := range entries {
		if e.Vers == vers {
			return e, nil
		}
	}
	return domain.IndexEntry{}, registryerrors.New(registryerrors.NotFound,
		fmt.Sprintf("version %s of %q not found", vers, name))
}

// RegistryConfig exposes the index's config.json (SPEC_FULL.md §4.2a).
func (s *Service) RegistryConfig() (indexrepo.RegistryConfig, error) {
	return s.index.ReadRegistryConfig()
}
