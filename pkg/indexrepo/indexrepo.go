// Package indexrepo implements the git-backed index repository manager
// (spec.md §4.2): a single local working clone of the remote index, a
// process-wide writer mutex, and a fetch→apply→commit→push loop with
// bounded retry on non-fast-forward push rejection.
package indexrepo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/forgecrate/registry/pkg/domain"
	"github.com/forgecrate/registry/pkg/gitrepo"
	"github.com/forgecrate/registry/pkg/registryerrors"
)

// DefaultMaxRetries is the recommended bound from spec.md §4.2.
const DefaultMaxRetries = 5

// DefaultGitTimeout is spec.md §5's default bound on each fetch/push
// round trip.
const DefaultGitTimeout = 30 * time.Second

// Config configures a Manager.
type Config struct {
	// Remote is the git remote name to fetch/push against. Defaults to
	// gitrepo.DefaultRemoteName.
	Remote string

	// MaxRetries bounds the fetch-reset-apply-commit-push loop on
	// non-fast-forward rejection. Defaults to DefaultMaxRetries.
	MaxRetries int

	// GitTimeout bounds each fetch and push round trip within a single
	// Mutate attempt. Defaults to DefaultGitTimeout.
	GitTimeout time.Duration

	// Author is the commit author/committer identity used for every
	// index mutation.
	Author gitrepo.Signature
}

func (c *Config) applyDefaults() {
	if c.Remote == "" {
		c.Remote = gitrepo.DefaultRemoteName
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.GitTimeout <= 0 {
		c.GitTimeout = DefaultGitTimeout
	}
}

// Manager owns the local working clone of the index repository.
type Manager struct {
	repo *gitrepo.Repo
	cfg  Config
	mu   sync.Mutex
}

// New builds a Manager around an already-opened/cloned repo.
func New(repo *gitrepo.Repo, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{repo: repo, cfg: cfg}
}

// PathFor derives the index file path for name, per spec.md §4.2:
// length 1 -> "1/<name>"; length 2 -> "2/<name>"; length 3 ->
// "3/<first letter>/<name>"; length >= 4 -> "<name[0:2]>/<name[2:4]>/<name>".
// The name is lower-cased for path purposes only.
func PathFor(name string) string {
	lower := strings.ToLower(name)
	switch len(lower) {
	case 0:
		return lower
	case 1:
		return "1/" + lower
	case 2:
		return "2/" + lower
	case 3:
		return "3/" + lower[:1] + "/" + lower
	default:
		return lower[:2] + "/" + lower[2:4] + "/" + lower
	}
}

// Entries reads the index file for name directly from the working
// copy, tolerating a missing file by returning an empty slice. It does
// not fetch first — callers that need the latest remote state call
// Mutate, which resets to remote before reading.
func (m *Manager) Entries(name string) ([]domain.IndexEntry, error) {
	return m.readEntries(name)
}

func (m *Manager) readEntries(name string) ([]domain.IndexEntry, error) {
	data, err := m.repo.ReadFile(PathFor(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil // missing file: no entries yet
		}
		return nil, registryerrors.Wrap(registryerrors.IoError, "read index file", err)
	}
	return decodeEntries(data)
}

func decodeEntries(data []byte) ([]domain.IndexEntry, error) {
	var entries []domain.IndexEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var e domain.IndexEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, registryerrors.Wrap(registryerrors.InvalidMetadata, "decode index line", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, registryerrors.Wrap(registryerrors.IoError, "scan index file", err)
	}
	return entries, nil
}

func encodeEntries(entries []domain.IndexEntry) ([]byte, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return nil, registryerrors.Wrap(registryerrors.Internal, "encode index line", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// MutateFunc transforms the current ordered entries for a name into the
// entries that should be committed.
type MutateFunc func(current []domain.IndexEntry) ([]domain.IndexEntry, error)

// Mutate performs the fetch→reset→apply→commit→push loop of spec.md
// §4.2 under the manager's single writer mutex. message is used as the
// commit message; it should name the operation and package. Each fetch
// and push is bound by cfg.GitTimeout (spec.md §5). On exhausting
// MaxRetries against non-fast-forward pushes, it returns a
// registryerrors.IndexBusy error.
func (m *Manager) Mutate(ctx context.Context, name, message string, f MutateFunc) ([]domain.IndexEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		resetErr := func() error {
			rctx, cancel := context.WithTimeout(ctx, m.cfg.GitTimeout)
			defer cancel()
			return m.repo.ResetHardToRemote(rctx, m.cfg.Remote)
		}()
		if resetErr != nil && !errors.Is(resetErr, gitrepo.ErrAlreadyUpToDate) {
			return nil, registryerrors.Wrap(registryerrors.IoError, "fetch/reset index before mutate", resetErr)
		}

		current, err := m.readEntries(name)
		if err != nil {
			return nil, err
		}

		next, err := f(current)
		if err != nil {
			return nil, err
		}

		encoded, err := encodeEntries(next)
		if err != nil {
			return nil, err
		}

		path := PathFor(name)
		if err := m.repo.WriteFile(path, encoded); err != nil {
			return nil, registryerrors.Wrap(registryerrors.IoError, "write index file", err)
		}
		if err := m.repo.Add(path); err != nil {
			return nil, registryerrors.Wrap(registryerrors.IoError, "stage index file", err)
		}

		if _, err := m.repo.Commit(message, m.cfg.Author); err != nil {
			if errors.Is(err, gitrepo.ErrEmptyCommit) {
				return current, nil
			}
			return nil, registryerrors.Wrap(registryerrors.IoError, "commit index change", err)
		}

		err = func() error {
			pctx, cancel := context.WithTimeout(ctx, m.cfg.GitTimeout)
			defer cancel()
			return m.repo.Push(pctx, m.cfg.Remote)
		}()
		switch {
		case err == nil, errors.Is(err, gitrepo.ErrAlreadyUpToDate):
			return next, nil
		case errors.Is(err, gitrepo.ErrNotFastForward):
			lastErr = err
			continue
		default:
			return nil, registryerrors.Wrap(registryerrors.IoError, "push index change", err)
		}
	}

	return nil, registryerrors.Wrapf(registryerrors.IndexBusy, lastErr,
		"index push rejected after %d attempts for %q", m.cfg.MaxRetries, name)
}

// RegistryConfig is the opaque top-level config.json the index publishes
// for clients; the manager reads, never writes, it.
type RegistryConfig struct {
	DL  string `json:"dl"`
	API string `json:"api"`
}

// ReadRegistryConfig reads the index's top-level config.json (SPEC_FULL
// §4.2a), used by cmd/registryd at startup to sanity-check the
// advertised download template against the committed index.
func (m *Manager) ReadRegistryConfig() (RegistryConfig, error) {
	data, err := m.repo.ReadFile("config.json")
	if err != nil {
		return RegistryConfig{}, registryerrors.Wrap(registryerrors.IoError, "read config.json", err)
	}
	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RegistryConfig{}, registryerrors.Wrap(registryerrors.Internal, "decode config.json", err)
	}
	return cfg, nil
}
