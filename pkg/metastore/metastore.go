// Package metastore defines the abstract metadata/auth store contract
// (spec.md §4.3): users, package ownership, mirror cache bookkeeping,
// and the known-names side table used by search. Three drivers
// implement the contract: metastore/boltstore (embedded ordered KV),
// metastore/redisstore (networked in-memory KV), and
// metastore/dynamostore (document store).
package metastore

import (
	"context"

	"github.com/forgecrate/registry/pkg/domain"
)

// UpdateFunc transforms the current User into its replacement. Store
// implementations retry UpdateUser on optimistic-concurrency contention.
type UpdateFunc func(current domain.User) (domain.User, error)

// Store is the contract every registry component depends on; it never
// depends on a concrete driver directly.
type Store interface {
	// UserByLogin returns registryerrors.NotFound if login is unknown.
	UserByLogin(ctx context.Context, login string) (domain.User, error)
	// UserByID returns registryerrors.NotFound if id is unknown.
	UserByID(ctx context.Context, id int64) (domain.User, error)
	// UserByTokenHash looks a user up by their current API token's hash,
	// used to authenticate mutating requests. Returns
	// registryerrors.NotFound if no user holds that token.
	UserByTokenHash(ctx context.Context, tokenHash string) (domain.User, error)
	// PutUser inserts a new user, failing AlreadyExists on duplicate login.
	PutUser(ctx context.Context, user domain.User) error
	// UpdateUser performs an optimistic read-modify-write of the user
	// identified by id, retrying internally on contention.
	UpdateUser(ctx context.Context, id int64, f UpdateFunc) (domain.User, error)
	// NextUserID allocates the next monotonic user id.
	NextUserID(ctx context.Context) (int64, error)

	// Owners returns the set of user ids permitted to manage name.
	Owners(ctx context.Context, name string) (map[int64]struct{}, error)
	// AddOwners adds ids to name's owner set.
	AddOwners(ctx context.Context, name string, ids []int64) error
	// RemoveOwners removes ids from name's owner set, failing
	// registryerrors.LastOwner if doing so would leave it empty.
	RemoveOwners(ctx context.Context, name string, ids []int64) error

	// MirrorGet returns registryerrors.NotFound if no cache entry exists.
	MirrorGet(ctx context.Context, name, vers string) (domain.MirrorEntry, error)
	MirrorPut(ctx context.Context, entry domain.MirrorEntry) error
	MirrorEvict(ctx context.Context, name, vers string) error

	// KnownNames returns every package name ever published locally.
	KnownNames(ctx context.Context) ([]string, error)
	// AddKnownName appends name to the known-names side table; a no-op
	// if already present.
	AddKnownName(ctx context.Context, name string) error

	// SetDescription records name's top-of-latest description, read back
	// by Search (spec.md §4.5). Publish calls this on every successful
	// publish, so the stored value always reflects the most recently
	// published version's description.
	SetDescription(ctx context.Context, name, description string) error
	// Description returns the description last recorded via
	// SetDescription, or "" if none was ever recorded.
	Description(ctx context.Context, name string) (string, error)

	Close() error
}

// DriverConfig selects and parameterizes a Store implementation
// (SPEC_FULL.md §4.3a).
type DriverConfig struct {
	Driver string // "bolt", "redis", "dynamodb"

	// Bolt
	BoltPath string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// DynamoDB
	DynamoTablePrefix string
	DynamoEndpoint    string // non-empty to target a local/test endpoint
}
