// Package domain holds the plain data structures shared across the
// registry's components. It has no dependencies beyond the standard
// library and no behavior beyond the enums' String() and DepKind.Valid():
// constructors, request validation, and persistence all live in the
// packages that consume these types.
package domain

// Dependency is one entry of an index entry's deps list.
type Dependency struct {
	Name            string   `json:"name"`
	Req             string   `json:"req"`
	Features        []string `json:"features,omitempty"`
	DefaultFeatures bool     `json:"default_features"`
	Kind            DepKind  `json:"kind"`
	Registry        string   `json:"registry,omitempty"`
	Package         string   `json:"package,omitempty"`
	Target          string   `json:"target,omitempty"`
}

// IndexEntry is one version line of a package's index file.
type IndexEntry struct {
	Name     string              `json:"name"`
	Vers     string              `json:"vers"`
	Deps     []Dependency        `json:"deps"`
	Cksum    string              `json:"cksum"`
	Features map[string][]string `json:"features"`
	Yanked   bool                `json:"yanked"`
	Links    string              `json:"links,omitempty"`
}

// Package is the aggregate view of a name used by search results: its
// known entries plus the derived summary fields the protocol expects.
type Package struct {
	Name           string
	Entries        []IndexEntry
	LatestVersion  string
	Description    string
	TotalDownloads int64
}

// User is a registered account.
type User struct {
	ID           int64  `json:"id"`
	Login        string `json:"login"`
	PasswordHash string `json:"password_hash"`
	TokenHash    string `json:"token_hash"`
}

// Ownership is the set of user IDs permitted to publish/yank/manage a
// package name.
type Ownership struct {
	Name    string
	UserIDs map[int64]struct{}
}

// MirrorEntry records a cached upstream tarball.
type MirrorEntry struct {
	Name      string `json:"name"`
	Vers      string `json:"vers"`
	BlobPath  string `json:"blob_path"`
	Cksum     string `json:"cksum"`
	CachedAt  int64  `json:"cached_at"`
}

// AuditEntry is a supplemental, non-persisted record of a mutating
// operation, emitted as a structured log line.
type AuditEntry struct {
	Timestamp int64  `json:"timestamp"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	Package   string `json:"package"`
	Result    string `json:"result"`
}
