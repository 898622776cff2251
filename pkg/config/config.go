// Package config loads and validates registryd's configuration: a YAML
// file overlaid with environment variables, unmarshalled into a typed
// Config struct. It follows the teacher config package's LoadOptions
// naming convention, but reads YAML via github.com/spf13/viper instead
// of CUE, since this repository's configuration is operational settings
// rather than a schema-validated repo/project description.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/forgecrate/registry/pkg/registryerrors"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr"`
	DownloadPath string        `mapstructure:"download_path"` // dl template advertised in config.json
	APIPath      string        `mapstructure:"api_path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// IndexConfig configures the git index working copy.
type IndexConfig struct {
	RemoteURL      string        `mapstructure:"remote_url"`
	WorkDir        string        `mapstructure:"work_dir"`
	Branch         string        `mapstructure:"branch"`
	MaxRetries     int           `mapstructure:"max_retries"`
	GitTimeout     time.Duration `mapstructure:"git_timeout"` // bounds each fetch/push round trip; defaults to indexrepo.DefaultGitTimeout
	AuthorName     string        `mapstructure:"author_name"`
	AuthorEmail    string        `mapstructure:"author_email"`
	CredentialMode string        `mapstructure:"credential_mode"` // "https_basic" or "ssh_key"

	// HTTPS basic auth
	HTTPSUsername string `mapstructure:"https_username"`
	HTTPSPassword string `mapstructure:"https_password"`

	// SSH key auth
	SSHKeyPath    string `mapstructure:"ssh_key_path"`
	SSHPassphrase string `mapstructure:"ssh_passphrase"`
}

// BlobStoreConfig configures the filesystem content-addressed store.
// Base is the directory the vfs.Filesystem is rooted at; Root and
// MirrorRoot are sibling subdirectories within it (pkg/blobstore.New's
// root/mirrorRoot), so both trees live under one storage volume.
type BlobStoreConfig struct {
	Base       string `mapstructure:"base"`
	Root       string `mapstructure:"root"`
	MirrorRoot string `mapstructure:"mirror_root"`
}

// AuthConfig configures password hashing (SPEC_FULL.md §4.4a).
type AuthConfig struct {
	ArgonTime        uint32 `mapstructure:"argon_time"`
	ArgonMemoryKiB   uint32 `mapstructure:"argon_memory_kib"`
	ArgonParallelism uint8  `mapstructure:"argon_parallelism"`
}

// MetastoreConfig selects and parameterizes a metastore.Store driver.
type MetastoreConfig struct {
	Driver string `mapstructure:"driver"` // "bolt", "redis", "dynamodb"

	BoltPath string `mapstructure:"bolt_path"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	DynamoTablePrefix string `mapstructure:"dynamo_table_prefix"`
	DynamoEndpoint    string `mapstructure:"dynamo_endpoint"`
}

// MirrorConfig configures the optional read-through upstream cache.
type MirrorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	IndexBaseURL    string        `mapstructure:"index_base_url"`
	DownloadBaseURL string        `mapstructure:"download_base_url"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Config is registryd's complete configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Index     IndexConfig     `mapstructure:"index"`
	BlobStore BlobStoreConfig `mapstructure:"blob_store"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Metastore MetastoreConfig `mapstructure:"metastore"`
	Mirror    MirrorConfig    `mapstructure:"mirror"`
	Log       LogConfig       `mapstructure:"log"`
}

// LoadOptions configures the behavior of Load.
type LoadOptions struct {
	// SkipValidation disables Config.Validate after unmarshalling,
	// mirroring the teacher config package's escape hatch for tooling
	// that wants the raw, possibly-incomplete settings.
	SkipValidation bool

	// EnvPrefix is the prefix environment variables must carry to
	// overlay the file (e.g. "REGISTRYD" for REGISTRYD_SERVER_LISTEN_ADDR).
	// Defaults to "REGISTRYD".
	EnvPrefix string
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.download_path", "/api/v1/crates")
	v.SetDefault("server.api_path", "/api/v1")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("index.branch", "main")
	v.SetDefault("index.max_retries", 5)
	v.SetDefault("index.git_timeout", 30*time.Second)
	v.SetDefault("index.author_name", "registryd")
	v.SetDefault("index.author_email", "registryd@localhost")
	v.SetDefault("index.credential_mode", "https_basic")

	v.SetDefault("blob_store.base", "data")
	v.SetDefault("blob_store.root", "blobs")
	v.SetDefault("blob_store.mirror_root", "mirror")

	v.SetDefault("auth.argon_time", 1)
	v.SetDefault("auth.argon_memory_kib", 64*1024)
	v.SetDefault("auth.argon_parallelism", 4)

	v.SetDefault("metastore.driver", "bolt")
	v.SetDefault("metastore.bolt_path", "registry-meta.db")
	v.SetDefault("metastore.redis_db", 0)

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.fetch_timeout", 60*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", true)
}

// bindEnv explicitly binds every settable key so environment overrides
// reach Unmarshal: viper's AutomaticEnv only affects Get lookups, not
// the settings tree Unmarshal decodes from, unless each key is bound.
func bindEnv(v *viper.Viper) {
	keys := []string{
		"server.listen_addr", "server.download_path", "server.api_path",
		"server.read_timeout", "server.write_timeout",
		"index.remote_url", "index.work_dir", "index.branch", "index.max_retries", "index.git_timeout",
		"index.author_name", "index.author_email", "index.credential_mode",
		"index.https_username", "index.https_password",
		"index.ssh_key_path", "index.ssh_passphrase",
		"blob_store.base", "blob_store.root", "blob_store.mirror_root",
		"auth.argon_time", "auth.argon_memory_kib", "auth.argon_parallelism",
		"metastore.driver", "metastore.bolt_path",
		"metastore.redis_addr", "metastore.redis_password", "metastore.redis_db",
		"metastore.dynamo_table_prefix", "metastore.dynamo_endpoint",
		"mirror.enabled", "mirror.index_base_url", "mirror.download_base_url", "mirror.fetch_timeout",
		"log.level", "log.json",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// Load reads path (YAML) overlaid with REGISTRYD_-prefixed environment
// variables, and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions is Load with LoadOptions control over validation and
// the environment variable prefix.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "REGISTRYD"
	}

	v := viper.New()
	applyDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, registryerrors.Wrap(registryerrors.Internal, fmt.Sprintf("read config %q", path), err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, registryerrors.Wrap(registryerrors.Internal, "unmarshal config", err)
	}

	if !opts.SkipValidation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Validate checks the fields Load cannot leave to defaults: anything
// with no sane zero value. Hand-rolled rather than struct tags, since
// no validator library is wired into this repository's dependency set
// (see DESIGN.md).
func (c *Config) Validate() error {
	if c.Index.RemoteURL == "" {
		return registryerrors.New(registryerrors.Internal, "index.remote_url is required")
	}
	if c.Index.WorkDir == "" {
		return registryerrors.New(registryerrors.Internal, "index.work_dir is required")
	}
	switch c.Index.CredentialMode {
	case "https_basic":
		if c.Index.HTTPSUsername == "" {
			return registryerrors.New(registryerrors.Internal, "index.https_username is required for credential_mode=https_basic")
		}
	case "ssh_key":
		if c.Index.SSHKeyPath == "" {
			return registryerrors.New(registryerrors.Internal, "index.ssh_key_path is required for credential_mode=ssh_key")
		}
	default:
		return registryerrors.New(registryerrors.Internal,
			fmt.Sprintf("index.credential_mode %q is not one of https_basic, ssh_key", c.Index.CredentialMode))
	}

	switch c.Metastore.Driver {
	case "bolt":
		if c.Metastore.BoltPath == "" {
			return registryerrors.New(registryerrors.Internal, "metastore.bolt_path is required for driver=bolt")
		}
	case "redis":
		if c.Metastore.RedisAddr == "" {
			return registryerrors.New(registryerrors.Internal, "metastore.redis_addr is required for driver=redis")
		}
	case "dynamodb":
		if c.Metastore.DynamoTablePrefix == "" {
			return registryerrors.New(registryerrors.Internal, "metastore.dynamo_table_prefix is required for driver=dynamodb")
		}
	default:
		return registryerrors.New(registryerrors.Internal,
			fmt.Sprintf("metastore.driver %q is not one of bolt, redis, dynamodb", c.Metastore.Driver))
	}

	return nil
}
