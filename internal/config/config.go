// Package config parses the registry's declarative configuration
// document and selects the C2/C3 implementations it names.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// IndexType names the closed set of index manager implementations.
type IndexType string

const (
	IndexCommandLine IndexType = "command-line"
	IndexCLI         IndexType = "cli"
	IndexGit2        IndexType = "git2"
)

// StorageType names the closed set of storage manager implementations.
type StorageType string

const (
	StorageDisk StorageType = "disk"
	StorageS3   StorageType = "s3"
)

// MemoryDatabaseURL is the sentinel database.url value selecting the
// ephemeral in-memory catalog database.
const MemoryDatabaseURL = ":memory:"

// Config is the decoded top-level configuration document.
type Config struct {
	General  GeneralConfig  `toml:"general"`
	Database DatabaseConfig `toml:"database"`
	Index    IndexConfig    `toml:"index"`
	Storage  StorageConfig  `toml:"storage"`
	Syntect  SyntectConfig  `toml:"syntect"`
	Frontend FrontendConfig `toml:"frontend"`
}

// GeneralConfig holds deployment-wide settings.
type GeneralConfig struct {
	Addr                 string `toml:"addr"`
	MaxUploadMetadata    int64  `toml:"max_upload_metadata_bytes"`
	MaxUploadArchive     int64  `toml:"max_upload_archive_bytes"`
	MaxConcurrentPublish int    `toml:"max_concurrent_publish"`
}

// DatabaseConfig configures the catalog database connection.
type DatabaseConfig struct {
	URL            string `toml:"url"`
	MaxConnections int32  `toml:"max_connections"`
}

// IndexConfig selects and configures the index manager.
type IndexConfig struct {
	Type   IndexType `toml:"type"`
	Path   string    `toml:"path"`
	Remote string    `toml:"remote"`
}

// StorageConfig selects and configures the storage manager.
type StorageConfig struct {
	Type      StorageType `toml:"type"`
	Path      string      `toml:"path"`
	Region    string      `toml:"region"`
	Bucket    string      `toml:"bucket"`
	KeyPrefix string      `toml:"key_prefix"`
	Endpoint  string      `toml:"endpoint"`
}

// SyntectConfig configures the syntax-highlighting collaborator used
// when rendering README source blocks. Treated as an external
// collaborator; only its dump-file location lives here.
type SyntectConfig struct {
	DumpPath string `toml:"dump_path"`
}

// FrontendConfig configures the optional web UI. Out of scope for
// this module beyond knowing whether it's enabled.
type FrontendConfig struct {
	Enabled bool `toml:"enabled"`
}

// Error reports a problem decoding or validating the configuration
// document, naming the offending field path.
type Error struct {
	Field string
	Value string
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s (got %q)", e.Field, e.Msg, e.Value)
}

// Load reads and validates the configuration document at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes and validates a configuration document already in
// memory.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	// AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY are the only recognized
	// environment overrides, and the object-store credential chain
	// (internal/storage/objectstore) reads them directly via the AWS
	// SDK's default chain, so there's nothing to copy into Config here.
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Index.Type {
	case IndexCommandLine, IndexCLI, IndexGit2:
	default:
		return &Error{Field: "index.type", Value: string(c.Index.Type), Msg: "unrecognized index type"}
	}
	switch c.Storage.Type {
	case StorageDisk, StorageS3:
	default:
		return &Error{Field: "storage.type", Value: string(c.Storage.Type), Msg: "unrecognized storage type"}
	}
	if c.General.MaxConcurrentPublish <= 0 {
		c.General.MaxConcurrentPublish = 8
	}
	if c.General.MaxUploadMetadata <= 0 {
		c.General.MaxUploadMetadata = 10 << 20 // 10 MiB
	}
	if c.General.MaxUploadArchive <= 0 {
		c.General.MaxUploadArchive = 512 << 20 // 512 MiB
	}
	return nil
}

// IsEphemeral reports whether the database config selects the
// in-memory driver rather than a real Postgres connection.
func (d DatabaseConfig) IsEphemeral() bool {
	return d.URL == MemoryDatabaseURL
}
