package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for drive.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // debug, info, warn or error
	Storage    StorageConfig    `toml:"storage"`
	Database   DatabaseConfig   `toml:"database"`
	Server     ServerConfig     `toml:"server"`
	Thumbnails ThumbnailConfig  `toml:"thumbnails"`
	Lock       LockConfig       `toml:"lock"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// StorageConfig locates the physical trees.
type StorageConfig struct {
	Root          string   `toml:"root"`           // <root>/<owner>/<relative path>
	ThumbnailRoot string   `toml:"thumbnail_root"` // <thumbnail_root>/<owner>/th_<stem>.jpg
	Reserved      []string `toml:"reserved"`       // extra name patterns nodes may not use
}

// DatabaseConfig represents configuration for the metadata database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type        string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir     string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN         string `toml:"dsn,omitempty"`      // only used for type=postgres
	AutoMigrate bool   `toml:"auto_migrate"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string   `toml:"addr"`
	BaseURL     string   `toml:"base_url"`
	CORSOrigins []string `toml:"cors_origins"`
	// Identity is established by an upstream authentication proxy and
	// passed in these headers.
	OwnerHeader string `toml:"owner_header"`
	RoleHeader  string `toml:"role_header"`
	// UserRoles may use the drive; AdminRoles may also read the journal and
	// other owners' thumbnails.
	UserRoles  []string `toml:"user_roles"`
	AdminRoles []string `toml:"admin_roles"`
}

// ThumbnailConfig configures thumbnail generation.
type ThumbnailConfig struct {
	Size           int    `toml:"size"`    // bounding box edge in pixels
	Quality        int    `toml:"quality"` // JPEG quality 1-100
	DefaultIconURL string `toml:"default_icon_url"`
}

// LockConfig selects how per-owner operations are serialized.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type LockConfig struct {
	Type          string `toml:"type"` // "memory" or "redis"
	RedisAddr     string `toml:"redis_addr,omitempty"`
	RedisPassword string `toml:"redis_password,omitempty"`
	TTLSeconds    int    `toml:"ttl_seconds,omitempty"`
	Retries       int    `toml:"retries,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to encrypt metadata snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for a snapshot vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible servers; implies path-style addressing
	// Static credentials. When empty the default AWS credential chain is used.
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Storage: StorageConfig{
			Root:          filepath.Join(baseDir, "files"),
			ThumbnailRoot: filepath.Join(baseDir, "thumbnails"),
		},
		Database: DatabaseConfig{
			Type:        "sqlite",
			DataDir:     filepath.Join(baseDir, "db"),
			AutoMigrate: true,
		},
		Server: ServerConfig{
			Addr:        "127.0.0.1:8080",
			BaseURL:     "http://127.0.0.1:8080",
			OwnerHeader: "X-Drive-Owner",
			RoleHeader:  "X-Drive-Role",
			UserRoles:   []string{"user", "admin"},
			AdminRoles:  []string{"admin"},
		},
		Thumbnails: ThumbnailConfig{
			Size:    100,
			Quality: 80,
		},
		Lock: LockConfig{Type: "memory"},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "drive.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "drive.key"),
		},
	}
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.Storage.ThumbnailRoot == "" {
		return fmt.Errorf("storage.thumbnail_root is required")
	}
	if c.Storage.Root == c.Storage.ThumbnailRoot {
		return fmt.Errorf("storage.root and storage.thumbnail_root must differ")
	}
	if c.Thumbnails.Size < 0 {
		return fmt.Errorf("thumbnails.size must not be negative")
	}
	if c.Thumbnails.Quality < 0 || c.Thumbnails.Quality > 100 {
		return fmt.Errorf("thumbnails.quality must be between 1 and 100")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
