package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"hoard-go/internal/retention"
)

// Config represents the main configuration for hoard.
type Config struct {
	BaseDir     string `toml:"base_dir"`
	LogDir      string `toml:"log_dir"`
	CatalogPath string `toml:"catalog_path,omitempty"`

	Storage   StorageConfig   `toml:"storage"`
	Mirror    MirrorConfig    `toml:"mirror"`
	System    SystemConfig    `toml:"system"`
	Timeouts  TimeoutConfig   `toml:"timeouts"`
	Retention RetentionConfig `toml:"retention"`
	MySQL     MySQLConfig     `toml:"mysql"`
	Secret    SecretConfig    `toml:"secret"`
	History   HistoryConfig   `toml:"history"`

	// GlobalExclude applies to every project in full and incremental mode.
	GlobalExclude []string `toml:"global_exclude"`
	// CompleteExclude lists the archive patterns skipped in complete mode.
	CompleteExclude []string `toml:"complete_exclude,omitempty"`

	Projects  []ProjectConfig  `toml:"projects"`
	Databases []DatabaseConfig `toml:"databases"`
}

// StorageConfig locates the primary backup store.
type StorageConfig struct {
	LocalRoot string `toml:"local_root"`
	// MinDatabaseSpaceMB is the free space required before a database dump.
	MinDatabaseSpaceMB int `toml:"min_database_space_mb"`
}

// MirrorConfig represents configuration for the secondary copy of the store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MirrorConfig struct {
	Type string `toml:"type"` // "" (disabled), "filesystem", "s3" or "memory"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
	S3PathStyle bool   `toml:"s3_path_style,omitempty"`
}

// SystemConfig holds engine-wide settings.
type SystemConfig struct {
	MaxParallel int `toml:"max_parallel"`
}

// Duration is a time.Duration written as a string such as "30m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// TimeoutConfig bounds each external tool invocation.
type TimeoutConfig struct {
	MySQLDump    Duration `toml:"mysqldump"`
	MySQLRestore Duration `toml:"mysql_restore"`
	GitBundle    Duration `toml:"git_bundle"`
	GitClone     Duration `toml:"git_clone"`
	GitVerify    Duration `toml:"git_verify"`
}

// RetentionConfig is the default tier set applied to every item.
type RetentionConfig struct {
	Tiers []retention.Tier `toml:"tiers"`
	// PreserveTagged defaults to true when unset.
	PreserveTagged *bool `toml:"preserve_tagged,omitempty"`
	ArchiveFloor   *int  `toml:"archive_floor,omitempty"`
}

// Policy resolves the configured tiers into a retention.Policy.
func (c RetentionConfig) Policy() retention.Policy {
	p := retention.DefaultPolicy()
	if len(c.Tiers) > 0 {
		p.Tiers = c.Tiers
	}
	if c.PreserveTagged != nil {
		p.PreserveTagged = *c.PreserveTagged
	}
	if c.ArchiveFloor != nil {
		p.ArchiveFloor = *c.ArchiveFloor
	}
	return p
}

// MySQLConfig holds connection defaults shared by all databases.
type MySQLConfig struct {
	Host     string   `toml:"host"`
	Port     int      `toml:"port"`
	User     string   `toml:"user"`
	Password string   `toml:"password,omitempty"`
	Options  []string `toml:"options,omitempty"`
}

// SecretConfig locates the key used for "enc:" passwords.
type SecretConfig struct {
	Type    string `toml:"type"` // "age" (default) or "test"
	KeyPath string `toml:"key_path"`
}

// HistoryConfig represents configuration for the operation history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type HistoryConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ProjectConfig describes one project item.
type ProjectConfig struct {
	Name          string   `toml:"name" yaml:"name"`
	Path          string   `toml:"path" yaml:"path"`
	Exclude       []string `toml:"exclude,omitempty" yaml:"exclude,omitempty"`
	RetentionDays int      `toml:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	Enabled       *bool    `toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Databases     []string `toml:"databases,omitempty" yaml:"databases,omitempty"`
}

// IsEnabled reports whether the project takes part in backups. Items are
// enabled unless explicitly disabled.
func (p ProjectConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// DatabaseConfig describes one database item. Empty connection fields fall
// back to the [mysql] section.
type DatabaseConfig struct {
	Name          string   `toml:"name" yaml:"name"`
	Host          string   `toml:"host,omitempty" yaml:"host,omitempty"`
	Port          int      `toml:"port,omitempty" yaml:"port,omitempty"`
	User          string   `toml:"user,omitempty" yaml:"user,omitempty"`
	Password      string   `toml:"password,omitempty" yaml:"password,omitempty"`
	Options       []string `toml:"options,omitempty" yaml:"options,omitempty"`
	Compress      *bool    `toml:"compress,omitempty" yaml:"compress,omitempty"`
	RetentionDays int      `toml:"retention_days,omitempty" yaml:"retention_days,omitempty"`
	Enabled       *bool    `toml:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the database takes part in backups.
func (d DatabaseConfig) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

// ShouldCompress reports whether dumps are gzipped. Defaults to true.
func (d DatabaseConfig) ShouldCompress() bool { return d.Compress == nil || *d.Compress }

// NewConfig creates a new Config rooted at baseDir with default paths.
func NewConfig(baseDir string) *Config {
	return WithDefaults(&Config{BaseDir: baseDir})
}

// WithDefaults fills every unset field of cfg and returns it.
func WithDefaults(cfg *Config) *Config {
	cfg.applyDefaults()
	return cfg
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

// Load reads the config at path, merges the item catalog if one is
// configured, fills in defaults and validates the result.
func Load(path, baseDir string) (*Config, error) {
	cfg, err := ReadFromFile(path)
	if err != nil {
		return nil, err
	}
	if cfg.BaseDir == "" {
		cfg.BaseDir = baseDir
	}
	if cfg.CatalogPath != "" {
		cat, err := ReadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		cfg.Projects = append(cfg.Projects, cat.Projects...)
		cfg.Databases = append(cfg.Databases, cat.Databases...)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
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

// Save overwrites the config file at path.
func Save(path string, cfg *Config) error {
	return writeToFile(path, cfg)
}

// Default values.
const (
	DefaultMaxParallel        = 4
	DefaultMinDatabaseSpaceMB = 1024
	DefaultMySQLPort          = 3306
)

// DefaultTimeouts returns the per-tool time limits.
func DefaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		MySQLDump:    Duration{time.Hour},
		MySQLRestore: Duration{2 * time.Hour},
		GitBundle:    Duration{30 * time.Minute},
		GitClone:     Duration{30 * time.Minute},
		GitVerify:    Duration{5 * time.Minute},
	}
}

func (c *Config) applyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "logs")
	}
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = c.BaseDir
	}
	if c.Storage.MinDatabaseSpaceMB == 0 {
		c.Storage.MinDatabaseSpaceMB = DefaultMinDatabaseSpaceMB
	}
	if c.System.MaxParallel == 0 {
		c.System.MaxParallel = DefaultMaxParallel
	}

	def := DefaultTimeouts()
	for _, pair := range []struct{ dst, src *Duration }{
		{&c.Timeouts.MySQLDump, &def.MySQLDump},
		{&c.Timeouts.MySQLRestore, &def.MySQLRestore},
		{&c.Timeouts.GitBundle, &def.GitBundle},
		{&c.Timeouts.GitClone, &def.GitClone},
		{&c.Timeouts.GitVerify, &def.GitVerify},
	} {
		if pair.dst.Duration == 0 {
			*pair.dst = *pair.src
		}
	}

	if c.MySQL.Host == "" {
		c.MySQL.Host = "localhost"
	}
	if c.MySQL.Port == 0 {
		c.MySQL.Port = DefaultMySQLPort
	}
	if c.Secret.Type == "" {
		c.Secret.Type = "age"
	}
	if c.Secret.KeyPath == "" && c.BaseDir != "" {
		c.Secret.KeyPath = filepath.Join(c.BaseDir, "keys", "hoard.key")
	}
	if c.History.Type == "" {
		c.History.Type = "sqlite"
	}
	if c.History.DataDir == "" && c.BaseDir != "" {
		c.History.DataDir = filepath.Join(c.BaseDir, "db")
	}

	for i := range c.Databases {
		d := &c.Databases[i]
		if d.Host == "" {
			d.Host = c.MySQL.Host
		}
		if d.Port == 0 {
			d.Port = c.MySQL.Port
		}
		if d.User == "" {
			d.User = c.MySQL.User
		}
		if d.Password == "" {
			d.Password = c.MySQL.Password
		}
		if len(d.Options) == 0 {
			d.Options = c.MySQL.Options
		}
	}
}
