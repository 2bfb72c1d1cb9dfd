package app

import (
	"fmt"
	"os"
	"path/filepath"

	"hoard-go/internal/config"
)

// Environment variables that override the default locations.
const (
	EnvConfigPath = "HOARD_CONFIG_PATH"
	EnvHome       = "HOARD_HOME"
	EnvStore      = "HOARD_STORE"
	EnvMirror     = "HOARD_MIRROR"
)

// Paths are the locations hoard uses when the config does not name them.
type Paths struct {
	ConfigPath string
	// BaseDir holds logs, the history database and the secret key.
	BaseDir string
	// StoreDir is the backup store root. Defaults to BaseDir.
	StoreDir string
	// MirrorDir is a filesystem mirror root. Empty leaves the mirror disabled.
	MirrorDir string
}

// DefaultPaths resolves Paths from the environment, falling back to
// ~/.config/hoard.toml and ~/.local/share/hoard.
func DefaultPaths() (Paths, error) {
	var p Paths
	var home string
	homeDir := func() (string, error) {
		if home != "" {
			return home, nil
		}
		h, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		home = h
		return home, nil
	}

	if p.ConfigPath = os.Getenv(EnvConfigPath); p.ConfigPath == "" {
		h, err := homeDir()
		if err != nil {
			return Paths{}, err
		}
		p.ConfigPath = filepath.Join(h, ".config", "hoard.toml")
	}
	if p.BaseDir = os.Getenv(EnvHome); p.BaseDir == "" {
		h, err := homeDir()
		if err != nil {
			return Paths{}, err
		}
		p.BaseDir = filepath.Join(h, ".local", "share", "hoard")
	}
	if p.StoreDir = os.Getenv(EnvStore); p.StoreDir == "" {
		p.StoreDir = p.BaseDir
	}
	p.MirrorDir = os.Getenv(EnvMirror)
	return p, nil
}

// LogDir is where hoard.log is written.
func (p Paths) LogDir() string { return filepath.Join(p.BaseDir, "logs") }

// HistoryDir holds the operation history database.
func (p Paths) HistoryDir() string { return filepath.Join(p.BaseDir, "db") }

// NewConfig returns a fresh config rooted at these paths, as written by
// config init.
func (p Paths) NewConfig() *config.Config {
	cfg := &config.Config{BaseDir: p.BaseDir}
	cfg.LogDir = p.LogDir()
	cfg.Storage.LocalRoot = p.StoreDir
	cfg.History.DataDir = p.HistoryDir()
	if p.MirrorDir != "" {
		cfg.Mirror = config.MirrorConfig{Type: "filesystem", Root: p.MirrorDir}
	}
	return config.WithDefaults(cfg)
}
