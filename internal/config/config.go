// Package config loads undofile configuration from files, environment
// variables, and defaults, in that order of increasing precedence for the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved undofile configuration.
type Config struct {
	// StateDir is the root directory for trees, sessions, and blobs.
	StateDir string `mapstructure:"state_dir"`

	// Enabled controls undo-file participation for saves.
	Enabled bool `mapstructure:"enabled"`

	// BackupSuffix marks backup copies of replaced files.
	BackupSuffix string `mapstructure:"backup_suffix"`

	// CachePath is the SQLite cache database location.
	CachePath string `mapstructure:"cache_path"`

	// LogFile, when set, routes daemon logs to a rotated file instead of
	// stderr.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB is the rotation threshold for LogFile.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`

	// LogMaxBackups is how many rotated log files to keep.
	LogMaxBackups int `mapstructure:"log_max_backups"`
}

// Load reads configuration from undofile.yaml in /etc/undofile,
// ~/.config/undofile, and the working directory, overlaid by UNDOFILE_*
// environment variables. A missing config file is not an error; defaults
// apply.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("undofile")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/undofile")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "undofile"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("UNDOFILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.CachePath == "" {
		cfg.CachePath = filepath.Join(cfg.StateDir, "undofile-cache.db")
	}

	return &cfg, nil
}

// SetEnabled persists the undo-file feature flag in the user's config
// file, creating it if needed. Only the flag changes; every other key in
// the file is preserved.
func SetEnabled(enabled bool) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to locate home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "undofile")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("undofile")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.Set("enabled", enabled)
	if err := v.WriteConfigAs(filepath.Join(dir, "undofile.yaml")); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", defaultStateDir())
	v.SetDefault("enabled", true)
	v.SetDefault("backup_suffix", ".orig")
	v.SetDefault("cache_path", "")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 10)
	v.SetDefault("log_max_backups", 3)
}

// defaultStateDir follows XDG data conventions with a plain home fallback.
func defaultStateDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "undofile")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".undofile"
	}
	return filepath.Join(home, ".local", "share", "undofile")
}
