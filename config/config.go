package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultUserAgent       = "modkeeper/dev (unknown-user)"
	defaultDownloadTimeout = 60
	defaultConcurrency     = 4
	defaultWatchInterval   = 24
)

// Config holds all configuration for the application.
// Values are loaded by Viper from a config file and/or environment variables.
type Config struct {
	MinecraftInstallationType string `mapstructure:"MINECRAFT_INSTALLATION_TYPE"`
	MinecraftLoader           string `mapstructure:"MINECRAFT_LOADER"`
	MinecraftVersion          string `mapstructure:"MINECRAFT_VERSION"`
	ModrinthAPIKey            string `mapstructure:"MODRINTH_API_KEY"`
	UserAgent                 string `mapstructure:"USERAGENT"`
	MinecraftDir              string `mapstructure:"MINECRAFT_DIR"`
	DataDir                   string `mapstructure:"DATA_DIR"`
	LogFile                   string `mapstructure:"LOG_FILE"`
	WatchIntervalHours        int    `mapstructure:"WATCH_INTERVAL_HOURS"`
	DownloadTimeoutSeconds    int    `mapstructure:"DOWNLOAD_TIMEOUT_SECONDS"`
	UpdateConcurrency         int    `mapstructure:"UPDATE_CONCURRENCY"`
	StableOnly                bool   `mapstructure:"STABLE_ONLY"`
	WatchIncompatible         bool   `mapstructure:"WATCH_INCOMPATIBLE"`
	DatabasePath              string `mapstructure:"-"` // Not from env, derived
}

var envKeys = []string{
	"MINECRAFT_INSTALLATION_TYPE",
	"MINECRAFT_LOADER",
	"MINECRAFT_VERSION",
	"MODRINTH_API_KEY",
	"USERAGENT",
	"MINECRAFT_DIR",
	"DATA_DIR",
	"LOG_FILE",
	"WATCH_INTERVAL_HOURS",
	"DOWNLOAD_TIMEOUT_SECONDS",
	"UPDATE_CONCURRENCY",
	"STABLE_ONLY",
	"WATCH_INCOMPATIBLE",
}

// LoadConfig reads configuration from a .env file in path and environment variables.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		slog.Info("Config file (.env) not found, relying on environment variables.")
	} else if err != nil {
		return Config{}, fmt.Errorf("fatal error config file: %w", err)
	}

	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			slog.Warn("Unable to bind env var", "key", key, "error", err)
		}
	}
	// Booleans cannot be defaulted after unmarshal.
	v.SetDefault("STABLE_ONLY", false)
	v.SetDefault("WATCH_INCOMPATIBLE", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %w", err)
	}

	processConfigDefaults(&cfg)
	if err := validateAndEnsureDirectories(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// processConfigDefaults fills in every unset value that has a default.
func processConfigDefaults(cfg *Config) {
	if cfg.MinecraftLoader == "" {
		cfg.MinecraftLoader = "fabric"
	}
	if cfg.MinecraftInstallationType == "" {
		cfg.MinecraftInstallationType = "server"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
		slog.Warn("USERAGENT not set in config or environment, using default.")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "modkeeper.log"
	}
	if cfg.WatchIntervalHours == 0 {
		cfg.WatchIntervalHours = defaultWatchInterval
	}
	if cfg.DownloadTimeoutSeconds <= 0 {
		cfg.DownloadTimeoutSeconds = defaultDownloadTimeout
	}
	if cfg.UpdateConcurrency <= 0 {
		cfg.UpdateConcurrency = defaultConcurrency
	}
}

// validateAndEnsureDirectories checks required values and creates the game
// subdirectories and the data directory.
func validateAndEnsureDirectories(cfg *Config) error {
	if cfg.MinecraftDir == "" {
		slog.Error("MINECRAFT_DIR is not set")
		return fmt.Errorf("MINECRAFT_DIR is required")
	}
	switch cfg.MinecraftInstallationType {
	case "client", "server", "both":
	default:
		return fmt.Errorf("MINECRAFT_INSTALLATION_TYPE must be client, server or both, got %q", cfg.MinecraftInstallationType)
	}
	if cfg.WatchIntervalHours != 12 && cfg.WatchIntervalHours != 24 {
		return fmt.Errorf("WATCH_INTERVAL_HOURS must be 12 or 24, got %d", cfg.WatchIntervalHours)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(cfg.MinecraftDir, ".modkeeper")
	}

	dirs := []string{
		cfg.MinecraftDir,
		filepath.Join(cfg.MinecraftDir, "mods"),
		filepath.Join(cfg.MinecraftDir, "shaderpacks"),
		filepath.Join(cfg.MinecraftDir, "resourcepacks"),
		cfg.DataDir,
	}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			slog.Info("Directory does not exist, creating it", "path", dir)
			if err := os.MkdirAll(dir, 0755); err != nil {
				slog.Error("Failed to create directory", "path", dir, "error", err)
				return err
			}
		} else if err != nil {
			slog.Error("Failed to check directory", "path", dir, "error", err)
			return err
		}
	}

	cfg.DatabasePath = filepath.Join(cfg.DataDir, "modkeeper.db")
	return nil
}

// RequireGameVersion reports an error when no game version is configured.
func (c Config) RequireGameVersion() error {
	if c.MinecraftVersion == "" || c.MinecraftLoader == "" {
		return fmt.Errorf("MINECRAFT_VERSION and MINECRAFT_LOADER must be set")
	}
	return nil
}

// ModsDir is the directory mods are installed to.
func (c Config) ModsDir() string {
	return filepath.Join(c.MinecraftDir, "mods")
}

// DownloadTimeout is the hard ceiling on one artifact download.
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// WatchInterval is the heavy-check interval of the availability watcher.
func (c Config) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalHours) * time.Hour
}
